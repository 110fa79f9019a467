package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type StorageCfg struct {
	Backend string // hdfs, s3 or local

	HDFSHost string
	HDFSPort int
	HDFSUser string

	S3Region    string
	S3Endpoint  string
	S3Bucket    string
	S3PathStyle bool

	LocalRoot string
}

type CacheCfg struct {
	Driver    string // none, lru, redis or tiered
	LRUSize   int
	TTL       time.Duration
	RedisAddr string
	OpTimeout time.Duration
}

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr         string
	LogLevel     string
	LogConsole   bool
	LogSampleN   int
	Schema       string
	APIURL       string
	FetchTimeout time.Duration
	Storage      StorageCfg
	Cache        CacheCfg
	Invalidation InvalidationCfg
	Metrics      MetricsCfg
}

// fileConfig mirrors the keys of the deployment config.yml.
type fileConfig struct {
	HDFS     string `yaml:"HDFS"`
	HDFSPort int    `yaml:"HDFSPORT"`
	HDFSUser string `yaml:"HDFSUSER"`
	APIURL   string `yaml:"APIURL"`
	Port     int    `yaml:"PORT"`
}

// Load reads the optional YAML file named by CUTOUT_CONFIG and then applies
// the environment on top of it.
func Load() (Config, error) {
	var fc fileConfig
	if p := strings.TrimSpace(os.Getenv("CUTOUT_CONFIG")); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", p, err)
		}
	}
	cfg := fromEnv(fc)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds the configuration from the environment only.
func FromEnv() Config {
	return fromEnv(fileConfig{})
}

func fromEnv(fc fileConfig) Config {
	addr := ":8090"
	if fc.Port > 0 {
		addr = ":" + strconv.Itoa(fc.Port)
	}
	hdfsHost := "localhost"
	if fc.HDFS != "" {
		hdfsHost = fc.HDFS
	}
	hdfsPort := 8020
	if fc.HDFSPort > 0 {
		hdfsPort = fc.HDFSPort
	}
	hdfsUser := fc.HDFSUser
	if hdfsUser == "" {
		hdfsUser = "hdfs"
	}
	apiURL := fc.APIURL
	if apiURL == "" {
		apiURL = "http://localhost" + addr
	}

	return Config{
		Addr:         getenv("ADDR", addr),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogConsole:   getbool("LOG_CONSOLE", false),
		LogSampleN:   getint("LOG_SAMPLE_N", 0),
		Schema:       strings.ToLower(getenv("CUTOUT_SCHEMA", "ztf")),
		APIURL:       getenv("APIURL", apiURL),
		FetchTimeout: getduration("CUTOUT_FETCH_TIMEOUT", 30*time.Second),
		Storage: StorageCfg{
			Backend:     strings.ToLower(getenv("STORAGE_BACKEND", "hdfs")),
			HDFSHost:    getenv("HDFS_HOST", hdfsHost),
			HDFSPort:    getint("HDFS_PORT", hdfsPort),
			HDFSUser:    getenv("HDFS_USER", hdfsUser),
			S3Region:    getenv("S3_REGION", "us-east-1"),
			S3Endpoint:  getenv("S3_ENDPOINT", ""),
			S3Bucket:    getenv("S3_BUCKET", ""),
			S3PathStyle: getbool("S3_PATH_STYLE", false),
			LocalRoot:   getenv("LOCAL_ROOT", "."),
		},
		Cache: CacheCfg{
			Driver:    strings.ToLower(getenv("CACHE_DRIVER", "lru")),
			LRUSize:   getint("CACHE_LRU_SIZE", 4096),
			TTL:       getduration("CACHE_TTL", 10*time.Minute),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "cutout-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "cutout-cache-invalidator"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", true),
			Addr:    getenv("METRICS_ADDR", ""),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func (c Config) Validate() error {
	switch c.Schema {
	case "ztf", "lsst":
	default:
		return fmt.Errorf("CUTOUT_SCHEMA must be ztf or lsst (got %q)", c.Schema)
	}
	switch c.Storage.Backend {
	case "hdfs", "local":
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required with STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be hdfs, s3 or local (got %q)", c.Storage.Backend)
	}
	switch c.Cache.Driver {
	case "none", "lru", "redis", "tiered":
	default:
		return fmt.Errorf("CACHE_DRIVER must be none, lru, redis or tiered (got %q)", c.Cache.Driver)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("CUTOUT_FETCH_TIMEOUT must be positive")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
