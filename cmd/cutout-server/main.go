package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/cutout-service/internal/cache"
	"github.com/mohammed-shakir/cutout-service/internal/cache/lrustore"
	"github.com/mohammed-shakir/cutout-service/internal/cache/redisstore"
	"github.com/mohammed-shakir/cutout-service/internal/core/config"
	"github.com/mohammed-shakir/cutout-service/internal/core/health"
	"github.com/mohammed-shakir/cutout-service/internal/core/observability"
	"github.com/mohammed-shakir/cutout-service/internal/core/server"
	"github.com/mohammed-shakir/cutout-service/internal/datalake"
	"github.com/mohammed-shakir/cutout-service/internal/datalake/hdfsfs"
	"github.com/mohammed-shakir/cutout-service/internal/datalake/localfs"
	"github.com/mohammed-shakir/cutout-service/internal/datalake/s3fs"
	"github.com/mohammed-shakir/cutout-service/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/cutout-service/internal/logger"
	"github.com/mohammed-shakir/cutout-service/internal/metrics"
	"github.com/mohammed-shakir/cutout-service/internal/pipeline"
	"github.com/mohammed-shakir/cutout-service/internal/schema"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "cutout-service",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	slog.SetDefault(appLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), cfg.Metrics.Enabled)
	observability.ExposeBuildInfo(Version)
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		serveMetrics(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, p.Handler())
	}

	appLog.Info("starting cutout service",
		"addr", cfg.Addr,
		"version", Version,
		"schema", cfg.Schema,
		"storage", cfg.Storage.Backend,
		"cache", cfg.Cache.Driver)

	fs, closeFS, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		appLog.Error("storage setup failed", "backend", cfg.Storage.Backend, "err", err)
		return 1
	}
	defer closeFS()

	c, ready, err := openCache(ctx, cfg.Cache)
	if err != nil {
		appLog.Error("cache setup failed", "driver", cfg.Cache.Driver, "err", err)
		return 1
	}
	defer func() { _ = c.Close() }()

	if cfg.Invalidation.Enabled {
		kc := kafkaconsumer.FromEnv()
		kc.Brokers = kafkaconsumer.SplitCSV(cfg.Invalidation.Brokers)
		kc.Topic = cfg.Invalidation.Topic
		kc.GroupID = cfg.Invalidation.GroupID
		kc.OpTimeout = max(kc.OpTimeout, cfg.Cache.OpTimeout)
		schemas := make([]string, 0, 2)
		for _, k := range schema.Kinds() {
			schemas = append(schemas, string(k))
		}
		cons := kafkaconsumer.New(kc, appLog, c, schemas)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	pl := pipeline.New(datalake.NewReader(fs, appLog), pipeline.Options{
		Cache:          c,
		CacheTTL:       cfg.Cache.TTL,
		CacheOpTimeout: cfg.Cache.OpTimeout,
		FetchTimeout:   cfg.FetchTimeout,
		Logger:         appLog,
	})

	deps := server.Deps{
		Retriever: pl,
		Ready:     append([]health.Pinger{fs}, ready...),
		Metrics:   p.Handler(),
	}
	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func openStorage(ctx context.Context, sc config.StorageCfg) (datalake.FileSystem, func(), error) {
	noop := func() {}
	switch sc.Backend {
	case "hdfs":
		fs, err := hdfsfs.New(hdfsfs.Config{Host: sc.HDFSHost, Port: sc.HDFSPort, User: sc.HDFSUser})
		if err != nil {
			return nil, noop, err
		}
		return fs, func() { _ = fs.Close() }, nil
	case "s3":
		fs, err := s3fs.New(ctx, s3fs.Config{
			Region:       sc.S3Region,
			Endpoint:     sc.S3Endpoint,
			Bucket:       sc.S3Bucket,
			UsePathStyle: sc.S3PathStyle,
		})
		return fs, noop, err
	case "local":
		fs, err := localfs.New(sc.LocalRoot)
		return fs, noop, err
	}
	return nil, noop, fmt.Errorf("unknown storage backend %q", sc.Backend)
}

// openCache returns the configured tier plus the remote stores /readyz pings.
func openCache(ctx context.Context, cc config.CacheCfg) (cache.Interface, []health.Pinger, error) {
	switch cc.Driver {
	case "none":
		return cache.Nop{}, nil, nil
	case "lru":
		return lrustore.New(cc.LRUSize, cc.TTL), nil, nil
	case "redis", "tiered":
		rc, err := redisstore.New(ctx, cc.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		far := cache.WithSnappy(rc)
		if cc.Driver == "redis" {
			return far, []health.Pinger{rc}, nil
		}
		// replicas sharing a consumer group see a far-tier invalidation
		// within one near TTL
		nearTTL := min(cc.TTL, time.Minute)
		return cache.NewTiered(lrustore.New(cc.LRUSize, nearTTL), far, nearTTL), []health.Pinger{rc}, nil
	}
	return nil, nil, fmt.Errorf("unknown cache driver %q", cc.Driver)
}

func serveMetrics(ctx context.Context, addr, path string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.Printf("metrics: listening on %s%s", addr, path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics: shutdown error: %v", err)
		}
	}()
}
