package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Addr != ":8090" || cfg.Schema != "ztf" || cfg.Storage.Backend != "hdfs" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Storage.HDFSPort != 8020 || cfg.Cache.Driver != "lru" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Cache.OpTimeout != 250*time.Millisecond {
		t.Fatalf("cache op timeout=%v", cfg.Cache.OpTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CUTOUT_SCHEMA", "LSST")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "alerts")
	t.Setenv("S3_PATH_STYLE", "yes")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("INVALIDATION_ENABLED", "1")
	t.Setenv("HDFS_PORT", "not-a-port")

	cfg := FromEnv()
	if cfg.Schema != "lsst" || cfg.Storage.Backend != "s3" || !cfg.Storage.S3PathStyle {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Cache.TTL != 90*time.Second || !cfg.Invalidation.Enabled {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Storage.HDFSPort != 8020 {
		t.Fatalf("bad int must fall back to default, got %d", cfg.Storage.HDFSPort)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	body := "HDFS: namenode.example\nHDFSPORT: 9000\nHDFSUSER: fink\nAPIURL: http://cutouts:24000\nPORT: 24000\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CUTOUT_CONFIG", p)
	t.Setenv("HDFS_USER", "override")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.HDFSHost != "namenode.example" || cfg.Storage.HDFSPort != 9000 {
		t.Fatalf("file values not applied: %+v", cfg.Storage)
	}
	if cfg.Storage.HDFSUser != "override" {
		t.Fatalf("env must win over file, got %q", cfg.Storage.HDFSUser)
	}
	if cfg.Addr != ":24000" || cfg.APIURL != "http://cutouts:24000" {
		t.Fatalf("addr=%q apiurl=%q", cfg.Addr, cfg.APIURL)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CUTOUT_CONFIG", filepath.Join(t.TempDir(), "nope.yml"))
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("bad yaml", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "c.yml")
		_ = os.WriteFile(p, []byte("HDFSPORT: [1,2"), 0o600)
		t.Setenv("CUTOUT_CONFIG", p)
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("s3 without bucket", func(t *testing.T) {
		t.Setenv("STORAGE_BACKEND", "s3")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("unknown schema", func(t *testing.T) {
		t.Setenv("CUTOUT_SCHEMA", "fink")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("unknown cache driver", func(t *testing.T) {
		t.Setenv("CACHE_DRIVER", "memcached")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
}
