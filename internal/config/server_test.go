package config

import (
	"testing"
	"time"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/bank?sslmode=disable")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.StoreDriver != StorePostgres || !cfg.MigrateOnStart {
		t.Fatalf("unexpected store config: %+v", cfg)
	}
	if cfg.RedisChannelPrefix != "monobank:session:" {
		t.Fatalf("RedisChannelPrefix = %q", cfg.RedisChannelPrefix)
	}
	if cfg.SSEPingInterval != 15*time.Second {
		t.Fatalf("SSEPingInterval = %v, want 15s", cfg.SSEPingInterval)
	}
	if cfg.SubscriberBuffer != 64 {
		t.Fatalf("SubscriberBuffer = %d, want 64", cfg.SubscriberBuffer)
	}
}

func TestLoadServerRequiresPostgresDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	if _, err := LoadServer(); err == nil {
		t.Fatal("LoadServer() expected error, got nil")
	}
}

func TestLoadServerMemoryNeedsNoDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("POSTGRES_DSN", "")

	if _, err := LoadServer(); err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
}

func TestLoadServerRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")

	if _, err := LoadServer(); err == nil {
		t.Fatal("LoadServer() expected error, got nil")
	}
}

func TestLoadServerParseTypes(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MIGRATE_ON_START", "false")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SSE_PING_INTERVAL", "2s")
	t.Setenv("SUBSCRIBER_BUFFER", "8")
	t.Setenv("AUTH_SECRET", "s3cret")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.MigrateOnStart {
		t.Fatal("MigrateOnStart = true, want false")
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.AuthSecret != "s3cret" {
		t.Fatalf("AuthSecret = %q", cfg.AuthSecret)
	}
	if cfg.SSEPingInterval != 2*time.Second || cfg.SubscriberBuffer != 8 {
		t.Fatalf("unexpected stream config: %+v", cfg)
	}
}

func TestLoadServerRejectsZeroBuffer(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SUBSCRIBER_BUFFER", "0")

	if _, err := LoadServer(); err == nil {
		t.Fatal("LoadServer() expected error, got nil")
	}
}
