package testutil

import (
	"context"
	"testing"

	"monobank/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// OpenTestRedis connects to TEST_REDIS_ADDR when set and to an in-process
// miniredis otherwise.
func OpenTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := ""
	if cfg, err := config.LoadTest(); err == nil {
		addr = cfg.TestRedisAddr
	}
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
