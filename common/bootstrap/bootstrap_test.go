package bootstrap

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/weftlabs/weft/common/cache"
	"github.com/weftlabs/weft/common/config"
	"github.com/weftlabs/weft/common/logger"
)

func quietOpts(cfg *config.Config) []Option {
	return []Option{
		WithCustomConfig(cfg),
		WithCustomLogger(logger.New("error", "json")),
		WithoutDB(),
		WithoutRedis(),
		WithoutTelemetry(),
	}
}

func TestSetupMemoryCacheBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Cache = config.CacheConfig{Enabled: true, Backend: "memory", DefaultTTL: time.Minute}

	components, err := Setup(context.Background(), "test", quietOpts(cfg)...)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer components.Shutdown(context.Background())

	if _, ok := components.Cache.(*cache.MemoryCache); !ok {
		t.Fatalf("expected memory cache backend, got %T", components.Cache)
	}
	if components.DB != nil || components.Redis != nil || components.Telemetry != nil {
		t.Fatal("skipped components must stay nil")
	}
}

func TestSetupRedisCacheBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	cfg := &config.Config{}
	cfg.Redis = config.RedisConfig{Host: host, Port: port}
	cfg.Cache = config.CacheConfig{Enabled: true, Backend: "redis", DefaultTTL: time.Minute}

	components, err := Setup(context.Background(), "test",
		WithCustomConfig(cfg),
		WithCustomLogger(logger.New("error", "json")),
		WithoutDB(),
		WithoutTelemetry(),
	)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer components.Shutdown(context.Background())

	if _, ok := components.Cache.(*cache.RedisCache); !ok {
		t.Fatalf("expected redis cache backend, got %T", components.Cache)
	}

	// Entries land in Redis under the cache namespace.
	if err := components.Cache.Set(context.Background(), "wf", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("cache:wf") {
		t.Fatal("expected namespaced key in redis")
	}
}

func TestSetupRedisCacheRequiresRedis(t *testing.T) {
	cfg := &config.Config{}
	cfg.Cache = config.CacheConfig{Enabled: true, Backend: "redis"}

	_, err := Setup(context.Background(), "test", quietOpts(cfg)...)
	if err == nil || !strings.Contains(err.Error(), "requires redis") {
		t.Fatalf("expected redis requirement error, got %v", err)
	}
}

func TestSetupRejectsUnknownCacheBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Cache = config.CacheConfig{Enabled: true, Backend: "memcache"}

	_, err := Setup(context.Background(), "test", quietOpts(cfg)...)
	if err == nil || !strings.Contains(err.Error(), "unknown cache backend") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestSetupWithoutCache(t *testing.T) {
	cfg := &config.Config{}
	cfg.Cache = config.CacheConfig{Enabled: true, Backend: "memory"}

	components, err := Setup(context.Background(), "test", append(quietOpts(cfg), WithoutCache())...)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer components.Shutdown(context.Background())

	if components.Cache != nil {
		t.Fatal("expected cache to be skipped")
	}
}
