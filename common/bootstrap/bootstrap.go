package bootstrap

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/weftlabs/weft/common/cache"
	"github.com/weftlabs/weft/common/config"
	"github.com/weftlabs/weft/common/db"
	"github.com/weftlabs/weft/common/logger"
	redisWrapper "github.com/weftlabs/weft/common/redis"
	"github.com/weftlabs/weft/common/telemetry"
)

// Setup initializes the shared components in dependency order and
// registers their teardown. Callers defer Components.Shutdown.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{}

	// 1. Configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Logger, stamped with the service name so lines from different
	// services can be told apart in a merged stream.
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		).WithService(serviceName)
	}

	components.Logger.Info("initializing service",
		"environment", components.Config.Service.Environment)

	// 3. Database
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})
	}

	// 4. Redis
	if !options.skipRedis {
		components.Logger.Info("connecting to redis", "addr", components.Config.RedisAddr())

		components.RedisRaw = goredis.NewClient(&goredis.Options{
			Addr:     components.Config.RedisAddr(),
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = components.RedisRaw.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		components.Redis = redisWrapper.NewClient(components.RedisRaw, components.Logger)

		components.addCleanup(func() error {
			return components.RedisRaw.Close()
		})
	}

	// 5. Cache, on the backend the config names. The redis backend
	// rides on the connection opened above.
	if !options.skipCache && components.Config.Cache.Enabled {
		switch backend := components.Config.Cache.Backend; backend {
		case "redis":
			if components.RedisRaw == nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("cache backend %q requires redis", backend)
			}
			components.Cache = cache.NewRedisCache(components.RedisRaw, components.Logger)
		case "memory", "":
			components.Cache = cache.NewMemoryCache(components.Logger)
		default:
			components.Shutdown(ctx)
			return nil, fmt.Errorf("unknown cache backend %q", backend)
		}

		components.Logger.Info("cache ready",
			"backend", components.Config.Cache.Backend,
			"default_ttl", components.Config.Cache.DefaultTTL)

		components.addCleanup(func() error {
			return components.Cache.Close()
		})
	}

	// 6. Telemetry listeners
	enablePprof := components.Config.Telemetry.EnablePprof
	enableMetrics := components.Config.Telemetry.EnableMetrics
	if !options.skipTelemetry && (enablePprof || enableMetrics) {
		components.Telemetry = telemetry.New(telemetry.Opts{
			EnablePprof:   enablePprof,
			PprofPort:     components.Config.Telemetry.PprofPort,
			EnableMetrics: enableMetrics,
			MetricsPort:   components.Config.Telemetry.MetricsPort,
			Logger:        components.Logger,
		})

		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
		}

		components.addCleanup(func() error {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return components.Telemetry.Stop(stopCtx)
		})
	}

	components.Logger.Info("service initialization complete",
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"cache", components.Cache != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}
