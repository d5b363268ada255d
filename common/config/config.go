package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Gateway   GatewayConfig
	Engine    EngineConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig selects the read-cache backend. The memory backend is
// per-process; the redis backend shares entries across gateway
// replicas.
type CacheConfig struct {
	Enabled    bool
	Backend    string
	DefaultTTL time.Duration
}

// GatewayConfig holds API gateway settings
type GatewayConfig struct {
	// Requests per minute across all callers
	GlobalRateLimit int64
	// Requests per minute per authenticated user
	UserRateLimit int64
}

// EngineConfig holds execution engine settings
type EngineConfig struct {
	// Runtime selects how node activities run: "inline" executes them on
	// the engine's own goroutines, "redis" dispatches them to workers
	// over task streams.
	Runtime string

	MaxConcurrentNodes  int
	ExecutionTimeout    time.Duration
	MaxNodeOutputBytes  int
	MaxContextBytes     int
	MaxLoopIterations   int
	ResultOffloadBytes  int
	NodeTypes           []string
	SupervisorInterval  time.Duration
	HangingExecTimeout  time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableTracing bool
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "weft"),
			User:        getEnv("POSTGRES_USER", "weft"),
			Password:    getEnv("POSTGRES_PASSWORD", "weft"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			Backend:    getEnv("CACHE_BACKEND", "memory"),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
		},
		Gateway: GatewayConfig{
			GlobalRateLimit: int64(getEnvInt("WEFT_GLOBAL_RATE_LIMIT", 1000)),
			UserRateLimit:   int64(getEnvInt("WEFT_USER_RATE_LIMIT", 300)),
		},
		Engine: EngineConfig{
			Runtime:            getEnv("WEFT_RUNTIME", "redis"),
			MaxConcurrentNodes: getEnvInt("WEFT_MAX_CONCURRENT_NODES", 8),
			ExecutionTimeout:   getEnvDuration("WEFT_EXECUTION_TIMEOUT", 10*time.Minute),
			MaxNodeOutputBytes: getEnvInt("WEFT_MAX_NODE_OUTPUT_BYTES", 262144),
			MaxContextBytes:    getEnvInt("WEFT_MAX_CONTEXT_BYTES", 2097152),
			MaxLoopIterations:  getEnvInt("WEFT_MAX_LOOP_ITERATIONS", 10000),
			ResultOffloadBytes: getEnvInt("WEFT_RESULT_OFFLOAD_BYTES", 262144),
			NodeTypes:          getEnvSlice("WEFT_NODE_TYPES", []string{"http", "transform", "llm", "db", "file", "delay", "human_review"}),
			SupervisorInterval: getEnvDuration("WEFT_SUPERVISOR_INTERVAL", 30*time.Second),
			HangingExecTimeout: getEnvDuration("WEFT_HANGING_EXEC_TIMEOUT", 5*time.Minute),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", true),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableTracing: getEnvBool("ENABLE_TRACING", true),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Gateway.GlobalRateLimit < 1 || c.Gateway.UserRateLimit < 1 {
		return fmt.Errorf("rate limits must be >= 1")
	}

	if c.Engine.Runtime != "inline" && c.Engine.Runtime != "redis" {
		return fmt.Errorf("invalid runtime: %q", c.Engine.Runtime)
	}

	if c.Engine.MaxConcurrentNodes < 1 {
		return fmt.Errorf("max concurrent nodes must be >= 1")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the host:port address for Redis
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
