package bootstrap

import (
	"github.com/weftlabs/weft/common/config"
	"github.com/weftlabs/weft/common/logger"
)

// Option adjusts what Setup initializes. Services skip the
// dependencies they never touch so a misconfigured one cannot keep
// them down.
type Option func(*options)

type options struct {
	skipDB        bool
	skipRedis     bool
	skipCache     bool
	skipTelemetry bool
	customLogger  *logger.Logger
	customConfig  *config.Config
}

// WithoutDB skips Postgres initialization.
func WithoutDB() Option { return func(o *options) { o.skipDB = true } }

// WithoutRedis skips Redis initialization.
func WithoutRedis() Option { return func(o *options) { o.skipRedis = true } }

// WithoutCache skips cache initialization.
func WithoutCache() Option { return func(o *options) { o.skipCache = true } }

// WithoutTelemetry skips the pprof and metrics listeners.
func WithoutTelemetry() Option { return func(o *options) { o.skipTelemetry = true } }

// WithCustomLogger substitutes the logger, for embedding and tests.
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig substitutes the config, for embedding and tests.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

func defaultOptions() *options {
	return &options{}
}
