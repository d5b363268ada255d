package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/weftlabs/weft/common/config"
	"github.com/weftlabs/weft/common/logger"
)

// DB wraps pgxpool. The pool is embedded, so repositories use the full
// pgx query surface directly.
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New opens a pool sized from config and verifies the connection
// before handing it out.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	// At debug level every statement is traced through the service
	// logger, arguments included.
	if cfg.Service.LogLevel == "debug" {
		poolConfig.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   traceAdapter(log),
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected",
		"host", cfg.Database.Host,
		"db", cfg.Database.Database,
		"max_conns", cfg.Database.MaxConns)

	return &DB{Pool: pool, log: log}, nil
}

// traceAdapter bridges pgx trace output onto the service logger at
// debug level. Query failures still surface as errors from the call
// itself; the trace is for watching statements flow.
func traceAdapter(log *logger.Logger) tracelog.LoggerFunc {
	return func(ctx context.Context, _ tracelog.LogLevel, msg string, data map[string]any) {
		args := make([]any, 0, len(data)*2)
		for k, v := range data {
			args = append(args, k, v)
		}
		log.WithContext(ctx).Debug(msg, args...)
	}
}

// Close releases the pool.
func (db *DB) Close() {
	db.log.Info("closing database connection pool")
	db.Pool.Close()
}

// Health verifies the database answers within a probe deadline.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}
