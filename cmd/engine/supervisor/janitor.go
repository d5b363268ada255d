// Package supervisor reaps executions that stopped making progress.
// Crashed replicas leave rows stuck in an active status with a stale
// liveness marker; the janitor fails them and clears their Redis
// working state so readers fall through to the database.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/common/models"
	redisWrapper "github.com/weftlabs/weft/common/redis"
	"github.com/weftlabs/weft/common/sdk"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

const sweepLimit = 100

// StalledStore is the slice of the execution repository the janitor
// sweeps through.
type StalledStore interface {
	ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]*models.Execution, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errorKind, errorMessage string) (bool, error)
}

// Janitor periodically fails executions with no event since the
// configured timeout.
type Janitor struct {
	redis         *redisWrapper.Client
	executions    StalledStore
	logger        Logger
	checkInterval time.Duration
	timeout       time.Duration
}

// NewJanitor creates a janitor with default timing.
func NewJanitor(redis *redisWrapper.Client, executions StalledStore, logger Logger) *Janitor {
	return &Janitor{
		redis:         redis,
		executions:    executions,
		logger:        logger,
		checkInterval: 30 * time.Second,
		timeout:       5 * time.Minute,
	}
}

// WithCheckInterval sets the sweep interval.
func (j *Janitor) WithCheckInterval(interval time.Duration) *Janitor {
	j.checkInterval = interval
	return j
}

// WithTimeout sets the inactivity timeout.
func (j *Janitor) WithTimeout(timeout time.Duration) *Janitor {
	j.timeout = timeout
	return j
}

// Start sweeps until the context is cancelled.
func (j *Janitor) Start(ctx context.Context) error {
	j.logger.Info("Janitor starting",
		"check_interval", j.checkInterval,
		"timeout", j.timeout)

	ticker := time.NewTicker(j.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Janitor shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := j.sweep(ctx); err != nil {
				j.logger.Error("Sweep failed", "error", err)
			}
		}
	}
}

// sweep fails every stalled execution it can claim. The status guard
// in MarkFailed keeps concurrent janitors and racing completions from
// double-failing a row.
func (j *Janitor) sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-j.timeout)
	stalled, err := j.executions.ListStalled(ctx, cutoff, sweepLimit)
	if err != nil {
		return fmt.Errorf("failed to list stalled executions: %w", err)
	}

	var reaped int
	for _, exec := range stalled {
		j.logger.Warn("Detected stalled execution",
			"execution_id", exec.ID,
			"status", exec.Status,
			"last_event_at", exec.LastEventAt,
			"inactive_for", time.Since(exec.LastEventAt))

		message := fmt.Sprintf("no activity for %s", j.timeout)
		ok, err := j.executions.MarkFailed(ctx, exec.ID, sdk.ErrKindTimeout, message)
		if err != nil {
			j.logger.Error("Failed to mark execution failed",
				"execution_id", exec.ID,
				"error", err)
			continue
		}
		if !ok {
			j.logger.Warn("Execution finished before it could be reaped",
				"execution_id", exec.ID)
			continue
		}

		j.cleanup(ctx, exec.ID.String())
		reaped++
	}

	if reaped > 0 {
		j.logger.Info("Reaped stalled executions", "count", reaped)
	}
	return nil
}

// cleanup drops the dead run's Redis state. With the hot status key
// gone, status reads fall through to the database row the janitor
// just wrote.
func (j *Janitor) cleanup(ctx context.Context, executionID string) {
	keys := []string{
		fmt.Sprintf("exec:status:%s", executionID),
		fmt.Sprintf("exec:result:%s", executionID),
		fmt.Sprintf("exec:plan:%s", executionID),
		fmt.Sprintf("exec:started:%s", executionID),
	}

	// Unresolved approval lists would otherwise linger until their
	// reviewer shows up.
	approvals, err := j.redis.ScanKeys(ctx, fmt.Sprintf("approval:%s:*", executionID))
	if err != nil {
		j.logger.Error("Failed to scan approval keys",
			"execution_id", executionID,
			"error", err)
	} else {
		keys = append(keys, approvals...)
	}

	if err := j.redis.Delete(ctx, keys...); err != nil {
		j.logger.Error("Failed to clean up execution keys",
			"execution_id", executionID,
			"error", err)
		return
	}
	j.logger.Debug("Cleaned up execution keys",
		"execution_id", executionID,
		"keys", len(keys))
}
