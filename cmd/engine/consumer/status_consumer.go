// Package consumer drains the engine's Redis streams into Postgres:
// status transitions onto the executions table, events onto the
// append-only event log and its derived spans. Redis stays the hot
// read path; these consumers are the cold path and can lag.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/weftlabs/weft/cmd/engine/lifecycle"
	"github.com/weftlabs/weft/common/clients"
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

// StatusGroup is the consumer group on the status update stream.
const StatusGroup = "status_writers"

// StatusStore is the slice of the execution repository the status
// consumer writes through.
type StatusStore interface {
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Complete(ctx context.Context, id uuid.UUID, status string, result *sdk.ExecutionResult, completedAt time.Time) error
}

// StatusConsumer mirrors status transitions from the update stream
// into the executions table.
type StatusConsumer struct {
	redis        *redisWrapper.Client
	executions   StatusStore
	cas          *clients.RedisCASClient
	logger       Logger
	consumerName string
}

// StatusConsumerOpts holds the dependencies for NewStatusConsumer.
// CAS is optional; without it offloaded results are persisted as
// status-only transitions.
type StatusConsumerOpts struct {
	Redis      *redisWrapper.Client
	Executions StatusStore
	CAS        *clients.RedisCASClient
	Logger     Logger
}

// NewStatusConsumer creates a status consumer.
func NewStatusConsumer(opts StatusConsumerOpts) *StatusConsumer {
	return &StatusConsumer{
		redis:        opts.Redis,
		executions:   opts.Executions,
		cas:          opts.CAS,
		logger:       opts.Logger,
		consumerName: fmt.Sprintf("status_writer_%s", uuid.New().String()[:8]),
	}
}

// Start consumes status updates until the context is cancelled.
func (c *StatusConsumer) Start(ctx context.Context) error {
	if err := c.redis.CreateStreamGroup(ctx, lifecycle.UpdateStream, StatusGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Status consumer started",
		"stream", lifecycle.UpdateStream,
		"group", StatusGroup,
		"consumer", c.consumerName)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Status consumer stopping")
			return ctx.Err()
		default:
			if err := c.processNextMessage(ctx); err != nil {
				c.logger.Error("Error processing status update", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (c *StatusConsumer) processNextMessage(ctx context.Context) error {
	streams, err := c.redis.ReadFromStreamGroup(ctx, StatusGroup, c.consumerName, lifecycle.UpdateStream, 1, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to read from status stream: %w", err)
	}
	if len(streams) == 0 {
		return nil
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := c.handleMessage(ctx, message); err != nil {
				c.logger.Error("Failed to handle status update",
					"message_id", message.ID,
					"error", err)
			}
			if err := c.redis.AckStreamMessage(ctx, lifecycle.UpdateStream, StatusGroup, message.ID); err != nil {
				c.logger.Error("Failed to ack status update",
					"message_id", message.ID,
					"error", err)
			}
		}
	}
	return nil
}

func (c *StatusConsumer) handleMessage(ctx context.Context, message goredis.XMessage) error {
	raw, ok := message.Values["update"].(string)
	if !ok {
		return fmt.Errorf("message %s has no update field", message.ID)
	}

	var update lifecycle.StatusUpdate
	if err := json.Unmarshal([]byte(raw), &update); err != nil {
		return fmt.Errorf("failed to unmarshal status update: %w", err)
	}

	id, err := uuid.Parse(update.ExecutionID)
	if err != nil {
		return fmt.Errorf("invalid execution_id %q: %w", update.ExecutionID, err)
	}

	at := time.Unix(update.Timestamp, 0)

	switch update.Status {
	case sdk.StatusRunning:
		if err := c.executions.MarkRunning(ctx, id, at); err != nil {
			return err
		}
	case sdk.StatusQueued, sdk.StatusPaused:
		if err := c.executions.UpdateStatus(ctx, id, update.Status); err != nil {
			return err
		}
	case sdk.StatusCompleted, sdk.StatusFailed, sdk.StatusCancelled:
		result, err := c.resolveResult(ctx, &update)
		if err != nil {
			c.logger.Warn("Persisting terminal status without result",
				"execution_id", update.ExecutionID,
				"error", err)
		}
		if result == nil {
			if err := c.executions.UpdateStatus(ctx, id, update.Status); err != nil {
				return err
			}
			break
		}
		if err := c.executions.Complete(ctx, id, update.Status, result, at); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown status %q", update.Status)
	}

	c.logger.Debug("Persisted status transition",
		"execution_id", update.ExecutionID,
		"status", update.Status)
	return nil
}

// resolveResult returns the inline result or fetches an offloaded one.
func (c *StatusConsumer) resolveResult(ctx context.Context, update *lifecycle.StatusUpdate) (*sdk.ExecutionResult, error) {
	if update.Result != nil {
		return update.Result, nil
	}
	if update.ResultRef == "" {
		return nil, nil
	}
	if c.cas == nil {
		return nil, fmt.Errorf("result is offloaded to %s but no cas client is configured", update.ResultRef)
	}

	data, err := c.cas.Get(ctx, update.ResultRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch offloaded result: %w", err)
	}
	var result sdk.ExecutionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal offloaded result: %w", err)
	}
	return &result, nil
}
