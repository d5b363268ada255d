// Package lifecycle tracks execution status outside the orchestrator
// loop: a hot Redis key per execution for reads, and a status update
// stream the persistence consumer drains into Postgres.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/weftlabs/weft/common/clients"
	redisWrapper "github.com/weftlabs/weft/common/redis"
	"github.com/weftlabs/weft/common/sdk"
)

// UpdateStream carries every status transition for the cold path.
const UpdateStream = "exec.status.updates"

// ErrNotFound is returned when no status has been recorded for an
// execution.
var ErrNotFound = errors.New("execution status not found")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// StatusUpdate is one entry on the update stream. Result is only set
// on terminal transitions; oversized results travel as a ResultRef
// pointing into content-addressed storage instead.
type StatusUpdate struct {
	ExecutionID string               `json:"execution_id"`
	Status      string               `json:"status"`
	Timestamp   int64                `json:"timestamp"`
	Result      *sdk.ExecutionResult `json:"result,omitempty"`
	ResultRef   string               `json:"result_ref,omitempty"`
}

// StatusManager handles execution status updates (both the Redis hot
// path and the stream feeding the DB cold path).
type StatusManager struct {
	redis        *redisWrapper.Client
	cas          *clients.RedisCASClient
	offloadBytes int
	logger       Logger
}

// NewStatusManager creates a new status manager.
func NewStatusManager(redis *redisWrapper.Client, logger Logger) *StatusManager {
	return &StatusManager{
		redis:  redis,
		logger: logger,
	}
}

// WithResultOffload diverts results larger than thresholdBytes into
// content-addressed storage, leaving a reference in the hot key and on
// the update stream.
func (m *StatusManager) WithResultOffload(cas *clients.RedisCASClient, thresholdBytes int) *StatusManager {
	m.cas = cas
	m.offloadBytes = thresholdBytes
	return m
}

// UpdateStatus records a non-terminal transition in Redis and queues
// it for the DB. Both operations ride one pipeline round-trip.
func (m *StatusManager) UpdateStatus(ctx context.Context, executionID, status string) {
	m.record(ctx, executionID, status, nil)
}

// RecordResult records a terminal transition together with the final
// execution result.
func (m *StatusManager) RecordResult(ctx context.Context, executionID, status string, result *sdk.ExecutionResult) {
	m.record(ctx, executionID, status, result)
}

func (m *StatusManager) record(ctx context.Context, executionID, status string, result *sdk.ExecutionResult) {
	update := StatusUpdate{
		ExecutionID: executionID,
		Status:      status,
		Timestamp:   time.Now().Unix(),
		Result:      result,
	}

	var resultPayload string
	if result != nil {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			m.logger.Error("failed to marshal execution result",
				"execution_id", executionID,
				"error", err)
			return
		}
		resultPayload = string(resultJSON)

		if m.cas != nil && m.offloadBytes > 0 && len(resultJSON) > m.offloadBytes {
			casID, err := m.cas.Put(ctx, resultJSON)
			if err != nil {
				// Keep the inline payload; oversized beats lost.
				m.logger.Error("failed to offload execution result",
					"execution_id", executionID,
					"bytes", len(resultJSON),
					"error", err)
			} else {
				envelope, _ := json.Marshal(resultRef{CAS: casID})
				resultPayload = string(envelope)
				update.Result = nil
				update.ResultRef = casID
				m.logger.Info("offloaded oversized execution result",
					"execution_id", executionID,
					"cas_id", casID,
					"bytes", len(resultJSON))
			}
		}
	}

	updateJSON, err := json.Marshal(update)
	if err != nil {
		m.logger.Error("failed to marshal status update",
			"execution_id", executionID,
			"error", err)
		return
	}

	pipeline := m.redis.NewPipeline()
	pipeline.SetWithExpiry(ctx, statusKey(executionID), status, 24*time.Hour)
	if resultPayload != "" {
		pipeline.SetWithExpiry(ctx, resultKey(executionID), resultPayload, 24*time.Hour)
	}
	pipeline.AddToStream(ctx, UpdateStream, map[string]interface{}{
		"update": string(updateJSON),
	})

	if err := pipeline.Exec(ctx); err != nil {
		m.logger.Error("failed to update execution status with pipeline",
			"execution_id", executionID,
			"status", status,
			"error", err)
		return
	}

	m.logger.Info("updated execution status (Redis + queued for DB)",
		"execution_id", executionID,
		"status", status)
}

// Load reads the current status and, when terminal, the recorded
// result. Offloaded results are resolved through the CAS client.
// Returns ErrNotFound for executions Redis no longer knows.
func (m *StatusManager) Load(ctx context.Context, executionID string) (string, *sdk.ExecutionResult, error) {
	values, err := m.redis.GetMultiple(ctx, []string{statusKey(executionID), resultKey(executionID)})
	if err != nil {
		return "", nil, fmt.Errorf("failed to load execution status: %w", err)
	}

	status, ok := values[statusKey(executionID)]
	if !ok {
		return "", nil, ErrNotFound
	}

	raw, ok := values[resultKey(executionID)]
	if !ok {
		return status, nil, nil
	}

	if casID := refIn([]byte(raw)); casID != "" {
		if m.cas == nil {
			return status, nil, fmt.Errorf("result for %s is offloaded to %s but no cas client is configured", executionID, casID)
		}
		data, err := m.cas.Get(ctx, casID)
		if err != nil {
			return status, nil, fmt.Errorf("failed to fetch offloaded result: %w", err)
		}
		raw = string(data)
	}

	var result sdk.ExecutionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return status, nil, fmt.Errorf("failed to unmarshal execution result: %w", err)
	}
	return status, &result, nil
}

// resultRef is the envelope left in place of an offloaded result.
type resultRef struct {
	CAS string `json:"$cas"`
}

// refIn extracts the CAS ID from an envelope, or "" for an inline
// result.
func refIn(raw []byte) string {
	var ref resultRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ""
	}
	return ref.CAS
}

func statusKey(executionID string) string {
	return fmt.Sprintf("exec:status:%s", executionID)
}

func resultKey(executionID string) string {
	return fmt.Sprintf("exec:result:%s", executionID)
}
