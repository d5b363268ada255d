package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SpanType classifies a recorded span
type SpanType string

const (
	SpanExecution SpanType = "execution"
	SpanNode      SpanType = "node"
)

// ExecutionEvent is one persisted lifecycle or node event
// Maps to: execution_events table (append-only)
type ExecutionEvent struct {
	ID          int64     `db:"id" json:"id"`
	ExecutionID uuid.UUID `db:"execution_id" json:"execution_id"`

	// Kind mirrors the emitted event kind (execution_started,
	// node_completed, approval_needed, ...).
	Kind string `db:"kind" json:"kind"`

	// TS is the emitter's logical sequence number within the execution;
	// RecordedAt is when the consumer wrote the row.
	TS      int64           `db:"ts" json:"ts"`
	Payload json.RawMessage `db:"payload" json:"payload"`

	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// ExecutionSpan is a derived duration record for one execution or one
// node attempt window, built by the event consumer from start/finish
// event pairs.
// Maps to: execution_spans table
type ExecutionSpan struct {
	ID          int64     `db:"id" json:"id"`
	ExecutionID uuid.UUID `db:"execution_id" json:"execution_id"`

	// NodeID is empty for execution-level spans.
	NodeID   string   `db:"node_id" json:"node_id,omitempty"`
	SpanType SpanType `db:"span_type" json:"span_type"`

	// Status is the terminal state of the spanned unit: completed,
	// failed, cancelled, skipped.
	Status   string `db:"status" json:"status"`
	Attempts int    `db:"attempts" json:"attempts"`

	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	EndedAt    *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	DurationMs *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
}
