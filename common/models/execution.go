package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/common/sdk"
)

// Execution represents one workflow execution
// Maps to: executions table
type Execution struct {
	ID uuid.UUID `db:"id" json:"id"`

	// WorkflowID is nil for inline submissions (definition supplied
	// directly on the request, never stored in workflows).
	WorkflowID *uuid.UUID `db:"workflow_id" json:"workflow_id,omitempty"`
	UserID     string     `db:"user_id" json:"user_id"`

	// Status uses the sdk lifecycle values: queued, running, paused,
	// completed, failed, cancelled.
	Status string `db:"status" json:"status"`

	// Result holds the full sdk.ExecutionResult for terminal
	// executions (JSONB).
	Result json.RawMessage `db:"result" json:"result,omitempty"`

	// Extracted result columns for queries that must not parse JSONB.
	ErrorKind    *string `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`
	FailedNodeID *string `db:"failed_node_id" json:"failed_node_id,omitempty"`

	DurationMs        *int64 `db:"duration_ms" json:"duration_ms,omitempty"`
	NodeCount         *int   `db:"node_count" json:"node_count,omitempty"`
	RetriedCount      *int   `db:"retried_count" json:"retried_count,omitempty"`
	PrunedOutputCount *int   `db:"pruned_output_count" json:"pruned_output_count,omitempty"`

	SubmittedAt time.Time  `db:"submitted_at" json:"submitted_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	// LastEventAt advances with every persisted event; the supervisor
	// uses it to spot executions that stopped making progress.
	LastEventAt time.Time `db:"last_event_at" json:"last_event_at"`
}

// IsTerminal reports whether the execution reached a final status
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case sdk.StatusCompleted, sdk.StatusFailed, sdk.StatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the execution may still make progress
func (e *Execution) IsActive() bool {
	return !e.IsTerminal()
}
