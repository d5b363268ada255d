// Package sdk defines the wire types of the execution platform: what
// callers submit, what the engine answers, and the out-of-band signals
// in between. The activity-level contract lives in common/nodes; these
// types frame whole executions.
package sdk

import (
	"encoding/json"
	"fmt"
)

// Execution lifecycle statuses mirrored to the status store.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Execution-level error kinds. Node-caused failures carry the failing
// node's own error code instead.
const (
	ErrKindTimeout   = "EXECUTION_TIMEOUT"
	ErrKindCancelled = "CANCELLED"
)

// SubmitOptions tune a single execution. Zero values mean "platform
// default". RetryPolicy is a free-form object decoded by the engine;
// recognized keys are maxRetries, baseDelayMs, maxDelayMs, multiplier.
type SubmitOptions struct {
	MaxConcurrentNodes int                    `json:"maxConcurrentNodes,omitempty"`
	SkipCreditCheck    bool                   `json:"skipCreditCheck,omitempty"`
	MaxNodeOutputBytes int64                  `json:"maxNodeOutputBytes,omitempty"`
	MaxContextBytes    int64                  `json:"maxContextBytes,omitempty"`
	ExecutionTimeoutMs int64                  `json:"executionTimeoutMs,omitempty"`
	MaxLoopIterations  int                    `json:"maxLoopIterations,omitempty"`
	TruncateOversize   bool                   `json:"truncateOversize,omitempty"`
	RetryPolicy        map[string]interface{} `json:"retryPolicy,omitempty"`
}

// Submission is a request to execute a workflow definition.
type Submission struct {
	ExecutionID string                 `json:"executionId"`
	WorkflowID  string                 `json:"workflowId,omitempty"`
	UserID      string                 `json:"userId,omitempty"`
	Definition  json.RawMessage        `json:"definition"`
	Inputs      map[string]interface{} `json:"inputs,omitempty"`
	Options     *SubmitOptions         `json:"options,omitempty"`
	CreatedAt   int64                  `json:"createdAt,omitempty"`
}

// Validate checks the submission before it is accepted onto the request
// stream. Option ranges are clamped later by the engine; hard errors
// here are only for fields no default can repair.
func (s *Submission) Validate() error {
	if s.ExecutionID == "" {
		return fmt.Errorf("executionId is required")
	}
	if len(s.Definition) == 0 {
		return fmt.Errorf("definition is required")
	}
	if s.Options != nil && s.Options.MaxConcurrentNodes != 0 {
		if s.Options.MaxConcurrentNodes < 1 || s.Options.MaxConcurrentNodes > 64 {
			return fmt.Errorf("maxConcurrentNodes must be in [1, 64], got %d", s.Options.MaxConcurrentNodes)
		}
	}
	return nil
}

// Execution signal kinds (cancel, approval resolution).
const (
	SignalCancel   = "cancel"
	SignalApproval = "approval"
)

// ExecutionSignal is an out-of-band instruction for a running execution.
type ExecutionSignal struct {
	Kind        string `json:"kind"`
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId,omitempty"`
	Approved    *bool  `json:"approved,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Approver    string `json:"approver,omitempty"`
	SentAt      int64  `json:"sentAt,omitempty"`
}

// Validate checks a signal before it is routed.
func (s *ExecutionSignal) Validate() error {
	if s.ExecutionID == "" {
		return fmt.Errorf("executionId is required")
	}
	switch s.Kind {
	case SignalCancel:
		return nil
	case SignalApproval:
		if s.NodeID == "" {
			return fmt.Errorf("approval signal requires nodeId")
		}
		if s.Approved == nil {
			return fmt.Errorf("approval signal requires approved")
		}
		return nil
	default:
		return fmt.Errorf("unknown signal kind %q", s.Kind)
	}
}

// ExecutionMetrics summarizes a finished run.
type ExecutionMetrics struct {
	DurationMs        int64 `json:"durationMs"`
	NodeCount         int   `json:"nodeCount"`
	RetriedCount      int   `json:"retriedCount"`
	PrunedOutputCount int   `json:"prunedOutputCount"`
}

// ExecutionError is the terminal failure of a run.
type ExecutionError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ExecutionResult is the engine's answer for one submission.
type ExecutionResult struct {
	Success      bool                   `json:"success"`
	Outputs      map[string]interface{} `json:"outputs,omitempty"`
	Error        *ExecutionError        `json:"error,omitempty"`
	FailedNodeID string                 `json:"failedNodeId,omitempty"`
	Metrics      ExecutionMetrics       `json:"metrics"`
}
