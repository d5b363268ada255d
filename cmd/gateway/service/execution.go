package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/cmd/engine/compiler"
	"github.com/weftlabs/weft/cmd/engine/lifecycle"
	"github.com/weftlabs/weft/cmd/engine/runtime"
	"github.com/weftlabs/weft/common/models"
	"github.com/weftlabs/weft/common/ratelimit"
	redisWrapper "github.com/weftlabs/weft/common/redis"
	"github.com/weftlabs/weft/common/sdk"
)

// RateLimitError indicates the user exceeded their tier's rate limit
type RateLimitError struct {
	Tier              ratelimit.WorkflowTier
	Limit             int64
	CurrentCount      int64
	RetryAfterSeconds int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s tier allows %d executions/minute, retry after %d seconds",
		e.Tier, e.Limit, e.RetryAfterSeconds)
}

// BuildError carries the compiler diagnostics for a definition that
// failed to build. Handlers map it to 422 with the full issue list.
type BuildError struct {
	Issues []compiler.Issue
}

func (e *BuildError) Error() string {
	if len(e.Issues) == 0 {
		return "workflow failed to build"
	}
	return fmt.Sprintf("workflow failed to build: %s (%d issues)", e.Issues[0].String(), len(e.Issues))
}

// ConflictError marks an operation that cannot apply to the execution's
// current state. Handlers map it to 409.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return e.Msg
}

// ExecutionStore is the persistence surface the execution service needs.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.Execution) error
	GetByIDForUser(ctx context.Context, id uuid.UUID, userID string) (*models.Execution, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Execution, error)
}

// EventStore reads the per-execution event log and span projection.
type EventStore interface {
	ListByExecution(ctx context.Context, executionID uuid.UUID, limit int) ([]*models.ExecutionEvent, error)
	ListSpans(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionSpan, error)
}

// ExecutionService accepts executions and answers questions about them.
// Accepting means: resolve the definition, rate-limit, compile, record
// a queued row, and enqueue for the engine. The engine owns everything
// after that; cancel and approval go to it as signals.
type ExecutionService struct {
	executions ExecutionStore
	events     EventStore
	workflows  *WorkflowService
	status     *lifecycle.StatusManager
	redis      *redisWrapper.Client
	limiter    *ratelimit.Limiter
	logger     Logger
}

// ExecutionServiceOpts contains options for creating an ExecutionService
type ExecutionServiceOpts struct {
	Executions ExecutionStore
	Events     EventStore
	Workflows  *WorkflowService
	Status     *lifecycle.StatusManager
	Redis      *redisWrapper.Client
	Limiter    *ratelimit.Limiter
	Logger     Logger
}

// NewExecutionService creates a new execution service
func NewExecutionService(opts ExecutionServiceOpts) *ExecutionService {
	return &ExecutionService{
		executions: opts.Executions,
		events:     opts.Events,
		workflows:  opts.Workflows,
		status:     opts.Status,
		redis:      opts.Redis,
		limiter:    opts.Limiter,
		logger:     opts.Logger,
	}
}

// SubmitRequest starts an execution from a stored workflow or an inline
// definition. Exactly one of WorkflowID and Definition is expected;
// when both are present the stored workflow wins.
type SubmitRequest struct {
	WorkflowID string                 `json:"workflowId,omitempty"`
	Definition json.RawMessage        `json:"definition,omitempty"`
	Inputs     map[string]interface{} `json:"inputs,omitempty"`
	Options    *sdk.SubmitOptions     `json:"options,omitempty"`
}

// SubmitResponse acknowledges an accepted submission
type SubmitResponse struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId,omitempty"`
	Status      string `json:"status"`
}

// ExecutionDetails is an execution row with its span projection
type ExecutionDetails struct {
	Execution *models.Execution       `json:"execution"`
	Spans     []*models.ExecutionSpan `json:"spans,omitempty"`
}

// ApprovalRequest resolves a paused human-review node
type ApprovalRequest struct {
	Approved *bool  `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}

// Submit validates, compiles, records, and enqueues an execution.
func (s *ExecutionService) Submit(ctx context.Context, userID string, req *SubmitRequest) (*SubmitResponse, error) {
	// 1. Resolve the definition: stored workflow or inline document
	definition := req.Definition
	var workflowID *uuid.UUID
	if req.WorkflowID != "" {
		id, err := uuid.Parse(req.WorkflowID)
		if err != nil {
			return nil, &ValidationError{Msg: "workflowId must be a UUID"}
		}
		wf, err := s.workflows.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		definition = wf.Definition
		workflowID = &id
	}
	if len(definition) == 0 {
		return nil, &ValidationError{Msg: "definition or workflowId is required"}
	}

	// 2. Tier the workflow and check the per-user sliding window
	profile := ratelimit.InspectDefinition(definition)
	limitResult, err := s.limiter.CheckTieredLimit(ctx, userID, profile.Tier)
	if err != nil {
		s.logger.Error("Rate limit check failed", "error", err, "user_id", userID)
		// Fail open: allow the submission rather than block on a
		// rate limiter outage.
	} else if !limitResult.Allowed {
		s.logger.Warn("Rate limit exceeded",
			"user_id", userID,
			"tier", profile.Tier,
			"count", limitResult.CurrentCount,
			"limit", limitResult.Limit)
		return nil, &RateLimitError{
			Tier:              profile.Tier,
			Limit:             limitResult.Limit,
			CurrentCount:      limitResult.CurrentCount,
			RetryAfterSeconds: limitResult.RetryAfterSeconds,
		}
	}

	// 3. Compile before accepting; build errors are the caller's to fix
	buildResult := compiler.CompileJSON(definition)
	if !buildResult.OK() {
		return nil, &BuildError{Issues: buildResult.Errors}
	}

	// 4. Record the execution as queued
	execID := uuid.New()
	now := time.Now().UTC()
	exec := &models.Execution{
		ID:          execID,
		WorkflowID:  workflowID,
		UserID:      userID,
		Status:      sdk.StatusQueued,
		SubmittedAt: now,
		LastEventAt: now,
	}
	if err := s.executions.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	// 5. Enqueue for the engine
	sub := &sdk.Submission{
		ExecutionID: execID.String(),
		WorkflowID:  req.WorkflowID,
		UserID:      userID,
		Definition:  definition,
		Inputs:      req.Inputs,
		Options:     req.Options,
		CreatedAt:   now.Unix(),
	}
	if err := sub.Validate(); err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission: %w", err)
	}
	if _, err := s.redis.AddToStream(ctx, runtime.SubmissionStream, map[string]interface{}{
		"submission": string(payload),
	}); err != nil {
		return nil, fmt.Errorf("failed to enqueue submission: %w", err)
	}

	s.logger.Info("Execution submitted",
		"execution_id", execID,
		"user_id", userID,
		"tier", profile.Tier,
		"nodes", profile.TotalNodes)

	return &SubmitResponse{
		ExecutionID: execID.String(),
		WorkflowID:  req.WorkflowID,
		Status:      sdk.StatusQueued,
	}, nil
}

// Get returns an execution with its spans, overlaying the hot status
// from Redis while the execution is still moving. The database row can
// lag behind by one consumer batch.
func (s *ExecutionService) Get(ctx context.Context, userID string, id uuid.UUID) (*ExecutionDetails, error) {
	exec, err := s.executions.GetByIDForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if !exec.IsTerminal() {
		if status, result, err := s.status.Load(ctx, id.String()); err == nil && status != "" {
			exec.Status = status
			if result != nil && len(exec.Result) == 0 {
				if raw, err := json.Marshal(result); err == nil {
					exec.Result = raw
				}
			}
		}
	}

	spans, err := s.events.ListSpans(ctx, id)
	if err != nil {
		s.logger.Warn("Failed to load spans", "execution_id", id, "error", err)
		spans = nil
	}

	return &ExecutionDetails{Execution: exec, Spans: spans}, nil
}

// List returns the user's executions, newest first.
func (s *ExecutionService) List(ctx context.Context, userID string, limit int) ([]*models.Execution, error) {
	return s.executions.ListByUser(ctx, userID, clampLimit(limit))
}

// Events returns the execution's event log in emission order.
func (s *ExecutionService) Events(ctx context.Context, userID string, id uuid.UUID, limit int) ([]*models.ExecutionEvent, error) {
	// Ownership check before touching the log
	if _, err := s.executions.GetByIDForUser(ctx, id, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	return s.events.ListByExecution(ctx, id, limit)
}

// Cancel asks the engine to stop a running execution. Delivery is
// best-effort: the execution may finish before the signal lands.
func (s *ExecutionService) Cancel(ctx context.Context, userID string, id uuid.UUID) error {
	exec, err := s.executions.GetByIDForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if exec.IsTerminal() {
		return &ConflictError{Msg: fmt.Sprintf("execution is already %s", exec.Status)}
	}

	sig := &sdk.ExecutionSignal{
		Kind:        sdk.SignalCancel,
		ExecutionID: id.String(),
		SentAt:      time.Now().Unix(),
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	if err := s.redis.PushToList(ctx, runtime.SignalList, string(payload)); err != nil {
		return fmt.Errorf("failed to send cancel signal: %w", err)
	}

	s.logger.Info("Cancel requested", "execution_id", id, "user_id", userID)
	return nil
}

// Approve resolves a human-review node on a paused execution.
func (s *ExecutionService) Approve(ctx context.Context, userID string, id uuid.UUID, nodeID string, req *ApprovalRequest) error {
	if req.Approved == nil {
		return &ValidationError{Msg: "approved is required"}
	}

	exec, err := s.executions.GetByIDForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if exec.IsTerminal() {
		return &ConflictError{Msg: fmt.Sprintf("execution is already %s", exec.Status)}
	}

	sig := &sdk.ExecutionSignal{
		Kind:        sdk.SignalApproval,
		ExecutionID: id.String(),
		NodeID:      nodeID,
		Approved:    req.Approved,
		Comment:     req.Comment,
		Approver:    userID,
		SentAt:      time.Now().Unix(),
	}
	if err := sig.Validate(); err != nil {
		return &ValidationError{Msg: err.Error()}
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	if err := s.redis.PushToList(ctx, runtime.SignalList, string(payload)); err != nil {
		return fmt.Errorf("failed to send approval signal: %w", err)
	}

	s.logger.Info("Approval submitted",
		"execution_id", id,
		"node_id", nodeID,
		"approved", *req.Approved,
		"approver", userID)
	return nil
}
