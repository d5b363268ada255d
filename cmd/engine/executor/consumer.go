package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/weftlabs/weft/cmd/engine/compiler"
	"github.com/weftlabs/weft/cmd/engine/lifecycle"
	"github.com/weftlabs/weft/cmd/engine/runtime"
	redisWrapper "github.com/weftlabs/weft/common/redis"
	"github.com/weftlabs/weft/common/sdk"
)

// ConsumerGroup is the consumer group all engine replicas join on the
// submission stream.
const ConsumerGroup = "engine_executors"

// Consumer drains the submission stream and runs each execution to
// completion. One claimed message maps to one orchestrator run; a
// SetNX guard keeps redelivered messages from starting a second run.
type Consumer struct {
	redis        *redisWrapper.Client
	orchestrator *Orchestrator
	status       *lifecycle.StatusManager
	signals      *SignalRouter
	defaults     RunSpec
	logger       Logger
	consumerName string
}

// ConsumerOpts holds the dependencies for NewConsumer. Signals is
// optional; without it cancel signals have nothing to land on.
// Defaults back-fills run spec knobs a submission leaves at zero,
// typically from deployment config.
type ConsumerOpts struct {
	Redis        *redisWrapper.Client
	Orchestrator *Orchestrator
	Status       *lifecycle.StatusManager
	Signals      *SignalRouter
	Defaults     RunSpec
	Logger       Logger
}

// NewConsumer creates a submission consumer with a unique consumer
// name inside the shared group.
func NewConsumer(opts ConsumerOpts) *Consumer {
	return &Consumer{
		redis:        opts.Redis,
		orchestrator: opts.Orchestrator,
		status:       opts.Status,
		signals:      opts.Signals,
		defaults:     opts.Defaults,
		logger:       opts.Logger,
		consumerName: fmt.Sprintf("executor_%s", uuid.New().String()[:8]),
	}
}

// Start consumes submissions until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.redis.CreateStreamGroup(ctx, runtime.SubmissionStream, ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Submission consumer started",
		"stream", runtime.SubmissionStream,
		"group", ConsumerGroup,
		"consumer", c.consumerName)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Submission consumer stopping")
			return ctx.Err()
		default:
			if err := c.processNextMessage(ctx); err != nil {
				c.logger.Error("Error processing submission message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (c *Consumer) processNextMessage(ctx context.Context) error {
	streams, err := c.redis.ReadFromStreamGroup(ctx, ConsumerGroup, c.consumerName, runtime.SubmissionStream, 1, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to read from submission stream: %w", err)
	}
	if len(streams) == 0 {
		return nil
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := c.handleMessage(ctx, message); err != nil {
				c.logger.Error("Failed to handle submission",
					"message_id", message.ID,
					"error", err)
			}
			// Ack either way: a submission that cannot be parsed or
			// claimed will not get better on redelivery.
			if err := c.redis.AckStreamMessage(ctx, runtime.SubmissionStream, ConsumerGroup, message.ID); err != nil {
				c.logger.Error("Failed to ack submission",
					"message_id", message.ID,
					"error", err)
			}
		}
	}
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, message goredis.XMessage) error {
	raw, ok := message.Values["submission"].(string)
	if !ok {
		return fmt.Errorf("message %s has no submission field", message.ID)
	}

	var sub sdk.Submission
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return fmt.Errorf("failed to unmarshal submission: %w", err)
	}
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("invalid submission: %w", err)
	}

	startedKey := fmt.Sprintf("exec:started:%s", sub.ExecutionID)
	claimed, err := c.redis.SetNX(ctx, startedKey, "1", 24*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to claim execution %s: %w", sub.ExecutionID, err)
	}
	if !claimed {
		c.logger.Info("Execution already started, skipping duplicate",
			"execution_id", sub.ExecutionID)
		return nil
	}

	c.logger.Info("Processing submission",
		"execution_id", sub.ExecutionID,
		"workflow_id", sub.WorkflowID)

	c.Execute(ctx, &sub)
	return nil
}

// Execute compiles and runs one submission, recording every status
// transition. Build errors fail the execution without starting it.
func (c *Consumer) Execute(ctx context.Context, sub *sdk.Submission) {
	res := compiler.CompileJSON(sub.Definition)
	if !res.OK() {
		c.logger.Warn("Workflow failed to build",
			"execution_id", sub.ExecutionID,
			"errors", len(res.Errors))
		c.status.RecordResult(ctx, sub.ExecutionID, sdk.StatusFailed, buildFailureResult(res))
		return
	}

	c.storePlan(ctx, sub.ExecutionID, res.Plan)
	c.status.UpdateStatus(ctx, sub.ExecutionID, sdk.StatusRunning)

	runCtx := ctx
	if c.signals != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(ctx)
		c.signals.Track(sub.ExecutionID, cancel)
		defer func() {
			c.signals.Forget(sub.ExecutionID)
			cancel()
		}()
	}

	spec := SpecFromSubmission(sub)
	applyDefaults(&spec, c.defaults)
	result := c.orchestrator.Run(runCtx, res.Plan, spec)

	c.status.RecordResult(ctx, sub.ExecutionID, statusFor(&result), &result)
}

// applyDefaults fills spec knobs the submission left at zero.
// Per-submission options always win over the deployment defaults.
func applyDefaults(spec *RunSpec, d RunSpec) {
	if spec.Timeout == 0 {
		spec.Timeout = d.Timeout
	}
	if spec.MaxConcurrent == 0 {
		spec.MaxConcurrent = d.MaxConcurrent
	}
	if spec.MaxLoopIterations == 0 {
		spec.MaxLoopIterations = d.MaxLoopIterations
	}
	if spec.Limits.MaxNodeOutputBytes == 0 {
		spec.Limits.MaxNodeOutputBytes = d.Limits.MaxNodeOutputBytes
	}
	if spec.Limits.MaxContextBytes == 0 {
		spec.Limits.MaxContextBytes = d.Limits.MaxContextBytes
	}
}

// storePlan mirrors the compiled plan into Redis so the supervisor
// and debugging tools can inspect it. Losing the mirror is harmless.
func (c *Consumer) storePlan(ctx context.Context, executionID string, plan *compiler.Plan) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		c.logger.Error("Failed to marshal plan",
			"execution_id", executionID,
			"error", err)
		return
	}
	key := fmt.Sprintf("exec:plan:%s", executionID)
	if err := c.redis.SetWithExpiry(ctx, key, string(planJSON), 24*time.Hour); err != nil {
		c.logger.Error("Failed to store plan",
			"execution_id", executionID,
			"error", err)
	}
}

// buildFailureResult turns build diagnostics into a terminal result.
func buildFailureResult(res *compiler.Result) *sdk.ExecutionResult {
	kind := compiler.CodeInvalidInput
	if len(res.Errors) > 0 {
		kind = res.Errors[0].Code
	}
	return &sdk.ExecutionResult{
		Success: false,
		Error: &sdk.ExecutionError{
			Kind:    kind,
			Message: res.Err().Error(),
		},
	}
}

func statusFor(result *sdk.ExecutionResult) string {
	switch {
	case result.Success:
		return sdk.StatusCompleted
	case result.Error != nil && result.Error.Kind == sdk.ErrKindCancelled:
		return sdk.StatusCancelled
	default:
		return sdk.StatusFailed
	}
}
