package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/cmd/engine/compiler"
	"github.com/weftlabs/weft/cmd/engine/events"
	"github.com/weftlabs/weft/cmd/engine/execctx"
	"github.com/weftlabs/weft/cmd/engine/runtime"
	"github.com/weftlabs/weft/cmd/engine/scheduler"
	"github.com/weftlabs/weft/common/sdk"
)

// launch interpolates a node's config and hands it to the dispatcher
// on its own goroutine. Interpolation happens here, on the
// orchestrator goroutine: the snapshot is not shared with activities.
func (r *run) launch(ctx, actCtx context.Context, node *compiler.PlanNode) {
	r.emit(ctx, events.KindNodeStarted, map[string]interface{}{
		"nodeId":   node.ID,
		"nodeName": node.Name,
		"nodeType": node.Kind,
	})
	r.executed++

	var overlay map[string]interface{}
	if node.Branch != nil {
		overlay = node.Branch.Vars
	}
	config, err := r.snap.ResolveConfig(node.Config, overlay)
	if err != nil {
		kind := CodeInterpolationFailed
		var refErr *execctx.RefError
		if errors.As(err, &refErr) {
			kind = refErr.Code
		}
		r.failNode(ctx, node.ID, kind, err.Error())
		return
	}

	act := runtime.Activity{
		ID:          uuid.NewString(),
		ExecutionID: r.spec.ExecutionID,
		NodeID:      node.ID,
		NodeName:    node.Name,
		NodeType:    node.Kind,
		Config:      config,
		Context:     r.activityContext(),
		UserID:      r.spec.UserID,
	}

	if node.Kind == compiler.KindHumanReview {
		r.emit(ctx, events.KindApprovalNeeded, map[string]interface{}{
			"nodeId":   node.ID,
			"nodeName": node.Name,
			"message":  config["message"],
		})
		r.emit(ctx, events.KindExecutionPaused, map[string]interface{}{
			"nodeId": node.ID,
			"reason": "approval",
		})
	}

	r.inflight++
	started := r.o.now()
	go func() {
		result := r.o.dispatcher.Dispatch(actCtx, act, r.spec.RetryPolicy)
		r.results <- nodeResult{
			nodeID:  node.ID,
			result:  result,
			elapsed: r.o.now().Sub(started),
		}
	}()
}

// activityContext is the read-only slice of state a handler may see.
// Copy-on-write snapshots make sharing the maps safe: later writes
// allocate fresh ones.
func (r *run) activityContext() map[string]interface{} {
	return map[string]interface{}{
		"inputs":    r.snap.Inputs,
		"variables": r.snap.Variables,
		"shared":    r.snap.SharedMemory,
	}
}

// applyResult feeds one terminal activity result into the context
// store and the queue. Results arriving after a halt are dropped; the
// nodes are already skipped.
func (r *run) applyResult(ctx context.Context, res nodeResult) {
	if r.halted() {
		r.o.logger.Debug("dropping late result",
			"execution_id", r.spec.ExecutionID, "node_id", res.nodeID)
		return
	}

	node := r.plan.Node(res.nodeID)
	resp := res.result.Response

	if extra := res.result.Attempts - 1; extra > 0 {
		r.retried += extra
		errType := ""
		if resp.Error != nil {
			errType = resp.Error.Type
		}
		r.o.metrics.AddRetries(node.Kind, errType, extra)
	}

	if !resp.Success {
		errType, message := "other", "handler returned no error"
		if resp.Error != nil {
			errType, message = resp.Error.Type, resp.Error.Message
		}
		r.o.metrics.ObserveNodeLatency(node.Kind, "error", res.elapsed)
		r.failNode(ctx, node.ID, errType, message)
		return
	}

	value := interface{}(resp.Result)
	if resp.Result == nil {
		value = map[string]interface{}{}
	}
	if !r.admitOutput(ctx, node.ID, value) {
		return
	}
	r.applySignals(resp.Signals)

	if err := r.queue.MarkCompleted(node.ID, ""); err != nil {
		r.o.logger.Error("completion rejected",
			"execution_id", r.spec.ExecutionID, "node_id", node.ID, "error", err)
		return
	}

	r.o.metrics.ObserveNodeLatency(node.Kind, "success", res.elapsed)
	r.emit(ctx, events.KindNodeCompleted, map[string]interface{}{
		"nodeId":   node.ID,
		"nodeType": node.Kind,
		"attempts": res.result.Attempts,
	})

	if node.Kind == compiler.KindHumanReview {
		r.emit(ctx, events.KindApprovalResolved, map[string]interface{}{
			"nodeId":   node.ID,
			"approved": resp.Result["approved"],
		})
	}
}

// applySignals handles handler side-channel writes.
func (r *run) applySignals(signals map[string]interface{}) {
	if len(signals) == 0 {
		return
	}
	if vars, ok := signals["set_variables"].(map[string]interface{}); ok {
		for k, v := range vars {
			r.snap = r.snap.SetVariable(k, v)
		}
	}
	if shared, ok := signals["set_shared"].(map[string]interface{}); ok {
		for k, v := range shared {
			r.snap = r.snap.SetShared(k, v)
		}
	}
}

// finish assembles the execution result and emits the terminal event.
func (r *run) finish(ctx context.Context) sdk.ExecutionResult {
	// The final event must go out even when ctx caused the halt.
	emitCtx := context.WithoutCancel(ctx)

	result := sdk.ExecutionResult{
		Outputs: r.snap.FinalOutputs(r.plan.OutputIDs),
		Metrics: sdk.ExecutionMetrics{
			DurationMs:        r.o.now().Sub(r.started).Milliseconds(),
			NodeCount:         r.executed,
			RetriedCount:      r.retried,
			PrunedOutputCount: r.pruned,
		},
	}

	switch {
	case r.timedOut:
		result.Error = &sdk.ExecutionError{
			Kind:    sdk.ErrKindTimeout,
			Message: fmt.Sprintf("execution exceeded %s", r.spec.Timeout),
		}
	case r.cancelled:
		result.Error = &sdk.ExecutionError{
			Kind:    sdk.ErrKindCancelled,
			Message: "execution cancelled",
		}
	default:
		if ff := r.requiredOutputFailure(); ff != nil {
			result.Error = &sdk.ExecutionError{Kind: ff.kind, Message: ff.message}
			result.FailedNodeID = ff.nodeID
		}
	}

	if result.Error != nil {
		r.emit(emitCtx, events.KindExecutionFailed, map[string]interface{}{
			"failedNodeId": result.FailedNodeID,
			"kind":         result.Error.Kind,
			"message":      result.Error.Message,
		})
		r.o.metrics.CountExecution("failed")
		r.o.logger.Warn("execution failed",
			"execution_id", r.spec.ExecutionID,
			"kind", result.Error.Kind,
			"failed_node_id", result.FailedNodeID,
			"duration_ms", result.Metrics.DurationMs)
		return result
	}

	result.Success = true
	r.emit(emitCtx, events.KindExecutionCompleted, map[string]interface{}{
		"durationMs": result.Metrics.DurationMs,
		"nodeCount":  result.Metrics.NodeCount,
	})
	r.o.metrics.CountExecution("completed")
	r.o.logger.Info("execution completed",
		"execution_id", r.spec.ExecutionID,
		"node_count", result.Metrics.NodeCount,
		"duration_ms", result.Metrics.DurationMs)
	return result
}

// requiredOutputFailure decides whether the run failed: an output node
// failed outright, or a failure cascade skipped one. Outputs pruned by
// branch selection alone do not fail the run.
func (r *run) requiredOutputFailure() *failureRecord {
	outputFailed, outputSkipped := false, false
	for _, id := range r.plan.OutputIDs {
		switch r.queue.NodeStatus(id) {
		case scheduler.StatusFailed:
			outputFailed = true
		case scheduler.StatusSkipped:
			outputSkipped = true
		}
	}
	if outputFailed || (outputSkipped && r.firstFailure != nil) {
		return r.firstFailure
	}
	return nil
}
