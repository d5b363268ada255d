package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/weftlabs/weft/cmd/engine/compiler"
	"github.com/weftlabs/weft/cmd/engine/events"
	"github.com/weftlabs/weft/cmd/engine/execctx"
	"github.com/weftlabs/weft/cmd/engine/governor"
	"github.com/weftlabs/weft/cmd/engine/operators"
	"github.com/weftlabs/weft/cmd/engine/scheduler"
	"github.com/weftlabs/weft/common/nodes"
)

// runInline evaluates a control-flow node on the orchestrator
// goroutine and applies its outcome: snapshot, stored output, and the
// scheduling decision.
func (r *run) runInline(ctx context.Context, node *compiler.PlanNode) {
	r.emit(ctx, events.KindNodeStarted, map[string]interface{}{
		"nodeId":   node.ID,
		"nodeName": node.Name,
		"nodeType": node.Kind,
	})
	r.executed++

	out, err := r.evalInline(node)
	if err != nil {
		kind, message := classifyInlineError(err)
		r.failNode(ctx, node.ID, kind, message)
		return
	}
	r.snap = out.Snapshot

	if out.Output != nil {
		if !r.admitOutput(ctx, node.ID, out.Output) {
			return
		}
	}

	if err := r.queue.MarkCompleted(node.ID, out.Decision); err != nil {
		r.o.logger.Error("inline completion rejected",
			"execution_id", r.spec.ExecutionID, "node_id", node.ID, "error", err)
		return
	}

	if out.Decision == scheduler.DecisionLoopContinue {
		lp := r.plan.Loop(node.ID)
		if err := r.queue.Readmit(lp.LoopID); err != nil {
			r.failNode(ctx, node.ID, nodes.ErrorTypeOther, err.Error())
			return
		}
		if frame, ok := r.snap.TopLoopFrame(); ok {
			r.emit(ctx, events.KindExecutionProgress, map[string]interface{}{
				"loopId":    lp.LoopID,
				"iteration": frame.Iteration,
			})
		}
	}

	r.emit(ctx, events.KindNodeCompleted, map[string]interface{}{
		"nodeId":   node.ID,
		"nodeType": node.Kind,
	})
}

func (r *run) evalInline(node *compiler.PlanNode) (operators.Outcome, error) {
	switch node.Kind {
	case compiler.KindTrigger:
		return r.inline.Trigger(r.snap, node), nil
	case compiler.KindConditional:
		return r.inline.Conditional(r.plan, r.snap, node)
	case compiler.KindSwitch:
		return r.inline.Switch(r.plan, r.snap, node)
	case compiler.KindParallel:
		return r.inline.Parallel(r.plan, r.snap, node)
	case compiler.KindOutput:
		return r.inline.Output(r.plan, r.snap, node)
	case compiler.KindLoopStart:
		return r.inline.LoopStart(r.plan, r.snap, node)
	case compiler.KindLoop:
		return r.inline.LoopHeader(r.plan, r.snap, node)
	case compiler.KindLoopEnd:
		lp := r.plan.Loop(node.ID)
		headerExited := lp != nil && r.queue.Decision(lp.LoopID) == compiler.HandleLoopExit
		return r.inline.LoopEnd(r.plan, r.snap, node, headerExited)
	default:
		return operators.Outcome{}, fmt.Errorf("node %s has kind %s, which is not inline", node.ID, node.Kind)
	}
}

// classifyInlineError maps evaluation failures onto stable codes.
func classifyInlineError(err error) (string, string) {
	var loopErr *operators.LoopLimitError
	if errors.As(err, &loopErr) {
		return operators.CodeLoopLimitExceeded, loopErr.Error()
	}
	var refErr *execctx.RefError
	if errors.As(err, &refErr) {
		return refErr.Code, refErr.Error()
	}
	return nodes.ErrorTypeValidation, err.Error()
}

// failNode records a node failure and cascades it. The first failure
// of the run is remembered as the root cause.
func (r *run) failNode(ctx context.Context, nodeID, kind, message string) {
	if r.firstFailure == nil {
		r.firstFailure = &failureRecord{nodeID: nodeID, kind: kind, message: message}
	}

	// With an error edge the failure is handled downstream; the error
	// record becomes the node's readable output.
	if r.hasErrorEdge(nodeID) {
		record := map[string]interface{}{"error": true, "type": kind, "message": message}
		if snap, _, err := r.gov.Admit(r.snap, nodeID, record, r.outputRequired); err == nil {
			r.snap = snap
		} else {
			r.o.logger.Error("failed to store error record",
				"execution_id", r.spec.ExecutionID, "node_id", nodeID, "error", err)
		}
	}

	if err := r.queue.MarkFailed(nodeID); err != nil {
		r.o.logger.Error("failure transition rejected",
			"execution_id", r.spec.ExecutionID, "node_id", nodeID, "error", err)
		return
	}
	r.o.logger.Warn("node failed",
		"execution_id", r.spec.ExecutionID, "node_id", nodeID, "kind", kind, "message", message)
	r.emit(ctx, events.KindNodeFailed, map[string]interface{}{
		"nodeId":  nodeID,
		"kind":    kind,
		"message": message,
	})
}

func (r *run) hasErrorEdge(nodeID string) bool {
	for _, e := range r.plan.OutgoingEdges(nodeID) {
		if e.HandleType == compiler.HandleError {
			return true
		}
	}
	return false
}

// admitOutput stores a node output within the byte budgets. A limit
// violation fails the node and returns false.
func (r *run) admitOutput(ctx context.Context, nodeID string, value interface{}) bool {
	snap, report, err := r.gov.Admit(r.snap, nodeID, value, r.outputRequired)
	if err != nil {
		var limitErr *governor.LimitError
		if errors.As(err, &limitErr) {
			r.failNode(ctx, nodeID, limitErr.Code, limitErr.Error())
		} else {
			r.failNode(ctx, nodeID, nodes.ErrorTypeOther, err.Error())
		}
		return false
	}
	r.snap = snap
	if len(report.Evicted) > 0 {
		r.pruned += len(report.Evicted)
		r.o.metrics.AddEvictions(len(report.Evicted))
		r.o.logger.Info("evicted outputs to fit the context budget",
			"execution_id", r.spec.ExecutionID, "node_id", nodeID, "evicted", report.Evicted)
	}
	return true
}

// outputRequired protects outputs that non-terminal dependents still
// read from eviction.
func (r *run) outputRequired(nodeID string) bool {
	node := r.plan.Node(nodeID)
	if node == nil {
		return false
	}
	for _, d := range node.Dependents {
		if !r.queue.NodeStatus(d).Terminal() {
			return true
		}
	}
	return false
}
