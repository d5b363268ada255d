package operators

import (
	"fmt"

	"github.com/weftlabs/weft/cmd/engine/compiler"
	"github.com/weftlabs/weft/cmd/engine/condition"
	"github.com/weftlabs/weft/cmd/engine/execctx"
	"github.com/weftlabs/weft/cmd/engine/scheduler"
)

// DefaultMaxLoopIterations guards runaway while/count loops.
const DefaultMaxLoopIterations = 10000

// CodeLoopLimitExceeded is raised when a loop passes its iteration cap.
const CodeLoopLimitExceeded = "LOOP_LIMIT_EXCEEDED"

// LoopLimitError reports a loop that exceeded its iteration budget.
type LoopLimitError struct {
	LoopID     string
	Iterations int
	Limit      int
}

func (e *LoopLimitError) Error() string {
	return fmt.Sprintf("%s: loop %s reached %d iterations, limit %d",
		CodeLoopLimitExceeded, e.LoopID, e.Iterations, e.Limit)
}

// LoopStart opens the loop frame. For item loops the items source is
// resolved here, once; count loops iterate a synthesized index range.
func (o *Inline) LoopStart(plan *compiler.Plan, snap *execctx.Snapshot, node *compiler.PlanNode) (Outcome, error) {
	lp := plan.Loop(node.ID)
	if lp == nil {
		return Outcome{}, fmt.Errorf("no loop for sentinel %s", node.ID)
	}

	frame := execctx.LoopFrame{LoopNodeID: lp.LoopID}
	out := map[string]interface{}{"loop": lp.LoopID}

	switch lp.Kind {
	case compiler.LoopForEach:
		resolved, err := snap.ResolveValue(lp.Items, nil)
		if err != nil {
			return Outcome{}, fmt.Errorf("loop %s items: %w", lp.LoopID, err)
		}
		items, ok := resolved.([]interface{})
		if !ok {
			return Outcome{}, fmt.Errorf("loop %s items resolved to %T, want array", lp.LoopID, resolved)
		}
		frame.Items = items
		out["count"] = len(items)
	case compiler.LoopCount:
		items := make([]interface{}, lp.Count)
		for i := range items {
			items[i] = i
		}
		frame.Items = items
		out["count"] = lp.Count
	case compiler.LoopWhile:
		frame.Condition = lp.Condition
	}

	return Outcome{Snapshot: snap.PushLoopFrame(frame), Output: out}, nil
}

// LoopHeader runs at the top of every iteration: it either binds the
// iteration variables and admits the body, or exits before the first
// run when there is nothing to iterate.
func (o *Inline) LoopHeader(plan *compiler.Plan, snap *execctx.Snapshot, node *compiler.PlanNode) (Outcome, error) {
	lp := plan.Loop(node.ID)
	if lp == nil {
		return Outcome{}, fmt.Errorf("node %s is not a loop header", node.ID)
	}
	frame, ok := snap.TopLoopFrame()
	if !ok || frame.LoopNodeID != lp.LoopID {
		return Outcome{}, fmt.Errorf("loop %s has no open frame", lp.LoopID)
	}

	limit := lp.MaxIterations
	if limit <= 0 {
		limit = o.MaxLoopIterations
	}
	if limit <= 0 {
		limit = DefaultMaxLoopIterations
	}
	if frame.Iteration >= limit {
		return Outcome{}, &LoopLimitError{LoopID: lp.LoopID, Iterations: frame.Iteration, Limit: limit}
	}

	more, err := o.loopContinues(lp, frame, snap)
	if err != nil {
		return Outcome{}, err
	}
	if !more {
		return Outcome{
			Snapshot: snap,
			Output:   map[string]interface{}{"iteration": frame.Iteration, "exhausted": true},
			Decision: compiler.HandleLoopExit,
		}, nil
	}

	out := map[string]interface{}{"iteration": frame.Iteration}
	if item, ok := frame.CurrentItem(); ok {
		snap = snap.SetVariable(lp.ItemVar, item)
		out["item"] = item
	}
	snap = snap.SetVariable(lp.IndexVar, frame.ItemIndex)
	return Outcome{Snapshot: snap, Output: out}, nil
}

// LoopEnd closes an iteration. Arriving through the body it advances
// the frame and either re-admits or exits; arriving through the skip
// edge (headerExited) it exits with the frame untouched.
func (o *Inline) LoopEnd(plan *compiler.Plan, snap *execctx.Snapshot, node *compiler.PlanNode, headerExited bool) (Outcome, error) {
	lp := plan.Loop(node.ID)
	if lp == nil {
		return Outcome{}, fmt.Errorf("no loop for sentinel %s", node.ID)
	}
	frame, ok := snap.TopLoopFrame()
	if !ok || frame.LoopNodeID != lp.LoopID {
		return Outcome{}, fmt.Errorf("loop %s has no open frame", lp.LoopID)
	}

	if headerExited {
		popped, err := snap.PopLoopFrame(lp.LoopID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Snapshot: popped,
			Output:   map[string]interface{}{"iteration": frame.Iteration, "completed": true},
			Decision: compiler.HandleLoopExit,
		}, nil
	}

	advanced, err := snap.AdvanceLoopFrame(lp.LoopID)
	if err != nil {
		return Outcome{}, err
	}
	frame, _ = advanced.TopLoopFrame()

	more, err := o.loopContinues(lp, frame, advanced)
	if err != nil {
		return Outcome{}, err
	}
	if more {
		return Outcome{
			Snapshot: advanced,
			Output:   map[string]interface{}{"iteration": frame.Iteration, "completed": false},
			Decision: scheduler.DecisionLoopContinue,
		}, nil
	}

	popped, err := advanced.PopLoopFrame(lp.LoopID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Snapshot: popped,
		Output:   map[string]interface{}{"iteration": frame.Iteration, "completed": true},
		Decision: compiler.HandleLoopExit,
	}, nil
}

// loopContinues is the single continue test shared by the header and
// the end sentinel.
func (o *Inline) loopContinues(lp *compiler.LoopPlan, frame execctx.LoopFrame, snap *execctx.Snapshot) (bool, error) {
	switch lp.Kind {
	case compiler.LoopForEach, compiler.LoopCount:
		return frame.ItemIndex < len(frame.Items), nil
	case compiler.LoopWhile:
		b := condition.Bindings{
			Inputs:    snap.Inputs,
			Vars:      snap.Variables,
			Outputs:   snap.NodeOutputs,
			Index:     frame.ItemIndex,
			Iteration: frame.Iteration,
		}
		more, err := o.evaluator.EvalBool(frame.Condition, b)
		if err != nil {
			return false, fmt.Errorf("loop %s condition: %w", lp.LoopID, err)
		}
		return more, nil
	default:
		return false, fmt.Errorf("loop %s has unknown kind %q", lp.LoopID, lp.Kind)
	}
}
