// Package operators evaluates the control-flow node kinds inline in
// the orchestrator loop: triggers, conditionals, switches, loop
// sentinels, parallel fan and output collection. They are pure over
// (plan, snapshot) and produce the scheduler decision for their node.
package operators

import (
	"fmt"

	"github.com/weftlabs/weft/cmd/engine/compiler"
	"github.com/weftlabs/weft/cmd/engine/condition"
	"github.com/weftlabs/weft/cmd/engine/execctx"
)

// Outcome carries an inline node's result: the snapshot after any
// frame or variable updates, the output to store, and the handle
// decision for the scheduler ("" for plain activation).
type Outcome struct {
	Snapshot *execctx.Snapshot
	Output   map[string]interface{}
	Decision string
}

// Inline evaluates control-flow nodes. Stateless apart from the
// expression cache inside the evaluator.
type Inline struct {
	evaluator *condition.Evaluator

	// MaxLoopIterations caps loops whose plan does not set a limit of
	// its own. Zero keeps the engine default.
	MaxLoopIterations int
}

func NewInline(evaluator *condition.Evaluator) *Inline {
	return &Inline{evaluator: evaluator}
}

// Trigger echoes the workflow inputs as the entry node's output.
func (o *Inline) Trigger(snap *execctx.Snapshot, node *compiler.PlanNode) Outcome {
	out := map[string]interface{}{}
	for k, v := range snap.Inputs {
		out[k] = v
	}
	return Outcome{Snapshot: snap, Output: out}
}

// Conditional evaluates the node's condition and selects the true or
// false handle.
func (o *Inline) Conditional(plan *compiler.Plan, snap *execctx.Snapshot, node *compiler.PlanNode) (Outcome, error) {
	expr, ok := node.Config["condition"].(string)
	if !ok || expr == "" {
		return Outcome{}, fmt.Errorf("conditional %s has no condition", node.ID)
	}

	result, err := o.evaluator.EvalBool(expr, o.bindings(plan, snap, node))
	if err != nil {
		return Outcome{}, fmt.Errorf("conditional %s: %w", node.ID, err)
	}

	decision := compiler.HandleFalse
	if result {
		decision = compiler.HandleTrue
	}
	return Outcome{
		Snapshot: snap,
		Output:   map[string]interface{}{"result": result},
		Decision: decision,
	}, nil
}

// Switch evaluates the node's expression and selects the matching
// case handle, falling back to default when no edge matches.
func (o *Inline) Switch(plan *compiler.Plan, snap *execctx.Snapshot, node *compiler.PlanNode) (Outcome, error) {
	expr, ok := node.Config["expression"].(string)
	if !ok || expr == "" {
		return Outcome{}, fmt.Errorf("switch %s has no expression", node.ID)
	}

	value, err := o.evaluator.EvalValue(expr, o.bindings(plan, snap, node))
	if err != nil {
		return Outcome{}, fmt.Errorf("switch %s: %w", node.ID, err)
	}

	handle := compiler.CaseHandlePrefix + fmt.Sprintf("%v", value)
	matched := false
	for _, e := range plan.OutgoingEdges(node.ID) {
		if e.HandleType == handle {
			matched = true
			break
		}
	}
	if !matched {
		handle = compiler.HandleDefault
	}
	return Outcome{
		Snapshot: snap,
		Output:   map[string]interface{}{"case": handle, "value": value},
		Decision: handle,
	}, nil
}

// Parallel opens one frame per declared branch. The fan itself carries
// no data; branch copies read their vars from the plan.
func (o *Inline) Parallel(plan *compiler.Plan, snap *execctx.Snapshot, node *compiler.PlanNode) (Outcome, error) {
	branches := plan.ParallelBranches[node.ID]
	if len(branches) == 0 {
		return Outcome{}, fmt.Errorf("parallel %s has no branches", node.ID)
	}
	for _, b := range branches {
		snap = snap.PushParallelFrame(execctx.ParallelFrame{
			ParallelNodeID: node.ID,
			BranchID:       b,
		})
	}
	return Outcome{
		Snapshot: snap,
		Output:   map[string]interface{}{"branches": branches},
	}, nil
}

// Output collects the node's result: an explicit config value when
// present, a single upstream output passed through, or a map of all
// completed upstream outputs.
func (o *Inline) Output(plan *compiler.Plan, snap *execctx.Snapshot, node *compiler.PlanNode) (Outcome, error) {
	if raw, ok := node.Config["value"]; ok {
		resolved, err := snap.ResolveValue(raw, nil)
		if err != nil {
			return Outcome{}, fmt.Errorf("output %s: %w", node.ID, err)
		}
		return Outcome{Snapshot: snap, Output: wrapOutput(resolved)}, nil
	}

	present := make([]string, 0, len(node.Dependencies))
	for _, dep := range node.Dependencies {
		if _, ok := snap.NodeOutputs[dep]; ok {
			present = append(present, dep)
		}
	}
	if len(present) == 1 {
		return Outcome{Snapshot: snap, Output: wrapOutput(snap.NodeOutputs[present[0]])}, nil
	}

	merged := map[string]interface{}{}
	for _, dep := range present {
		merged[dep] = snap.NodeOutputs[dep]
	}
	return Outcome{Snapshot: snap, Output: merged}, nil
}

// wrapOutput keeps node outputs map-shaped without losing scalars.
func wrapOutput(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"value": v}
}

// bindings assembles the expression environment from a snapshot. The
// output binding is the sole upstream output when unambiguous.
func (o *Inline) bindings(plan *compiler.Plan, snap *execctx.Snapshot, node *compiler.PlanNode) condition.Bindings {
	b := condition.Bindings{
		Inputs:  snap.Inputs,
		Vars:    snap.Variables,
		Outputs: snap.NodeOutputs,
	}
	var present []string
	for _, dep := range node.Dependencies {
		if _, ok := snap.NodeOutputs[dep]; ok {
			present = append(present, dep)
		}
	}
	if len(present) == 1 {
		b.Output = snap.NodeOutputs[present[0]]
	}
	if frame, ok := snap.TopLoopFrame(); ok {
		if item, ok := frame.CurrentItem(); ok {
			b.Item = item
		}
		b.Index = frame.ItemIndex
		b.Iteration = frame.Iteration
	}
	return b
}
