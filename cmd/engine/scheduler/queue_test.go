package scheduler

import (
	"reflect"
	"testing"

	"github.com/weftlabs/weft/cmd/engine/compiler"
)

func mustPlan(t *testing.T, def *compiler.Definition) *compiler.Plan {
	t.Helper()
	res := compiler.Compile(def)
	if !res.OK() {
		t.Fatalf("Compile failed: %v", res.Errors)
	}
	return res.Plan
}

func node(kind, name string, config map[string]interface{}) compiler.DefNode {
	if config == nil {
		config = map[string]interface{}{}
	}
	return compiler.DefNode{Type: kind, Name: name, Config: config}
}

func edge(id, source, target, handle string) compiler.DefEdge {
	return compiler.DefEdge{ID: id, Source: source, Target: target, SourceHandle: handle}
}

func linearPlan(t *testing.T) *compiler.Plan {
	return mustPlan(t, &compiler.Definition{
		Name:       "linear",
		EntryPoint: "T",
		Nodes: map[string]compiler.DefNode{
			"T":   node(compiler.KindTrigger, "start", nil),
			"A":   node(compiler.KindTransform, "step", nil),
			"Out": node(compiler.KindOutput, "done", nil),
		},
		Edges: []compiler.DefEdge{
			edge("e1", "T", "A", ""),
			edge("e2", "A", "Out", ""),
		},
	})
}

func TestQueue_InitialState(t *testing.T) {
	q := New(linearPlan(t))

	if got := q.NodeStatus("T"); got != StatusReady {
		t.Errorf("Expected trigger ready, got %s", got)
	}
	for _, id := range []string{"A", "Out"} {
		if got := q.NodeStatus(id); got != StatusPending {
			t.Errorf("Node %s: expected pending, got %s", id, got)
		}
	}
	if q.IsComplete() {
		t.Errorf("Fresh queue should not be complete")
	}
	if got := q.GetReady(10); !reflect.DeepEqual(got, []string{"T"}) {
		t.Errorf("Expected ready [T], got %v", got)
	}
}

func TestQueue_LinearCascade(t *testing.T) {
	q := New(linearPlan(t))

	if err := q.MarkExecuting("T"); err != nil {
		t.Fatalf("MarkExecuting failed: %v", err)
	}
	if err := q.MarkCompleted("T", ""); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if got := q.NodeStatus("A"); got != StatusReady {
		t.Errorf("Expected A ready after trigger, got %s", got)
	}
	if got := q.NodeStatus("Out"); got != StatusPending {
		t.Errorf("Out should wait for A, got %s", got)
	}

	q.MarkExecuting("A")
	q.MarkCompleted("A", "")
	q.MarkExecuting("Out")
	q.MarkCompleted("Out", "")

	if !q.IsComplete() {
		t.Errorf("Expected complete queue, counts=%v", q.Counts())
	}
	if got := q.Counts()[StatusCompleted]; got != 3 {
		t.Errorf("Expected 3 completed, got %d", got)
	}
}

func TestQueue_ReadyOrderAndLimit(t *testing.T) {
	plan := mustPlan(t, &compiler.Definition{
		Name:       "diamond",
		EntryPoint: "T",
		Nodes: map[string]compiler.DefNode{
			"T": node(compiler.KindTrigger, "start", nil),
			"A": node(compiler.KindTransform, "a", nil),
			"B": node(compiler.KindTransform, "b", nil),
			"J": node(compiler.KindTransform, "join", nil),
		},
		Edges: []compiler.DefEdge{
			edge("e1", "T", "A", ""),
			edge("e2", "T", "B", ""),
			edge("e3", "A", "J", ""),
			edge("e4", "B", "J", ""),
		},
	})
	q := New(plan)
	q.MarkExecuting("T")
	q.MarkCompleted("T", "")

	// Same depth: admission order, here the dependent iteration order.
	if got := q.GetReady(10); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Expected ready [A B], got %v", got)
	}
	if got := q.GetReady(1); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("Expected limited ready [A], got %v", got)
	}
	if got := q.GetReady(0); got != nil {
		t.Errorf("Expected no ready at limit 0, got %v", got)
	}

	// The join waits for both arms.
	q.MarkExecuting("A")
	q.MarkCompleted("A", "")
	if got := q.NodeStatus("J"); got != StatusPending {
		t.Errorf("Join should wait for B, got %s", got)
	}
	q.MarkExecuting("B")
	q.MarkCompleted("B", "")
	if got := q.NodeStatus("J"); got != StatusReady {
		t.Errorf("Join should be ready, got %s", got)
	}
}

func conditionalPlan(t *testing.T) *compiler.Plan {
	return mustPlan(t, &compiler.Definition{
		Name:       "cond",
		EntryPoint: "T",
		Nodes: map[string]compiler.DefNode{
			"T":   node(compiler.KindTrigger, "start", nil),
			"C":   node(compiler.KindConditional, "check", map[string]interface{}{"condition": "true"}),
			"A":   node(compiler.KindTransform, "a", nil),
			"B":   node(compiler.KindTransform, "b", nil),
			"Out": node(compiler.KindOutput, "done", nil),
		},
		Edges: []compiler.DefEdge{
			edge("e1", "T", "C", ""),
			edge("et", "C", "A", "true"),
			edge("ef", "C", "B", "false"),
			edge("e2", "A", "Out", ""),
			edge("e3", "B", "Out", ""),
		},
	})
}

// TestQueue_ConditionalPrune takes the false branch: the true side is
// skipped while the join still completes from the surviving branch.
func TestQueue_ConditionalPrune(t *testing.T) {
	q := New(conditionalPlan(t))
	q.MarkExecuting("T")
	q.MarkCompleted("T", "")
	q.MarkExecuting("C")
	if err := q.MarkCompleted("C", compiler.HandleFalse); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	if got := q.NodeStatus("A"); got != StatusSkipped {
		t.Errorf("Expected A skipped, got %s", got)
	}
	if got := q.NodeStatus("B"); got != StatusReady {
		t.Errorf("Expected B ready, got %s", got)
	}
	if got := q.Decision("C"); got != compiler.HandleFalse {
		t.Errorf("Expected recorded decision false, got %q", got)
	}

	// The join must not be dragged down by the dead branch.
	q.MarkExecuting("B")
	q.MarkCompleted("B", "")
	if got := q.NodeStatus("Out"); got != StatusReady {
		t.Errorf("Expected Out ready from surviving branch, got %s", got)
	}
	q.MarkExecuting("Out")
	q.MarkCompleted("Out", "")
	if !q.IsComplete() {
		t.Errorf("Expected complete queue, counts=%v", q.Counts())
	}
}

// TestQueue_FailureSkipsDownstream fails one fan arm without an error
// edge: everything strictly downstream is skipped even though the
// sibling arms completed.
func TestQueue_FailureSkipsDownstream(t *testing.T) {
	plan := mustPlan(t, &compiler.Definition{
		Name:       "ensemble",
		EntryPoint: "T",
		Nodes: map[string]compiler.DefNode{
			"T":     node(compiler.KindTrigger, "start", nil),
			"M1":    node(compiler.KindTransform, "m1", nil),
			"M2":    node(compiler.KindTransform, "m2", nil),
			"M3":    node(compiler.KindTransform, "m3", nil),
			"Merge": node(compiler.KindTransform, "merge", nil),
			"Out":   node(compiler.KindOutput, "done", nil),
		},
		Edges: []compiler.DefEdge{
			edge("e1", "T", "M1", ""),
			edge("e2", "T", "M2", ""),
			edge("e3", "T", "M3", ""),
			edge("e4", "M1", "Merge", ""),
			edge("e5", "M2", "Merge", ""),
			edge("e6", "M3", "Merge", ""),
			edge("e7", "Merge", "Out", ""),
		},
	})
	q := New(plan)
	q.MarkExecuting("T")
	q.MarkCompleted("T", "")
	q.MarkExecuting("M1", "M2", "M3")
	q.MarkCompleted("M1", "")
	if err := q.MarkFailed("M2"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	q.MarkCompleted("M3", "")

	if got := q.NodeStatus("Merge"); got != StatusSkipped {
		t.Errorf("Expected Merge skipped, got %s", got)
	}
	if got := q.NodeStatus("Out"); got != StatusSkipped {
		t.Errorf("Expected Out skipped, got %s", got)
	}
	if !q.IsComplete() {
		t.Errorf("Expected complete queue, counts=%v", q.Counts())
	}
	if got := q.InState(StatusFailed); !reflect.DeepEqual(got, []string{"M2"}) {
		t.Errorf("Expected failed [M2], got %v", got)
	}
}

// TestQueue_ErrorEdgeActivation routes a failure through its error
// edge while the success path prunes.
func TestQueue_ErrorEdgeActivation(t *testing.T) {
	plan := mustPlan(t, &compiler.Definition{
		Name:       "fallback",
		EntryPoint: "T",
		Nodes: map[string]compiler.DefNode{
			"T":       node(compiler.KindTrigger, "start", nil),
			"A":       node(compiler.KindHTTP, "call", nil),
			"Next":    node(compiler.KindTransform, "next", nil),
			"Rescue":  node(compiler.KindTransform, "rescue", nil),
			"Finally": node(compiler.KindOutput, "done", nil),
		},
		Edges: []compiler.DefEdge{
			edge("e1", "T", "A", ""),
			edge("e2", "A", "Next", ""),
			edge("e3", "A", "Rescue", "error"),
			edge("e4", "Next", "Finally", ""),
			edge("e5", "Rescue", "Finally", ""),
		},
	})
	q := New(plan)
	q.MarkExecuting("T")
	q.MarkCompleted("T", "")
	q.MarkExecuting("A")
	if err := q.MarkFailed("A"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	if got := q.NodeStatus("Rescue"); got != StatusReady {
		t.Errorf("Expected error handler ready, got %s", got)
	}
	if got := q.NodeStatus("Next"); got != StatusSkipped {
		t.Errorf("Expected success path skipped, got %s", got)
	}

	q.MarkExecuting("Rescue")
	q.MarkCompleted("Rescue", "")
	if got := q.NodeStatus("Finally"); got != StatusReady {
		t.Errorf("Expected Finally ready via rescue, got %s", got)
	}
}

// TestQueue_ErrorEdgePrunedOnSuccess skips the rescue subtree when the
// guarded node succeeds.
func TestQueue_ErrorEdgePrunedOnSuccess(t *testing.T) {
	plan := mustPlan(t, &compiler.Definition{
		Name:       "fallback",
		EntryPoint: "T",
		Nodes: map[string]compiler.DefNode{
			"T":      node(compiler.KindTrigger, "start", nil),
			"A":      node(compiler.KindHTTP, "call", nil),
			"Next":   node(compiler.KindOutput, "next", nil),
			"Rescue": node(compiler.KindTransform, "rescue", nil),
		},
		Edges: []compiler.DefEdge{
			edge("e1", "T", "A", ""),
			edge("e2", "A", "Next", ""),
			edge("e3", "A", "Rescue", "error"),
		},
	})
	q := New(plan)
	q.MarkExecuting("T")
	q.MarkCompleted("T", "")
	q.MarkExecuting("A")
	q.MarkCompleted("A", "")

	if got := q.NodeStatus("Rescue"); got != StatusSkipped {
		t.Errorf("Expected rescue skipped on success, got %s", got)
	}
	if got := q.NodeStatus("Next"); got != StatusReady {
		t.Errorf("Expected Next ready, got %s", got)
	}
}

func TestQueue_LoopReadmission(t *testing.T) {
	plan := mustPlan(t, &compiler.Definition{
		Name:       "loop",
		EntryPoint: "T",
		Nodes: map[string]compiler.DefNode{
			"T": node(compiler.KindTrigger, "start", nil),
			"L": node(compiler.KindLoop, "each", map[string]interface{}{
				"kind":  "for_each",
				"items": "{{inputs.items}}",
			}),
			"B":   node(compiler.KindTransform, "body", nil),
			"Out": node(compiler.KindOutput, "done", nil),
		},
		Edges: []compiler.DefEdge{
			edge("e1", "T", "L", ""),
			edge("e2", "L", "B", "loop-body"),
			edge("e3", "B", "L", ""),
			edge("e4", "L", "Out", "loop-exit"),
		},
	})
	start, end := compiler.StartSentinelID("L"), compiler.EndSentinelID("L")

	q := New(plan)
	advance := func(id, decision string) {
		t.Helper()
		if err := q.MarkExecuting(id); err != nil {
			t.Fatalf("MarkExecuting %s failed: %v", id, err)
		}
		if err := q.MarkCompleted(id, decision); err != nil {
			t.Fatalf("MarkCompleted %s failed: %v", id, err)
		}
	}

	advance("T", "")
	advance(start, "")
	advance("L", "")
	advance("B", "")
	if got := q.NodeStatus(end); got != StatusReady {
		t.Fatalf("Expected end sentinel ready, got %s", got)
	}

	// First iteration ends, loop continues: nothing downstream moves.
	advance(end, DecisionLoopContinue)
	if got := q.NodeStatus("Out"); got != StatusPending {
		t.Fatalf("Exit must not activate on continue, got %s", got)
	}
	if err := q.Readmit("L"); err != nil {
		t.Fatalf("Readmit failed: %v", err)
	}
	if got := q.NodeStatus("L"); got != StatusReady {
		t.Errorf("Expected header ready after readmit, got %s", got)
	}
	if got := q.NodeStatus("B"); got != StatusPending {
		t.Errorf("Expected body pending after readmit, got %s", got)
	}
	if got := q.NodeStatus(start); got != StatusCompleted {
		t.Errorf("Start sentinel must run once, got %s", got)
	}

	// Second iteration exits.
	advance("L", "")
	advance("B", "")
	advance(end, compiler.HandleLoopExit)
	if got := q.NodeStatus("Out"); got != StatusReady {
		t.Errorf("Expected exit activation, got %s", got)
	}
	advance("Out", "")
	if !q.IsComplete() {
		t.Errorf("Expected complete queue, counts=%v", q.Counts())
	}
}

// TestQueue_LoopImmediateExit exits the loop from the header before
// any iteration: the body prunes and the end sentinel still runs via
// the skip edge.
func TestQueue_LoopImmediateExit(t *testing.T) {
	plan := mustPlan(t, &compiler.Definition{
		Name:       "loop",
		EntryPoint: "T",
		Nodes: map[string]compiler.DefNode{
			"T": node(compiler.KindTrigger, "start", nil),
			"L": node(compiler.KindLoop, "each", map[string]interface{}{
				"kind":  "for_each",
				"items": "{{inputs.items}}",
			}),
			"B":   node(compiler.KindTransform, "body", nil),
			"Out": node(compiler.KindOutput, "done", nil),
		},
		Edges: []compiler.DefEdge{
			edge("e1", "T", "L", ""),
			edge("e2", "L", "B", "loop-body"),
			edge("e3", "B", "L", ""),
			edge("e4", "L", "Out", "loop-exit"),
		},
	})
	end := compiler.EndSentinelID("L")

	q := New(plan)
	q.MarkExecuting("T")
	q.MarkCompleted("T", "")
	q.MarkExecuting(compiler.StartSentinelID("L"))
	q.MarkCompleted(compiler.StartSentinelID("L"), "")
	q.MarkExecuting("L")
	if err := q.MarkCompleted("L", compiler.HandleLoopExit); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	if got := q.NodeStatus("B"); got != StatusSkipped {
		t.Errorf("Expected body skipped, got %s", got)
	}
	if got := q.NodeStatus(end); got != StatusReady {
		t.Errorf("Expected end sentinel ready via skip edge, got %s", got)
	}

	q.MarkExecuting(end)
	q.MarkCompleted(end, compiler.HandleLoopExit)
	if got := q.NodeStatus("Out"); got != StatusReady {
		t.Errorf("Expected exit activation, got %s", got)
	}
}

func TestQueue_CompletionIdempotent(t *testing.T) {
	q := New(linearPlan(t))
	q.MarkExecuting("T")
	q.MarkCompleted("T", "")

	if err := q.MarkCompleted("T", ""); err != nil {
		t.Errorf("Repeated completion should be a no-op, got %v", err)
	}
	if err := q.MarkFailed("T"); err == nil {
		t.Errorf("Expected error failing a completed node")
	}
	if err := q.MarkCompleted("ghost", ""); err == nil {
		t.Errorf("Expected error for unknown node")
	}
	if err := q.MarkExecuting("Out"); err == nil {
		t.Errorf("Expected error executing a pending node")
	}
}

func TestQueue_SkipAll(t *testing.T) {
	q := New(linearPlan(t))
	q.MarkExecuting("T")
	q.MarkCompleted("T", "")

	skipped := q.SkipAll()
	if !reflect.DeepEqual(skipped, []string{"A", "Out"}) {
		t.Errorf("Expected skipped [A Out], got %v", skipped)
	}
	if !q.IsComplete() {
		t.Errorf("Expected complete queue after SkipAll")
	}
	if got := q.NodeStatus("T"); got != StatusCompleted {
		t.Errorf("Terminal states must survive SkipAll, got %s", got)
	}
}
