package scheduler

import (
	"fmt"

	"github.com/weftlabs/weft/cmd/engine/compiler"
)

// MarkCompleted records a completion and cascades readiness. For
// branch sources (conditional, switch, loop end) decision carries the
// selected handle; plain nodes pass "".
//
// Repeating a completion is a no-op, so replayed results are harmless.
func (q *Queue) MarkCompleted(id, decision string) error {
	st, exists := q.status[id]
	if !exists {
		return fmt.Errorf("unknown node %s", id)
	}
	if st == StatusCompleted {
		return nil
	}
	if st == StatusFailed || st == StatusSkipped {
		return fmt.Errorf("node %s cannot complete from %s", id, st)
	}

	q.status[id] = StatusCompleted
	q.decision[id] = decision
	delete(q.readySeq, id)

	// A continuing loop end activates nothing; the caller re-admits the
	// body instead.
	if decision == DecisionLoopContinue {
		return nil
	}

	// 1. Prune subtrees reachable only through edges this completion
	//    left inactive (the untaken branch, the error path).
	for _, e := range q.plan.OutgoingEdges(id) {
		if !q.satisfied(e) {
			q.pruneExclusive(e.ID)
		}
	}

	// 2. Re-evaluate every dependent: the active edges may have been
	//    their last missing dependency.
	for _, d := range q.plan.Nodes[id].Dependents {
		q.evaluateReadiness(d)
	}
	return nil
}

// MarkFailed records a failure. With an outgoing error edge the
// failure is handled locally: the error path activates and the success
// paths prune like an untaken branch. Without one, everything strictly
// downstream that is still pending is skipped.
func (q *Queue) MarkFailed(id string) error {
	st, exists := q.status[id]
	if !exists {
		return fmt.Errorf("unknown node %s", id)
	}
	if st == StatusFailed {
		return nil
	}
	if st == StatusCompleted || st == StatusSkipped {
		return fmt.Errorf("node %s cannot fail from %s", id, st)
	}

	q.status[id] = StatusFailed
	delete(q.readySeq, id)

	hasErrorEdge := false
	for _, e := range q.plan.OutgoingEdges(id) {
		if e.HandleType == compiler.HandleError {
			hasErrorEdge = true
			break
		}
	}

	if !hasErrorEdge {
		for _, n := range q.plan.Downstream(id) {
			if q.status[n] == StatusPending {
				q.status[n] = StatusSkipped
			}
		}
		return nil
	}

	for _, e := range q.plan.OutgoingEdges(id) {
		if e.HandleType != compiler.HandleError {
			q.pruneExclusive(e.ID)
		}
	}
	for _, d := range q.plan.Nodes[id].Dependents {
		q.evaluateReadiness(d)
	}
	return nil
}

// MarkSkipped moves a node to skipped and cascades to dependents that
// no longer have any path to activation.
func (q *Queue) MarkSkipped(id string) error {
	st, exists := q.status[id]
	if !exists {
		return fmt.Errorf("unknown node %s", id)
	}
	if st == StatusSkipped {
		return nil
	}
	if st == StatusCompleted || st == StatusFailed {
		return fmt.Errorf("node %s cannot skip from %s", id, st)
	}
	q.skip(id)
	return nil
}

func (q *Queue) skip(id string) {
	q.status[id] = StatusSkipped
	delete(q.readySeq, id)
	for _, d := range q.plan.Nodes[id].Dependents {
		q.evaluateReadiness(d)
	}
}

// pruneExclusive skips every still-pending node reachable only through
// the given edge. The sets come precomputed from the plan.
func (q *Queue) pruneExclusive(edgeID string) {
	for _, n := range q.plan.Exclusive[edgeID] {
		if q.status[n] == StatusPending {
			q.skip(n)
		}
	}
}

// evaluateReadiness applies the admission rule to a pending node: once
// every incoming edge is resolved, the node becomes ready if at least
// one edge is satisfied and skipped if none is.
func (q *Queue) evaluateReadiness(id string) {
	if q.status[id] != StatusPending {
		return
	}
	anySatisfied := false
	for _, e := range q.plan.IncomingEdges(id) {
		src := q.status[e.Source]
		if !src.Terminal() {
			return
		}
		if q.satisfied(e) {
			anySatisfied = true
		}
	}
	if anySatisfied {
		q.admit(id)
	} else {
		q.skip(id)
	}
}

// satisfied reports whether an edge carries activation from its
// source's terminal state.
func (q *Queue) satisfied(e *compiler.Edge) bool {
	switch q.status[e.Source] {
	case StatusFailed:
		return e.HandleType == compiler.HandleError
	case StatusCompleted:
		// fall through to the handle rules below
	default:
		return false
	}

	if e.HandleType == compiler.HandleError {
		return false
	}

	src := q.plan.Nodes[e.Source]
	switch src.Kind {
	case compiler.KindConditional, compiler.KindSwitch:
		return e.HandleType == q.decision[e.Source]
	case compiler.KindLoop:
		// The header feeds either the body or, when it exits before a
		// first iteration, the skip edge into the end sentinel.
		if q.decision[e.Source] == compiler.HandleLoopExit {
			return e.HandleType == compiler.HandleLoopExit
		}
		return e.HandleType == compiler.HandleLoopBody
	case compiler.KindLoopEnd:
		return e.HandleType == compiler.HandleLoopExit &&
			q.decision[e.Source] == compiler.HandleLoopExit
	default:
		return true
	}
}
