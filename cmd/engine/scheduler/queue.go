// Package scheduler tracks per-node execution state and decides which
// nodes are runnable. The queue is owned by the single orchestrator
// goroutine; it is not safe for concurrent use and does not need to be.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/weftlabs/weft/cmd/engine/compiler"
)

// Status is the lifecycle state of a node within one execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether a node in this state will never run again
// barring loop re-admission.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// DecisionLoopContinue is passed to MarkCompleted for a loop end
// sentinel that re-enters the body. It suppresses the dependent
// cascade; the caller follows up with Readmit.
const DecisionLoopContinue = "loop-continue"

// Queue is the scheduling state for one execution over a compiled plan.
type Queue struct {
	plan     *compiler.Plan
	status   map[string]Status
	decision map[string]string // selected handle per completed branch source
	readySeq map[string]int64  // admission order for the ready tie-break
	nextSeq  int64
}

// New initializes the queue: every plan node starts pending except the
// start nodes, which are immediately ready.
func New(plan *compiler.Plan) *Queue {
	q := &Queue{
		plan:     plan,
		status:   make(map[string]Status, len(plan.Nodes)),
		decision: make(map[string]string),
		readySeq: make(map[string]int64),
	}
	for id := range plan.Nodes {
		q.status[id] = StatusPending
	}
	for _, id := range plan.StartIDs {
		q.admit(id)
	}
	return q
}

func (q *Queue) admit(id string) {
	q.status[id] = StatusReady
	q.readySeq[id] = q.nextSeq
	q.nextSeq++
}

// NodeStatus returns the current state of a node, or "" for unknown IDs.
func (q *Queue) NodeStatus(id string) Status {
	return q.status[id]
}

// Decision returns the handle a completed branch source selected.
func (q *Queue) Decision(id string) string {
	return q.decision[id]
}

// GetReady returns up to limit runnable node IDs ordered by ascending
// depth, then by admission order within a depth.
func (q *Queue) GetReady(limit int) []string {
	if limit <= 0 {
		return nil
	}
	ready := make([]string, 0, len(q.readySeq))
	for id, st := range q.status {
		if st == StatusReady {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		di, dj := q.plan.Nodes[ready[i]].Depth, q.plan.Nodes[ready[j]].Depth
		if di != dj {
			return di < dj
		}
		return q.readySeq[ready[i]] < q.readySeq[ready[j]]
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready
}

// MarkExecuting moves ready nodes into the executing state.
func (q *Queue) MarkExecuting(ids ...string) error {
	for _, id := range ids {
		st, exists := q.status[id]
		if !exists {
			return fmt.Errorf("unknown node %s", id)
		}
		if st != StatusReady {
			return fmt.Errorf("node %s is not ready, got %s", id, st)
		}
		q.status[id] = StatusExecuting
	}
	return nil
}

// Readmit resets a loop's body and end sentinel to pending for the
// next iteration. The loop header becomes ready again through its
// start sentinel, which ran once and stays completed.
func (q *Queue) Readmit(loopID string) error {
	lp := q.plan.Loop(loopID)
	if lp == nil {
		return fmt.Errorf("unknown loop %s", loopID)
	}
	members := append(append([]string{}, lp.BodyNodes...), lp.EndID)
	for _, id := range members {
		q.status[id] = StatusPending
		delete(q.decision, id)
		delete(q.readySeq, id)
	}
	for _, id := range members {
		q.evaluateReadiness(id)
	}
	return nil
}

// SkipAll moves every non-terminal node to skipped, used on
// cancellation. Returns the affected IDs in scheduling order.
func (q *Queue) SkipAll() []string {
	var skipped []string
	for id, st := range q.status {
		if !st.Terminal() {
			q.status[id] = StatusSkipped
			skipped = append(skipped, id)
		}
	}
	sort.Slice(skipped, func(i, j int) bool {
		di, dj := q.plan.Nodes[skipped[i]].Depth, q.plan.Nodes[skipped[j]].Depth
		if di != dj {
			return di < dj
		}
		return skipped[i] < skipped[j]
	})
	return skipped
}

// IsComplete reports whether no node can make further progress.
func (q *Queue) IsComplete() bool {
	for _, st := range q.status {
		if !st.Terminal() {
			return false
		}
	}
	return true
}

// Counts returns the number of nodes per state.
func (q *Queue) Counts() map[Status]int {
	counts := make(map[Status]int, 6)
	for _, st := range q.status {
		counts[st]++
	}
	return counts
}

// InState returns all node IDs currently in the given state, sorted.
func (q *Queue) InState(want Status) []string {
	var ids []string
	for id, st := range q.status {
		if st == want {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
