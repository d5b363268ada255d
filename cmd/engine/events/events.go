// Package events defines the ordered per-execution event channel and
// the emitters that carry it to logs, Redis and traces.
package events

import (
	"context"
	"strings"
)

// Kind enumerates the event vocabulary on an execution channel.
type Kind string

const (
	KindExecutionStarted   Kind = "execution_started"
	KindExecutionProgress  Kind = "execution_progress"
	KindExecutionCompleted Kind = "execution_completed"
	KindExecutionFailed    Kind = "execution_failed"
	KindExecutionPaused    Kind = "execution_paused"
	KindNodeStarted        Kind = "node_started"
	KindNodeCompleted      Kind = "node_completed"
	KindNodeFailed         Kind = "node_failed"
	KindApprovalNeeded     Kind = "approval_needed"
	KindApprovalResolved   Kind = "approval_resolved"
	KindMessageReceived    Kind = "message_received"
	KindToolCallStarted    Kind = "tool_call_started"
	KindToolCallCompleted  Kind = "tool_call_completed"
	KindToolCallFailed     Kind = "tool_call_failed"
	KindDeliverableCreated Kind = "deliverable_created"
)

// Event is one entry on a per-execution channel. Timestamp is a
// logical counter assigned by the channel, not wall clock; consumers
// rely on it for strict ordering.
type Event struct {
	Channel   string                 `json:"channel"`
	Kind      Kind                   `json:"kind"`
	Timestamp int64                  `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Emitter delivers stamped events. Implementations must not block the
// orchestrator loop on slow consumers; best effort with logging is the
// norm here.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// ChannelName returns the per-execution channel identifier.
func ChannelName(executionID string) string {
	return "execution:events:" + executionID
}

// ExecutionIDFromChannel inverts ChannelName.
func ExecutionIDFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, "execution:events:")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Channel stamps events for one execution with a monotonic logical
// timestamp and forwards them. Owned by the orchestrator goroutine.
type Channel struct {
	name    string
	next    int64
	emitter Emitter
}

func NewChannel(executionID string, emitter Emitter) *Channel {
	return &Channel{name: ChannelName(executionID), emitter: emitter}
}

// Emit stamps and forwards one event.
func (c *Channel) Emit(ctx context.Context, kind Kind, payload map[string]interface{}) {
	e := Event{
		Channel:   c.name,
		Kind:      kind,
		Timestamp: c.next,
		Payload:   payload,
	}
	c.next++
	if c.emitter != nil {
		c.emitter.Emit(ctx, e)
	}
}

// Sequence returns the next logical timestamp to be assigned.
func (c *Channel) Sequence() int64 {
	return c.next
}
