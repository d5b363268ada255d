// Package runtime is the seam between the dispatcher and node
// handlers. The inline runtime executes activities in-process; the
// Redis runtime ships them to node workers over streams and waits for
// completion signals.
package runtime

import (
	"context"

	"github.com/weftlabs/weft/common/nodes"
)

// Activity is one node execution request. Config arrives fully
// interpolated.
type Activity struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"execution_id"`
	NodeID      string                 `json:"node_id"`
	NodeName    string                 `json:"node_name"`
	NodeType    string                 `json:"node_type"`
	Config      map[string]interface{} `json:"config"`
	Context     map[string]interface{} `json:"context,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
}

// Runtime executes one activity and blocks until its result is in.
// Callers own concurrency; the dispatcher runs one goroutine per
// in-flight node.
type Runtime interface {
	Execute(ctx context.Context, act Activity) nodes.Response
}

// CompletionSignal is what a node worker pushes back after finishing
// an activity.
type CompletionSignal struct {
	ActivityID  string         `json:"activity_id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	Response    nodes.Response `json:"response"`
}

// TaskStream names the per-type activity stream.
func TaskStream(nodeType string) string {
	return "wf.tasks." + nodeType
}

// Stream and list names shared by the engine and node workers.
const (
	SubmissionStream = "wf.exec.requests"
	CompletionList   = "completion_signals"
	SignalList       = "execution_signals"
)

func (a Activity) request() nodes.Request {
	return nodes.Request{
		NodeType: a.NodeType,
		Config:   a.Config,
		Context:  a.Context,
		Meta: nodes.Meta{
			ExecutionID: a.ExecutionID,
			NodeID:      a.NodeID,
			NodeName:    a.NodeName,
			UserID:      a.UserID,
		},
	}
}
