package compiler

import "fmt"

// Build error codes
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNoNodes            = "NO_NODES"
	CodeNoEntryPoint       = "NO_ENTRY_POINT"
	CodeCycle              = "CYCLE"
	CodeDanglingEdge       = "DANGLING_EDGE"
	CodeUnknownHandle      = "UNKNOWN_HANDLE"
	CodeInvalidVariableRef = "INVALID_VARIABLE_REF"
	CodeDuplicateCase      = "DUPLICATE_CASE"
	CodeUnknownNodeType    = "UNKNOWN_NODE_TYPE"
)

// Build warning codes
const (
	CodeUnreachableNode = "UNREACHABLE_NODE"
)

// Issue is one build diagnostic, error or warning.
type Issue struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.NodeID != "":
		return fmt.Sprintf("%s (node %s): %s", i.Code, i.NodeID, i.Message)
	case i.EdgeID != "":
		return fmt.Sprintf("%s (edge %s): %s", i.Code, i.EdgeID, i.Message)
	default:
		return fmt.Sprintf("%s: %s", i.Code, i.Message)
	}
}

// Result is the outcome of a compilation. Plan is nil unless OK.
type Result struct {
	Plan     *Plan   `json:"plan,omitempty"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// OK reports whether compilation produced an executable plan.
func (r *Result) OK() bool {
	return len(r.Errors) == 0 && r.Plan != nil
}

// Err flattens build errors into a single error, nil when OK.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	msg := r.Errors[0].String()
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(r.Errors)-1)
	}
	return fmt.Errorf("workflow build failed: %s", msg)
}
