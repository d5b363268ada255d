// Package nodes holds the node-handler registry and the standard
// handler set. Every handler implements one activity contract; the
// engine-inline kinds (trigger, output, conditional, switch, loop
// sentinels, parallel) never reach this package.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
)

// Error types carried on a failed activity result. The dispatcher
// keys its retry policy off Type and Retryable.
const (
	ErrorTypeNotFound    = "not_found"
	ErrorTypePermission  = "permission"
	ErrorTypeValidation  = "validation"
	ErrorTypeRateLimit   = "rate_limit"
	ErrorTypeServerError = "server_error"
	ErrorTypeTimeout     = "timeout"
	ErrorTypeNetwork     = "network"
	ErrorTypeOther       = "other"
)

// NodeError is the classified failure of one handler invocation.
type NodeError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	// RetryAfterMs is a server-supplied backoff hint, set on rate
	// limits when the upstream told us how long to wait. Pointer so an
	// explicit zero survives the trip.
	RetryAfterMs *int64 `json:"retryAfterMs,omitempty"`
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Meta identifies the invocation for logging and side channels.
type Meta struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId"`
	NodeName    string `json:"nodeName"`
	UserID      string `json:"userId,omitempty"`
}

// Request is the activity input. Config arrives fully interpolated;
// handlers never resolve template references themselves.
type Request struct {
	NodeType string                 `json:"nodeType"`
	Config   map[string]interface{} `json:"nodeConfig"`
	Context  map[string]interface{} `json:"context,omitempty"`
	Meta     Meta                   `json:"meta"`
}

// TokenUsage reports LLM token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Metrics is the optional per-invocation measurement block.
type Metrics struct {
	DurationMs int64       `json:"durationMs"`
	TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`
}

// Response is the activity output. Exactly one of Result or Error is
// meaningful depending on Success.
type Response struct {
	Success bool                   `json:"success"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Signals map[string]interface{} `json:"signals,omitempty"`
	Metrics *Metrics               `json:"metrics,omitempty"`
	Error   *NodeError             `json:"error,omitempty"`
}

// Succeed builds a successful response.
func Succeed(result map[string]interface{}, metrics *Metrics) Response {
	return Response{Success: true, Result: result, Metrics: metrics}
}

// Fail builds a failed response with a classified error.
func Fail(errType, message string, retryable bool) Response {
	return Response{Success: false, Error: &NodeError{Type: errType, Message: message, Retryable: retryable}}
}

// FailErr builds a failed response from an already classified error.
func FailErr(err *NodeError) Response {
	return Response{Success: false, Error: err}
}

// Handler executes one node kind.
type Handler interface {
	Kind() string
	Execute(ctx context.Context, req Request) Response
}

// Registry maps node kinds to handlers. Registration happens at
// startup; lookups are read-only after that.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds a handler, replacing any existing one for the kind.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Kind()] = h
}

// Get returns the handler for a kind.
func (r *Registry) Get(kind string) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Execute routes a request to its handler. An unregistered kind is a
// terminal not_found failure, never a retry candidate.
func (r *Registry) Execute(ctx context.Context, req Request) Response {
	h, ok := r.handlers[req.NodeType]
	if !ok {
		return Fail(ErrorTypeNotFound, fmt.Sprintf("no handler registered for node type %q", req.NodeType), false)
	}
	return h.Execute(ctx, req)
}

// Classify maps a transport-level error to a NodeError. Deadline hits
// are retryable timeouts; dial and DNS failures are retryable network
// errors; everything else is other.
func Classify(err error) *NodeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &NodeError{Type: ErrorTypeTimeout, Message: err.Error(), Retryable: true}
	case errors.Is(err, context.Canceled):
		return &NodeError{Type: ErrorTypeOther, Message: err.Error(), Retryable: false}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &NodeError{Type: ErrorTypeTimeout, Message: err.Error(), Retryable: true}
		}
		return &NodeError{Type: ErrorTypeNetwork, Message: err.Error(), Retryable: true}
	}
	return &NodeError{Type: ErrorTypeOther, Message: err.Error(), Retryable: false}
}

// ClassifyStatus maps an HTTP status code to an error type and its
// retryability.
func ClassifyStatus(code int) (string, bool) {
	switch {
	case code == 429:
		return ErrorTypeRateLimit, true
	case code == 408:
		return ErrorTypeTimeout, true
	case code == 401 || code == 403:
		return ErrorTypePermission, false
	case code == 404:
		return ErrorTypeNotFound, false
	case code >= 500:
		return ErrorTypeServerError, true
	case code >= 400:
		return ErrorTypeValidation, false
	}
	return ErrorTypeOther, false
}
