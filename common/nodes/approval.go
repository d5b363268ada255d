package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weftlabs/weft/common/redis"
)

// Decision resolves one pending human review.
type Decision struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
	By       string `json:"by,omitempty"`
}

// ApprovalWaiter blocks until a review is resolved or the context
// ends.
type ApprovalWaiter interface {
	Await(ctx context.Context, executionID, nodeID string) (Decision, error)
}

// HumanReview suspends human_review nodes on an approval waiter. The
// decision, approve or reject, is a successful result; workflows
// branch on it with a conditional. Only the timeout fails the node.
type HumanReview struct {
	waiter ApprovalWaiter
}

func NewHumanReview(waiter ApprovalWaiter) *HumanReview {
	return &HumanReview{waiter: waiter}
}

func (h *HumanReview) Kind() string { return "human_review" }

func (h *HumanReview) Execute(ctx context.Context, req Request) Response {
	if h.waiter == nil {
		return Fail(ErrorTypeValidation, "human_review handler has no waiter configured", false)
	}
	if timeoutMs, ok := req.Config["timeout_ms"].(float64); ok && timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	decision, err := h.waiter.Await(ctx, req.Meta.ExecutionID, req.Meta.NodeID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Fail(ErrorTypeTimeout, "review was not resolved in time", false)
		}
		return FailErr(Classify(err))
	}

	return Succeed(map[string]interface{}{
		"approved":    decision.Approved,
		"comment":     decision.Comment,
		"resolved_by": decision.By,
	}, &Metrics{DurationMs: time.Since(start).Milliseconds()})
}

// ApprovalHub is the in-process waiter. Resolutions arriving before
// their waiter are held until the waiter shows up.
type ApprovalHub struct {
	mu       sync.Mutex
	waiting  map[string]chan Decision
	resolved map[string]Decision
}

func NewApprovalHub() *ApprovalHub {
	return &ApprovalHub{
		waiting:  make(map[string]chan Decision),
		resolved: make(map[string]Decision),
	}
}

func approvalKey(executionID, nodeID string) string {
	return executionID + "/" + nodeID
}

func (h *ApprovalHub) Await(ctx context.Context, executionID, nodeID string) (Decision, error) {
	key := approvalKey(executionID, nodeID)

	h.mu.Lock()
	if d, ok := h.resolved[key]; ok {
		delete(h.resolved, key)
		h.mu.Unlock()
		return d, nil
	}
	ch := make(chan Decision, 1)
	h.waiting[key] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.waiting, key)
		h.mu.Unlock()
	}()

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Resolve delivers a decision. Returns true when a waiter was blocked
// on it; false means the decision is parked for a future waiter.
func (h *ApprovalHub) Resolve(executionID, nodeID string, d Decision) bool {
	key := approvalKey(executionID, nodeID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.waiting[key]; ok {
		ch <- d
		return true
	}
	h.resolved[key] = d
	return false
}

// Pending lists executionID/nodeID keys with a blocked waiter.
func (h *ApprovalHub) Pending() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.waiting))
	for k := range h.waiting {
		keys = append(keys, k)
	}
	return keys
}

const approvalPollInterval = 2 * time.Second

// RedisApprovals is the distributed waiter. Decisions travel on a
// per-review Redis list; Await polls with a blocking pop so a context
// cancel is noticed within one interval.
type RedisApprovals struct {
	redis *redis.Client
}

func NewRedisApprovals(client *redis.Client) *RedisApprovals {
	return &RedisApprovals{redis: client}
}

func approvalListKey(executionID, nodeID string) string {
	return fmt.Sprintf("approval:%s:%s", executionID, nodeID)
}

func (r *RedisApprovals) Await(ctx context.Context, executionID, nodeID string) (Decision, error) {
	key := approvalListKey(executionID, nodeID)
	for {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		values, err := r.redis.BlockingPopList(ctx, approvalPollInterval, key)
		if err != nil {
			return Decision{}, err
		}
		if values == nil {
			continue
		}
		var d Decision
		if err := json.Unmarshal([]byte(values[1]), &d); err != nil {
			return Decision{}, fmt.Errorf("invalid approval payload: %w", err)
		}
		return d, nil
	}
}

// Resolve pushes a decision onto the review's list.
func (r *RedisApprovals) Resolve(ctx context.Context, executionID, nodeID string, d Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	return r.redis.PushToList(ctx, approvalListKey(executionID, nodeID), string(payload))
}
