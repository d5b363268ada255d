package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/weftlabs/weft/cmd/engine/runtime"
	"github.com/weftlabs/weft/common/nodes"
	redisWrapper "github.com/weftlabs/weft/common/redis"
	"github.com/weftlabs/weft/common/sdk"
)

// ApprovalSink resolves a pending human review decision.
type ApprovalSink interface {
	Resolve(ctx context.Context, executionID, nodeID string, d nodes.Decision) error
}

// HubSink adapts the in-process ApprovalHub to ApprovalSink.
type HubSink struct {
	Hub *nodes.ApprovalHub
}

func (s HubSink) Resolve(_ context.Context, executionID, nodeID string, d nodes.Decision) error {
	s.Hub.Resolve(executionID, nodeID, d)
	return nil
}

const signalPollInterval = 2 * time.Second

// SignalRouter drains the execution signal list and routes each signal.
// Cancels tear down the target run's context through the cancel func the
// consumer registered; approvals resolve the configured waiter. The
// executor itself only ever sees ctx.Done().
type SignalRouter struct {
	redis     *redisWrapper.Client
	approvals ApprovalSink
	logger    Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// SignalRouterOpts holds the dependencies for NewSignalRouter.
type SignalRouterOpts struct {
	Redis     *redisWrapper.Client
	Approvals ApprovalSink
	Logger    Logger
}

// NewSignalRouter creates a signal router.
func NewSignalRouter(opts SignalRouterOpts) *SignalRouter {
	return &SignalRouter{
		redis:     opts.Redis,
		approvals: opts.Approvals,
		logger:    opts.Logger,
		active:    make(map[string]context.CancelFunc),
	}
}

// Track registers the cancel func for a starting execution.
func (s *SignalRouter) Track(executionID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.active[executionID] = cancel
	s.mu.Unlock()
}

// Forget drops the registration once a run ends.
func (s *SignalRouter) Forget(executionID string) {
	s.mu.Lock()
	delete(s.active, executionID)
	s.mu.Unlock()
}

// ActiveCount reports how many executions are currently tracked.
func (s *SignalRouter) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Start drains the signal list until the context is cancelled.
func (s *SignalRouter) Start(ctx context.Context) error {
	s.logger.Info("Signal router started", "list", runtime.SignalList)

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("Signal router stopping")
			return err
		}

		values, err := s.redis.BlockingPopList(ctx, signalPollInterval, runtime.SignalList)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Signal router stopping")
				return ctx.Err()
			}
			s.logger.Error("Error reading signal list", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}
		if values == nil {
			continue
		}

		if err := s.handle(ctx, values[1]); err != nil {
			s.logger.Error("Failed to route signal", "error", err)
		}
	}
}

func (s *SignalRouter) handle(ctx context.Context, payload string) error {
	var sig sdk.ExecutionSignal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		return fmt.Errorf("failed to unmarshal signal: %w", err)
	}
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}

	switch sig.Kind {
	case sdk.SignalCancel:
		s.cancelExecution(sig.ExecutionID)
		return nil
	case sdk.SignalApproval:
		return s.resolveApproval(ctx, &sig)
	default:
		return fmt.Errorf("unroutable signal kind %q", sig.Kind)
	}
}

func (s *SignalRouter) cancelExecution(executionID string) {
	s.mu.Lock()
	cancel, ok := s.active[executionID]
	s.mu.Unlock()

	// Unknown means the run already finished, or another replica owns
	// it. The signal is consumed either way; the owning replica reads
	// its own list.
	if !ok {
		s.logger.Warn("Cancel signal for untracked execution",
			"execution_id", executionID)
		return
	}

	s.logger.Info("Cancelling execution", "execution_id", executionID)
	cancel()
}

func (s *SignalRouter) resolveApproval(ctx context.Context, sig *sdk.ExecutionSignal) error {
	if s.approvals == nil {
		return fmt.Errorf("no approval sink configured")
	}

	d := nodes.Decision{
		Approved: *sig.Approved,
		Comment:  sig.Comment,
		By:       sig.Approver,
	}

	s.logger.Info("Resolving approval",
		"execution_id", sig.ExecutionID,
		"node_id", sig.NodeID,
		"approved", d.Approved)

	return s.approvals.Resolve(ctx, sig.ExecutionID, sig.NodeID, d)
}
