// Package executor hosts the orchestrator loop: one goroutine per
// execution owning the context snapshot and the scheduling queue,
// with node activities fanned out through the dispatcher. It also
// provides the consumer that feeds the loop from the submission
// stream.
package executor

import (
	"context"
	"time"

	"github.com/weftlabs/weft/cmd/engine/compiler"
	"github.com/weftlabs/weft/cmd/engine/condition"
	"github.com/weftlabs/weft/cmd/engine/dispatch"
	"github.com/weftlabs/weft/cmd/engine/events"
	"github.com/weftlabs/weft/cmd/engine/execctx"
	"github.com/weftlabs/weft/cmd/engine/governor"
	"github.com/weftlabs/weft/cmd/engine/metrics"
	"github.com/weftlabs/weft/cmd/engine/operators"
	"github.com/weftlabs/weft/cmd/engine/runtime"
	"github.com/weftlabs/weft/cmd/engine/scheduler"
	"github.com/weftlabs/weft/common/sdk"
)

// CodeInterpolationFailed marks config resolution failures that are
// not attributable to a specific missing reference.
const CodeInterpolationFailed = "INTERPOLATION_FAILED"

// Logger is the logging surface the orchestrator needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Opts wires an orchestrator. Runtime and Logger are required; the
// rest defaults sensibly.
type Opts struct {
	Runtime   runtime.Runtime
	Evaluator *condition.Evaluator
	Emitter   events.Emitter
	Metrics   *metrics.Metrics
	Logger    Logger

	// Sleep is forwarded to the dispatcher; tests inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now is the clock; tests may freeze it.
	Now func() time.Time
}

// Orchestrator runs submissions to completion. Safe for concurrent
// Run calls; each run owns its own state.
type Orchestrator struct {
	dispatcher *dispatch.Dispatcher
	evaluator  *condition.Evaluator
	emitter    events.Emitter
	metrics    *metrics.Metrics
	logger     Logger
	now        func() time.Time
}

func New(opts Opts) *Orchestrator {
	evaluator := opts.Evaluator
	if evaluator == nil {
		evaluator = condition.NewEvaluator()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		dispatcher: dispatch.New(dispatch.Opts{
			Runtime: opts.Runtime,
			Logger:  opts.Logger,
			Sleep:   opts.Sleep,
		}),
		evaluator: evaluator,
		emitter:   opts.Emitter,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       now,
	}
}

// RunSpec carries everything one execution needs beyond the compiled
// plan. Zero-value knobs fall back to plan or platform defaults.
type RunSpec struct {
	WorkflowID  string
	ExecutionID string
	UserID      string
	Inputs      map[string]interface{}

	Limits            governor.Limits
	RetryPolicy       dispatch.RetryPolicy
	MaxConcurrent     int
	MaxLoopIterations int
	Timeout           time.Duration
}

// SpecFromSubmission maps submission options onto a run spec.
func SpecFromSubmission(sub *sdk.Submission) RunSpec {
	spec := RunSpec{
		WorkflowID:  sub.WorkflowID,
		ExecutionID: sub.ExecutionID,
		UserID:      sub.UserID,
		Inputs:      sub.Inputs,
		RetryPolicy: dispatch.DefaultRetryPolicy(),
	}
	opts := sub.Options
	if opts == nil {
		return spec
	}
	spec.Limits = governor.Limits{
		MaxNodeOutputBytes: opts.MaxNodeOutputBytes,
		MaxContextBytes:    opts.MaxContextBytes,
		TruncateOversized:  opts.TruncateOversize,
	}
	if opts.RetryPolicy != nil {
		spec.RetryPolicy = dispatch.PolicyFromMap(opts.RetryPolicy)
	}
	spec.MaxConcurrent = opts.MaxConcurrentNodes
	spec.MaxLoopIterations = opts.MaxLoopIterations
	if opts.ExecutionTimeoutMs > 0 {
		spec.Timeout = time.Duration(opts.ExecutionTimeoutMs) * time.Millisecond
	}
	return spec
}

// run is the per-execution state, owned by the loop goroutine. Only
// the results channel is touched from activity goroutines.
type run struct {
	o    *Orchestrator
	plan *compiler.Plan
	spec RunSpec

	inline  *operators.Inline
	gov     *governor.Governor
	queue   *scheduler.Queue
	snap    *execctx.Snapshot
	channel *events.Channel

	results       chan nodeResult
	inflight      int
	maxConcurrent int

	started      time.Time
	executed     int
	retried      int
	pruned       int
	firstFailure *failureRecord

	cancelled bool
	timedOut  bool
}

type nodeResult struct {
	nodeID  string
	result  dispatch.Result
	elapsed time.Duration
}

type failureRecord struct {
	nodeID  string
	kind    string
	message string
}

// Run executes one compiled plan to a terminal state and returns the
// execution result. Cancelling ctx cancels the run.
func (o *Orchestrator) Run(ctx context.Context, plan *compiler.Plan, spec RunSpec) sdk.ExecutionResult {
	inline := operators.NewInline(o.evaluator)
	inline.MaxLoopIterations = spec.MaxLoopIterations

	maxConcurrent := spec.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = plan.MaxConcurrentNodes
	}
	if maxConcurrent <= 0 {
		maxConcurrent = compiler.DefaultMaxConcurrentNodes
	}

	r := &run{
		o:             o,
		plan:          plan,
		spec:          spec,
		inline:        inline,
		gov:           governor.New(spec.Limits),
		queue:         scheduler.New(plan),
		snap:          execctx.New(spec.WorkflowID, spec.ExecutionID, spec.Inputs),
		channel:       events.NewChannel(spec.ExecutionID, o.emitter),
		results:       make(chan nodeResult, maxConcurrent),
		maxConcurrent: maxConcurrent,
		started:       o.now(),
	}
	return r.loop(ctx)
}

func (r *run) loop(ctx context.Context) sdk.ExecutionResult {
	// Activities get a derived context so a halt can cancel them all.
	actCtx, cancelActs := context.WithCancel(ctx)
	defer cancelActs()

	var timeout <-chan time.Time
	if r.spec.Timeout > 0 {
		timer := time.NewTimer(r.spec.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	r.emit(ctx, events.KindExecutionStarted, map[string]interface{}{
		"workflowId":  r.spec.WorkflowID,
		"executionId": r.spec.ExecutionID,
	})

	for {
		if !r.halted() {
			r.schedule(ctx, actCtx)
		}
		if r.queue.IsComplete() && r.inflight == 0 {
			break
		}

		r.o.metrics.SetInflight(r.inflight)
		r.o.metrics.SetReadyDepth(r.queue.Counts()[scheduler.StatusReady])

		if r.halted() {
			// Only draining in-flight activities can end the run now.
			res := <-r.results
			r.inflight--
			r.applyResult(ctx, res)
			continue
		}

		select {
		case res := <-r.results:
			r.inflight--
			r.applyResult(ctx, res)
		case <-timeout:
			r.timedOut = true
			r.halt()
			cancelActs()
		case <-ctx.Done():
			r.cancelled = true
			r.halt()
			cancelActs()
		}
	}

	r.o.metrics.SetInflight(0)
	return r.finish(ctx)
}

// schedule drains the ready queue up to the concurrency cap. Inline
// nodes complete synchronously and may admit more work, so the loop
// re-queries until nothing fits.
func (r *run) schedule(ctx, actCtx context.Context) {
	for {
		capacity := r.maxConcurrent - r.inflight
		if capacity <= 0 {
			return
		}
		ready := r.queue.GetReady(capacity)
		if len(ready) == 0 {
			return
		}
		for _, id := range ready {
			node := r.plan.Node(id)
			if err := r.queue.MarkExecuting(id); err != nil {
				r.o.logger.Error("ready node refused executing state",
					"execution_id", r.spec.ExecutionID, "node_id", id, "error", err)
				continue
			}
			if isInline(node.Kind) {
				r.runInline(ctx, node)
			} else {
				r.launch(ctx, actCtx, node)
			}
		}
	}
}

func (r *run) halted() bool {
	return r.cancelled || r.timedOut
}

// halt skips every non-terminal node. In-flight activity results that
// arrive afterwards are dropped by applyResult.
func (r *run) halt() {
	skipped := r.queue.SkipAll()
	if len(skipped) > 0 {
		r.o.logger.Info("halted execution, skipping remaining nodes",
			"execution_id", r.spec.ExecutionID, "skipped", len(skipped))
	}
}

func (r *run) emit(ctx context.Context, kind events.Kind, payload map[string]interface{}) {
	r.channel.Emit(ctx, kind, payload)
}

var inlineKinds = map[string]bool{
	compiler.KindTrigger:     true,
	compiler.KindConditional: true,
	compiler.KindSwitch:      true,
	compiler.KindParallel:    true,
	compiler.KindOutput:      true,
	compiler.KindLoop:        true,
	compiler.KindLoopStart:   true,
	compiler.KindLoopEnd:     true,
}

// isInline reports whether a kind is evaluated on the orchestrator
// goroutine rather than dispatched as an activity.
func isInline(kind string) bool {
	return inlineKinds[kind]
}
