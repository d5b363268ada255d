// Package dispatch invokes node activities through the runtime and
// applies the retry policy. The orchestrator sees one final result
// per node: a success or a terminal failure.
package dispatch

import (
	"context"
	"time"

	"github.com/weftlabs/weft/cmd/engine/runtime"
	"github.com/weftlabs/weft/common/nodes"
)

// Logger is the minimal logging surface the dispatcher needs.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Result is the terminal outcome of one dispatched node, after
// retries.
type Result struct {
	Response nodes.Response
	Attempts int
}

// Dispatcher wraps a runtime with the retry loop. The sleep function
// is injected; tests replace it to make backoff sequences observable
// without waiting.
type Dispatcher struct {
	runtime runtime.Runtime
	sleep   func(ctx context.Context, d time.Duration) error
	logger  Logger
}

type Opts struct {
	Runtime runtime.Runtime
	Logger  Logger
	Sleep   func(ctx context.Context, d time.Duration) error
}

func New(opts Opts) *Dispatcher {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Dispatcher{
		runtime: opts.Runtime,
		sleep:   sleep,
		logger:  opts.Logger,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch runs the activity until success, a terminal failure, the
// attempt budget runs out, or the context ends. Blocking; the
// orchestrator runs one Dispatch per in-flight node.
func (d *Dispatcher) Dispatch(ctx context.Context, act runtime.Activity, policy RetryPolicy) Result {
	policy = policy.withDefaults()

	var resp nodes.Response
	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		resp = d.runtime.Execute(ctx, act)
		if resp.Success || resp.Error == nil || !resp.Error.Retryable {
			return Result{Response: resp, Attempts: attempt + 1}
		}
		if attempt == policy.MaxRetries-1 {
			break
		}

		delay := policy.DelayMs(attempt, resp.Error.RetryAfterMs)
		d.logger.Warn("retrying node after failure",
			"execution_id", act.ExecutionID,
			"node_id", act.NodeID,
			"attempt", attempt+1,
			"error_type", resp.Error.Type,
			"delay_ms", delay,
		)
		if err := d.sleep(ctx, time.Duration(delay)*time.Millisecond); err != nil {
			return Result{Response: nodes.FailErr(nodes.Classify(err)), Attempts: attempt + 1}
		}
	}
	return Result{Response: resp, Attempts: policy.MaxRetries}
}
