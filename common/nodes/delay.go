package nodes

import (
	"context"
	"time"
)

// Delay pauses delay nodes for a configured duration. The sleeper is
// injectable so tests run without waiting.
type Delay struct {
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDelay() *Delay {
	return &Delay{sleep: sleepCtx}
}

// NewDelayWithSleeper overrides the sleep function.
func NewDelayWithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Delay {
	return &Delay{sleep: sleep}
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

func (d *Delay) Kind() string { return "delay" }

func (d *Delay) Execute(ctx context.Context, req Request) Response {
	ms, ok := req.Config["duration_ms"].(float64)
	if !ok {
		ms, ok = req.Config["delay_ms"].(float64)
	}
	if !ok || ms < 0 {
		return Fail(ErrorTypeValidation, "delay node requires duration_ms", false)
	}

	if err := d.sleep(ctx, time.Duration(ms)*time.Millisecond); err != nil {
		return FailErr(Classify(err))
	}
	return Succeed(map[string]interface{}{
		"delayed_ms": int64(ms),
	}, nil)
}

// Noop completes immediately, echoing its config. Wiring tests and
// placeholder nodes use it.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Kind() string { return "noop" }

func (n *Noop) Execute(_ context.Context, req Request) Response {
	result := make(map[string]interface{}, len(req.Config))
	for k, v := range req.Config {
		result[k] = v
	}
	return Succeed(result, nil)
}
