package runtime

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/common/nodes"
)

const defaultMaxWorkers = 32

// Inline runs activities in-process against a handler registry. A
// semaphore caps engine-wide concurrency across all executions.
type Inline struct {
	registry *nodes.Registry
	sem      chan struct{}
}

type InlineOpts struct {
	Registry   *nodes.Registry
	MaxWorkers int
}

func NewInline(opts InlineOpts) *Inline {
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = defaultMaxWorkers
	}
	return &Inline{
		registry: opts.Registry,
		sem:      make(chan struct{}, workers),
	}
}

func (r *Inline) Execute(ctx context.Context, act Activity) nodes.Response {
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nodes.FailErr(nodes.Classify(ctx.Err()))
	}
	if err := ctx.Err(); err != nil {
		return nodes.FailErr(nodes.Classify(err))
	}
	if r.registry == nil {
		return nodes.Fail(nodes.ErrorTypeValidation, fmt.Sprintf("no registry to execute %s node", act.NodeType), false)
	}
	return r.registry.Execute(ctx, act.request())
}
