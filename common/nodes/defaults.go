package nodes

import "time"

// DefaultRegistryOpts selects which built-in handlers NewDefaultRegistry
// wires. DB, File, and HumanReview need external resources (a pool, a
// sandbox root, an approval waiter); leaving one unset keeps the kind
// unregistered so dispatch fails with not_found instead of a handler
// panicking on a nil dependency.
type DefaultRegistryOpts struct {
	DB             Querier
	Waiter         ApprovalWaiter
	FileRoot       string
	LLM            LLMOpts
	HTTPTimeout    time.Duration
	AllowLocalHTTP bool
}

// NewDefaultRegistry builds the handler set shared by the inline runtime
// and the node workers.
func NewDefaultRegistry(opts DefaultRegistryOpts) (*Registry, error) {
	transform, err := NewTransform()
	if err != nil {
		return nil, err
	}

	reg := NewRegistry(
		NewHTTP(HTTPOpts{Timeout: opts.HTTPTimeout, AllowLocal: opts.AllowLocalHTTP}),
		transform,
		NewLLM(opts.LLM),
		NewDelay(),
		NewNoop(),
	)
	if opts.DB != nil {
		reg.Register(NewDB(opts.DB))
	}
	if opts.FileRoot != "" {
		reg.Register(NewFile(opts.FileRoot))
	}
	if opts.Waiter != nil {
		reg.Register(NewHumanReview(opts.Waiter))
	}
	return reg, nil
}
