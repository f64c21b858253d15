package memory

import (
	"go.uber.org/zap"
)

// Option configures a pool.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	name     string
	backing  Backing
	allowOOO bool
}

func defaultOptions(name string) options {
	return options{
		logger:  zap.NewNop(),
		name:    name,
		backing: BackingSystem,
	}
}

func applyOptions(name string, opts []Option) options {
	o := defaultOptions(name)
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// WithLogger sets the sink for exhaustion, leak and misuse reports.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithName labels the pool in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithBacking selects where large pool buffers come from.
func WithBacking(b Backing) Option {
	return func(o *options) { o.backing = b }
}

// WithAllowOutOfOrderDeallocation silences the stack pool's warning for
// frees that break LIFO order. It has no effect on other strategies.
func WithAllowOutOfOrderDeallocation(allow bool) Option {
	return func(o *options) { o.allowOOO = allow }
}
