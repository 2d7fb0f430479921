package cache

import (
	"context"

	"github.com/thomasrockhu-codecov/cradle/pkg/types"
	"github.com/thomasrockhu-codecov/cradle/pkg/utils"
)

// Option configures the memory and disk caches.
type Option func(*options)

type options struct {
	ctx     context.Context
	logger  *utils.StructuredLogger
	metrics types.MetricsCollector
}

// WithLogger sets the logger used for cache events.
func WithLogger(logger *utils.StructuredLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics reports cache events to m.
func WithMetrics(m types.MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// WithBaseContext sets the context passed to producers. Producers run on
// behalf of every holder of a record, so they never see a caller's context.
func WithBaseContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{
		ctx:    context.Background(),
		logger: utils.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.WithComponent(component)
	return o
}
