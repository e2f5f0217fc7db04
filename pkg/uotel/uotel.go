package uotel

import (
	"context"
)

// InitOtel points the global tracer provider, and optionally the zap logger
// carried by ctx, at an OTLP collector. The returned function flushes and
// closes everything it set up. Without an endpoint it does nothing.
func InitOtel(ctx context.Context, opts ...Option) (context.Context, func(context.Context) error, error) {
	config := newConfig(opts...)

	ctx, err := config.init(ctx)
	if err != nil {
		return nil, nil, err
	}

	return ctx, config.Close, nil
}
