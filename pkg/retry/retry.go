package retry

import (
	"context"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("baton-presence/retry")

// Retryer tracks consecutive failures of a repeated operation and decides when
// to give up. It is not safe for concurrent use; each loop owns one.
type Retryer struct {
	attempts    uint
	enabled     bool
	maxAttempts uint
	delay       time.Duration
	isPermanent func(error) bool
}

type RetryConfig struct {
	Enabled     bool
	MaxAttempts uint          // Consecutive failures that may be retried. Must be >= 1 when Enabled.
	Delay       time.Duration // Fixed wait between attempts. Default is 1 second.

	// IsPermanent marks errors that must never be retried.
	IsPermanent func(error) bool
}

// Decision is the outcome of recording one failure.
type Decision struct {
	Attempt uint // 1-based number of consecutive failures, including this one.
	Retry   bool
}

func NewRetryer(ctx context.Context, config RetryConfig) *Retryer {
	r := &Retryer{
		attempts:    0,
		enabled:     config.Enabled,
		maxAttempts: config.MaxAttempts,
		delay:       config.Delay,
		isPermanent: config.IsPermanent,
	}
	if r.delay == 0 {
		r.delay = time.Second
	}
	if r.isPermanent == nil {
		r.isPermanent = func(error) bool { return false }
	}
	return r
}

// Reset clears the failure count after a success.
func (r *Retryer) Reset() {
	r.attempts = 0
}

func (r *Retryer) Attempts() uint {
	return r.attempts
}

// Next records err as a failure and reports whether another attempt is allowed.
func (r *Retryer) Next(ctx context.Context, err error) Decision {
	l := ctxzap.Extract(ctx)

	prior := r.attempts
	r.attempts++
	d := Decision{Attempt: r.attempts}

	switch {
	case r.isPermanent(err):
		l.Warn("permanent error, not retrying", zap.Error(err), zap.Uint("attempt", d.Attempt))
	case !r.enabled:
		l.Warn("retries disabled, not retrying", zap.Error(err))
	case prior >= r.maxAttempts:
		l.Warn("max attempts reached", zap.Error(err), zap.Uint("max_attempts", r.maxAttempts))
	default:
		d.Retry = true
		l.Warn("retrying operation", zap.Error(err), zap.Uint("attempt", d.Attempt), zap.Duration("wait", r.delay))
	}

	return d
}

// Wait blocks for the retry delay. It returns false if ctx is done first.
func (r *Retryer) Wait(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "retry.Wait")
	defer span.End()
	span.SetAttributes(attribute.Int64("attempt", int64(r.attempts)), attribute.Int64("wait_ms", r.delay.Milliseconds()))

	t := time.NewTimer(r.delay)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
