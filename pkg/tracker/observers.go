package tracker

import (
	"context"
	"sync"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/baton-presence/pkg/types/presence"
)

type ChangeHandler func(presence.ChangeEvent)

type ErrorHandler func(presence.ErrorEvent)

type subscription[T any] struct {
	id uint64
	fn T
}

// observers holds registered handlers in registration order. Handlers are
// invoked on the session goroutine.
type observers struct {
	mtx    sync.RWMutex
	nextID uint64
	change []subscription[ChangeHandler]
	errs   []subscription[ErrorHandler]
}

func (o *observers) onChange(fn ChangeHandler) func() {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	o.nextID++
	id := o.nextID
	o.change = append(o.change, subscription[ChangeHandler]{id: id, fn: fn})

	return func() {
		o.mtx.Lock()
		defer o.mtx.Unlock()
		o.change = remove(o.change, id)
	}
}

func (o *observers) onError(fn ErrorHandler) func() {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	o.nextID++
	id := o.nextID
	o.errs = append(o.errs, subscription[ErrorHandler]{id: id, fn: fn})

	return func() {
		o.mtx.Lock()
		defer o.mtx.Unlock()
		o.errs = remove(o.errs, id)
	}
}

func remove[T any](subs []subscription[T], id uint64) []subscription[T] {
	out := make([]subscription[T], 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

func (o *observers) clear() {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	o.change = nil
	o.errs = nil
}

func (o *observers) len() int {
	o.mtx.RLock()
	defer o.mtx.RUnlock()
	return len(o.change) + len(o.errs)
}

func (o *observers) emitChange(ctx context.Context, ev presence.ChangeEvent) {
	o.mtx.RLock()
	subs := o.change
	o.mtx.RUnlock()

	for _, s := range subs {
		safeCall(ctx, "change", func() { s.fn(ev) })
	}
}

func (o *observers) emitError(ctx context.Context, ev presence.ErrorEvent) {
	o.mtx.RLock()
	subs := o.errs
	o.mtx.RUnlock()

	for _, s := range subs {
		safeCall(ctx, "error", func() { s.fn(ev) })
	}
}

func safeCall(ctx context.Context, kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			ctxzap.Extract(ctx).Error("presence observer panicked",
				zap.String("observer", kind),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
