package tracker

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/conductorone/baton-presence/pkg/metrics"
	"github.com/conductorone/baton-presence/pkg/types/presence"
)

var tracer = otel.Tracer("baton-presence/tracker")

const defaultEnrichConcurrency = 4

var ErrDisposed = errors.New("tracker: disposed")

// Source is the presence API as seen by the tracker. *client.Client satisfies it.
type Source interface {
	FetchPresences(ctx context.Context, ids []presence.UserID) ([]presence.Presence, error)
	FetchProfile(ctx context.Context, id presence.UserID) (*presence.Profile, error)
	FetchUserPresences(ctx context.Context, ids []presence.UserID) ([]presence.UserPresence, error)
}

// Tracker runs at most one tracking session at a time and fans its events out
// to registered observers.
type Tracker struct {
	src               Source
	minInterval       time.Duration
	metrics           *metrics.M
	enrichConcurrency int
	obs               *observers

	mtx      sync.Mutex
	current  *session
	disposed bool

	disposeOnce sync.Once
	disposeErr  error
}

type Option func(*Tracker)

// WithMinInterval sets the smallest poll interval Start accepts.
func WithMinInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.minInterval = d
		}
	}
}

func WithMetrics(h metrics.Handler) Option {
	return func(t *Tracker) {
		t.metrics = metrics.New(h)
	}
}

func WithEnrichConcurrency(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.enrichConcurrency = n
		}
	}
}

// New returns a tracker that owns src. If src implements io.Closer it is
// closed by Dispose.
func New(src Source, opts ...Option) *Tracker {
	t := &Tracker{
		src:               src,
		minInterval:       DefaultMinInterval,
		metrics:           metrics.New(nil),
		enrichConcurrency: defaultEnrichConcurrency,
		obs:               &observers{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start validates cfg and launches a session in the background. It does
// nothing if a session is already active; a stopped session that is still
// unwinding does not count. The session stops when ctx is cancelled, Stop is
// called, or a fatal error occurs.
func (t *Tracker) Start(ctx context.Context, cfg SessionConfig) error {
	cfg, err := cfg.normalize(t.minInterval)
	if err != nil {
		return err
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.disposed {
		return ErrDisposed
	}
	if t.current != nil && t.current.active() {
		ctxzap.Extract(ctx).Debug("presence tracking already running, ignoring start",
			zap.String("session_id", t.current.id),
		)
		return nil
	}

	s := newSession(cfg, t.src, t.obs, t.metrics, t.enrichConcurrency)
	t.current = s
	s.start(ctx)

	return nil
}

// Stop cancels the active session without waiting for it to exit. An event
// already being dispatched may still reach observers.
func (t *Tracker) Stop() {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.current != nil {
		t.current.stop()
	}
}

// Wait blocks until the current session, if any, has exited. A session
// replaced by a restart may still be unwinding when Wait returns.
func (t *Tracker) Wait() {
	t.mtx.Lock()
	s := t.current
	t.mtx.Unlock()

	if s != nil {
		<-s.done
	}
}

func (t *Tracker) Running() bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.current != nil && t.current.active()
}

// State reports the state of the most recent session, or Idle if none was started.
func (t *Tracker) State() State {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.current == nil {
		return Idle
	}
	return t.current.State()
}

// SessionID returns the id of the most recent session.
func (t *Tracker) SessionID() string {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.current == nil {
		return ""
	}
	return t.current.id
}

// FetchOnce fetches presence for ids without touching any session state.
func (t *Tracker) FetchOnce(ctx context.Context, ids []presence.UserID) ([]presence.Presence, error) {
	return t.src.FetchPresences(ctx, ids)
}

// FetchUserPresences fetches presence and profiles for ids.
func (t *Tracker) FetchUserPresences(ctx context.Context, ids []presence.UserID) ([]presence.UserPresence, error) {
	return t.src.FetchUserPresences(ctx, ids)
}

// OnChange registers fn for change events and returns a function that removes it.
func (t *Tracker) OnChange(fn ChangeHandler) func() {
	return t.obs.onChange(fn)
}

// OnError registers fn for error events and returns a function that removes it.
func (t *Tracker) OnError(fn ErrorHandler) func() {
	return t.obs.onError(fn)
}

// Dispose stops the active session, detaches all observers and closes the
// source. Only the first call has any effect.
func (t *Tracker) Dispose() error {
	t.disposeOnce.Do(func() {
		t.mtx.Lock()
		t.disposed = true
		if t.current != nil {
			t.current.stop()
		}
		t.mtx.Unlock()

		t.obs.clear()

		if c, ok := t.src.(io.Closer); ok {
			t.disposeErr = c.Close()
		}
	})
	return t.disposeErr
}
