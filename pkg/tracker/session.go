package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conductorone/baton-presence/pkg/client"
	"github.com/conductorone/baton-presence/pkg/metrics"
	"github.com/conductorone/baton-presence/pkg/retry"
	"github.com/conductorone/baton-presence/pkg/types/presence"
)

type State int32

const (
	Idle State = iota
	Running
	Retrying
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Retrying:
		return "retrying"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// session is one run of the poll loop. The tracked state lives on the run
// goroutine's stack and is never shared.
type session struct {
	id                string
	cfg               SessionConfig
	src               Source
	obs               *observers
	m                 *metrics.M
	enrichConcurrency int

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(cfg SessionConfig, src Source, obs *observers, m *metrics.M, enrichConcurrency int) *session {
	s := &session{
		id:                ksuid.New().String(),
		cfg:               cfg,
		src:               src,
		obs:               obs,
		m:                 m,
		enrichConcurrency: enrichConcurrency,
		done:              make(chan struct{}),
	}
	s.state.Store(int32(Idle))
	return s
}

// State reports Stopped as soon as the session is cancelled, even while the
// run goroutine is still unwinding.
func (s *session) State() State {
	if s.ctx != nil && !s.active() {
		return Stopped
	}
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *session) start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.setState(Running)
	go s.run(s.ctx)
}

func (s *session) stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// active reports whether the session has been started and is neither
// cancelled nor exited.
func (s *session) active() bool {
	return s.ctx != nil && s.ctx.Err() == nil && !s.finished()
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) run(ctx context.Context) {
	l := ctxzap.Extract(ctx).With(zap.String("session_id", s.id))
	ctx = ctxzap.ToContext(ctx, l)

	defer close(s.done)
	defer s.cancel()
	defer s.setState(Stopped)
	defer s.m.RecordTrackedUsers(context.WithoutCancel(ctx), 0)

	l.Info("presence tracking started",
		zap.Int("users", len(s.cfg.UserIDs)),
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("retry_enabled", s.cfg.RetryEnabled),
		zap.Int("max_retries", s.cfg.MaxRetries),
	)
	s.m.RecordTrackedUsers(ctx, len(s.cfg.UserIDs))

	retryer := retry.NewRetryer(ctx, retry.RetryConfig{
		Enabled:     s.cfg.RetryEnabled,
		MaxAttempts: uint(max(s.cfg.MaxRetries, 0)),
		Delay:       s.cfg.RetryDelay,
		IsPermanent: client.IsUnauthorized,
	})

	tracked := make(map[presence.UserID]presence.Status, len(s.cfg.UserIDs))
	firstCycle := true

	for {
		if ctx.Err() != nil {
			l.Info("presence tracking stopped")
			return
		}

		started := time.Now()
		next, events, err := s.cycle(ctx, tracked, firstCycle)
		if err != nil {
			if ctx.Err() != nil {
				l.Info("presence tracking stopped")
				return
			}

			d := retryer.Next(ctx, err)
			fatal := !d.Retry
			s.m.RecordPollFailure(ctx, time.Since(started), failureReason(err), fatal)
			s.obs.emitError(ctx, presence.ErrorEvent{
				SessionID: s.id,
				Err:       err,
				Attempt:   int(d.Attempt),
				Fatal:     fatal,
			})

			if fatal {
				l.Error("presence tracking stopped after fatal error", zap.Error(err), zap.Uint("attempt", d.Attempt))
				return
			}

			s.setState(Retrying)
			if !retryer.Wait(ctx) {
				l.Info("presence tracking stopped")
				return
			}
			s.setState(Running)
			continue
		}

		tracked = next
		firstCycle = false

		for _, ev := range events {
			if ctx.Err() != nil {
				l.Info("presence tracking stopped")
				return
			}
			l.Debug("presence changed",
				zap.Stringer("user_id", ev.UserID),
				zap.Stringer("previous", ev.Previous),
				zap.Stringer("current", ev.Current.Status),
			)
			s.m.RecordChange(ctx, ev.Previous.String(), ev.Current.Status.String())
			s.obs.emitChange(ctx, ev)
		}

		retryer.Reset()
		s.m.RecordPollSuccess(ctx, time.Since(started))

		if !sleep(ctx, s.cfg.Interval) {
			l.Info("presence tracking stopped")
			return
		}
	}
}

// cycle fetches the configured users and computes the next tracked state and
// the events to dispatch. Nothing is returned on failure, so a failed cycle
// never touches the tracked state.
func (s *session) cycle(ctx context.Context, tracked map[presence.UserID]presence.Status, firstCycle bool) (map[presence.UserID]presence.Status, []presence.ChangeEvent, error) {
	ctx, span := tracer.Start(ctx, "session.cycle")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", s.id), attribute.Int("users", len(s.cfg.UserIDs)))

	readings, err := s.src.FetchPresences(ctx, s.cfg.UserIDs)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	next, changes := Diff(tracked, readings, firstCycle)
	if len(changes) == 0 {
		return next, nil, nil
	}

	events := make([]presence.ChangeEvent, len(changes))
	for i, c := range changes {
		events[i] = presence.ChangeEvent{
			ID:        uuid.NewString(),
			SessionID: s.id,
			UserID:    c.Current.UserID,
			Previous:  c.Previous,
			Current:   c.Current,
		}
	}

	if s.cfg.Enrich {
		if err := s.enrich(ctx, events); err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
	}

	return next, events, nil
}

func (s *session) enrich(ctx context.Context, events []presence.ChangeEvent) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.enrichConcurrency)

	for i := range events {
		g.Go(func() error {
			p, err := s.src.FetchProfile(ctx, events[i].UserID)
			if err != nil {
				return err
			}
			events[i].Profile = p
			return nil
		})
	}

	return g.Wait()
}

func failureReason(err error) string {
	var fe *client.FetchError
	if errors.As(err, &fe) {
		return fe.Kind.String()
	}
	return "unknown"
}

// sleep waits for d and reports false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
