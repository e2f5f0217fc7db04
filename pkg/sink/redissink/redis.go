package redissink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conductorone/baton-presence/pkg/tracker"
	"github.com/conductorone/baton-presence/pkg/types/presence"
)

const (
	DefaultChannel   = "baton-presence:changes"
	statusKeyPrefix  = "baton-presence:status:"
	defaultTimeout   = 5 * time.Second
	defaultStatusTTL = 24 * time.Hour
)

// Client is the subset of redis.Cmdable the sink uses.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Sink publishes change events to a Redis channel and keeps the latest
// presence of every changed user under its own key.
type Sink struct {
	client    Client
	channel   string
	timeout   time.Duration
	statusTTL time.Duration
}

type Option func(*Sink)

func WithChannel(channel string) Option {
	return func(s *Sink) {
		if channel != "" {
			s.channel = channel
		}
	}
}

// WithStatusTTL sets how long the latest presence key lives. Zero disables the key.
func WithStatusTTL(ttl time.Duration) Option {
	return func(s *Sink) {
		s.statusTTL = ttl
	}
}

func New(client Client, opts ...Option) *Sink {
	s := &Sink{
		client:    client,
		channel:   DefaultChannel,
		timeout:   defaultTimeout,
		statusTTL: defaultStatusTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func StatusKey(id presence.UserID) string {
	return statusKeyPrefix + id.String()
}

// Publish writes one event. Errors are returned to the caller.
func (s *Sink) Publish(ctx context.Context, ev presence.ChangeEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return err
	}

	if s.statusTTL > 0 {
		current, err := json.Marshal(ev.Current)
		if err != nil {
			return err
		}
		return s.client.Set(ctx, StatusKey(ev.UserID), current, s.statusTTL).Err()
	}
	return nil
}

// Observer adapts the sink to a tracker change handler. Failures are logged and
// never reach the session.
func (s *Sink) Observer(ctx context.Context) tracker.ChangeHandler {
	l := ctxzap.Extract(ctx).With(zap.String("sink", "redis"), zap.String("channel", s.channel))
	return func(ev presence.ChangeEvent) {
		if err := s.Publish(ctx, ev); err != nil {
			l.Error("failed to publish presence change",
				zap.Error(err),
				zap.String("event_id", ev.ID),
				zap.Stringer("user_id", ev.UserID),
			)
		}
	}
}
