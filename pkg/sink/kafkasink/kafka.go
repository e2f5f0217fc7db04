package kafkasink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/conductorone/baton-presence/pkg/tracker"
	"github.com/conductorone/baton-presence/pkg/types/presence"
)

const defaultTimeout = 10 * time.Second

// Writer is satisfied by *kafka.Writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a writer for topic that hashes keys so events for one
// user always land on the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// Sink writes change events to Kafka keyed by user id.
type Sink struct {
	writer  Writer
	timeout time.Duration
}

func New(w Writer) *Sink {
	return &Sink{writer: w, timeout: defaultTimeout}
}

func (s *Sink) Publish(ctx context.Context, ev presence.ChangeEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID.String()),
		Value: value,
		Time:  ev.Current.ObservedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "session_id", Value: []byte(ev.SessionID)},
		},
	})
}

// Observer adapts the sink to a tracker change handler. Failures are logged.
func (s *Sink) Observer(ctx context.Context) tracker.ChangeHandler {
	l := ctxzap.Extract(ctx).With(zap.String("sink", "kafka"))
	return func(ev presence.ChangeEvent) {
		if err := s.Publish(ctx, ev); err != nil {
			l.Error("failed to write presence change",
				zap.Error(err),
				zap.String("event_id", ev.ID),
				zap.Stringer("user_id", ev.UserID),
			)
		}
	}
}

func (s *Sink) Close() error {
	return s.writer.Close()
}
