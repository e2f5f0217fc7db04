package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conductorone/baton-presence/pkg/types/presence"
)

var _ Writer = (*kafka.Writer)(nil)

type fakeWriter struct {
	err    error
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestSink_Publish(t *testing.T) {
	fw := &fakeWriter{}
	s := New(fw)
	observed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := s.Publish(context.Background(), presence.ChangeEvent{
		ID:        "evt-9",
		SessionID: "sess-9",
		UserID:    1234,
		Previous:  presence.Offline,
		Current:   presence.Presence{UserID: 1234, Status: presence.Online, ObservedAt: observed},
	})
	require.NoError(t, err)
	require.Len(t, fw.msgs, 1)

	msg := fw.msgs[0]
	require.Equal(t, "1234", string(msg.Key))
	require.Equal(t, observed, msg.Time)
	require.Equal(t, kafka.Header{Key: "event_id", Value: []byte("evt-9")}, msg.Headers[0])

	var got presence.ChangeEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, presence.Offline, got.Previous)
	require.Equal(t, presence.Online, got.Current.Status)

	require.NoError(t, s.Close())
	require.True(t, fw.closed)
}

func TestSink_ObserverLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	ctx := ctxzap.ToContext(context.Background(), zap.New(core))

	s := New(&fakeWriter{err: errors.New("leader not available")})
	s.Observer(ctx)(presence.ChangeEvent{ID: "evt-1", UserID: 1})

	require.Equal(t, 1, logs.FilterMessage("failed to write presence change").Len())
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"localhost:9092"}, "presence-changes")
	require.Equal(t, "presence-changes", w.Topic)
	require.IsType(t, &kafka.Hash{}, w.Balancer)
}
