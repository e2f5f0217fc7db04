package metrics

import (
	"context"
	"strconv"
	"time"
)

const (
	pollSuccessCounterName = "baton_presence.poll_success"
	pollFailureCounterName = "baton_presence.poll_failure"
	pollDurationHistoName  = "baton_presence.poll_latency"
	changeCounterName      = "baton_presence.presence_changes"
	trackedUsersGaugeName  = "baton_presence.tracked_users"
	pollSuccessCounterDesc = "number of successful presence poll cycles"
	pollFailureCounterDesc = "number of failed presence poll cycles by failure reason and fatality"
	pollDurationHistoDesc  = "duration of presence poll cycles by status"
	changeCounterDesc      = "number of presence transitions by previous and current status"
	trackedUsersGaugeDesc  = "number of users tracked by the active session"
)

// M records tracker level metrics on top of a Handler.
type M struct {
	underlying Handler
}

func (m *M) RecordPollSuccess(ctx context.Context, dur time.Duration) {
	c := m.underlying.Int64Counter(pollSuccessCounterName, pollSuccessCounterDesc, Dimensionless)
	h := m.underlying.Int64Histogram(pollDurationHistoName, pollDurationHistoDesc, Milliseconds)
	c.Add(ctx, 1, nil)
	h.Record(ctx, dur.Milliseconds(), map[string]string{"poll_status": "success"})
}

func (m *M) RecordPollFailure(ctx context.Context, dur time.Duration, reason string, fatal bool) {
	c := m.underlying.Int64Counter(pollFailureCounterName, pollFailureCounterDesc, Dimensionless)
	h := m.underlying.Int64Histogram(pollDurationHistoName, pollDurationHistoDesc, Milliseconds)

	c.Add(ctx, 1, map[string]string{
		"reason": reason,
		"fatal":  strconv.FormatBool(fatal),
	})
	h.Record(ctx, dur.Milliseconds(), map[string]string{
		"poll_status": "failure",
		"reason":      reason,
	})
}

func (m *M) RecordChange(ctx context.Context, previous string, current string) {
	c := m.underlying.Int64Counter(changeCounterName, changeCounterDesc, Dimensionless)
	c.Add(ctx, 1, map[string]string{"previous": previous, "current": current})
}

func (m *M) RecordTrackedUsers(ctx context.Context, n int) {
	g := m.underlying.Int64Gauge(trackedUsersGaugeName, trackedUsersGaugeDesc, Dimensionless)
	g.Observe(ctx, int64(n), nil)
}

func New(handler Handler) *M {
	if handler == nil {
		handler = &noopHandler{}
	}
	return &M{underlying: handler}
}
