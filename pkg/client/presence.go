package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/conductorone/baton-presence/pkg/types/presence"
	"github.com/conductorone/baton-presence/pkg/uhttp"
)

const presencePath = "/v1/presence/users"

var ErrNoUsers = errors.New("presence client: at least one user id is required")

// FetchPresences returns the current presence of every user in ids with one
// batched request. The batch is all or nothing: on any failure a *FetchError
// is returned and no readings are.
func (c *Client) FetchPresences(ctx context.Context, ids []presence.UserID) ([]presence.Presence, error) {
	ctx, span := tracer.Start(ctx, "client.FetchPresences")
	defer span.End()
	span.SetAttributes(attribute.Int("user_count", len(ids)))

	if len(ids) == 0 {
		return nil, ErrNoUsers
	}

	readings, err := c.fetchPresences(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return readings, nil
}

func (c *Client) fetchPresences(ctx context.Context, ids []presence.UserID) ([]presence.Presence, error) {
	const op = "fetch presences"
	l := ctxzap.Extract(ctx)

	req, err := c.wrapper.NewRequest(ctx, http.MethodPost, c.endpoint(c.presenceURL, presencePath),
		uhttp.WithJSONBody(newPresenceRequest(ids)),
		uhttp.WithAcceptJSONHeader(),
	)
	if err != nil {
		return nil, classify(op, err)
	}

	start := time.Now()
	resp, err := c.wrapper.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		l.Debug("presence request failed", zap.Error(err), zap.Duration("latency", time.Since(start)))
		return nil, classify(op, err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" && !uhttp.IsJSONContentType(ct) {
		return nil, newDecodeError(op, errors.New("unexpected content type "+ct))
	}

	readings, err := decodePresences(resp.Body, ids, start.UTC())
	if err != nil {
		return nil, newDecodeError(op, err)
	}

	l.Debug("presence request completed",
		zap.Int("user_count", len(readings)),
		zap.Duration("latency", time.Since(start)),
	)
	return readings, nil
}
