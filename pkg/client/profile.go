package client

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/maypok86/otter/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/conductorone/baton-presence/pkg/types/presence"
	"github.com/conductorone/baton-presence/pkg/uhttp"
)

// FetchProfile returns the profile of a single user. Profiles are cached for
// the configured TTL; concurrent lookups of the same user share one request.
func (c *Client) FetchProfile(ctx context.Context, id presence.UserID) (*presence.Profile, error) {
	ctx, span := tracer.Start(ctx, "client.FetchProfile")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", int64(id)))

	p, err := c.profiles.Get(ctx, id, otter.LoaderFunc[presence.UserID, *presence.Profile](c.loadProfile))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify("fetch profile", err)
	}
	return p, nil
}

func (c *Client) loadProfile(ctx context.Context, id presence.UserID) (*presence.Profile, error) {
	const op = "fetch profile"

	req, err := c.wrapper.NewRequest(ctx, http.MethodGet, c.endpoint(c.usersURL, "/v1/users/"+strconv.FormatInt(int64(id), 10)),
		uhttp.WithAcceptJSONHeader(),
	)
	if err != nil {
		return nil, classify(op, err)
	}

	var dto profileDTO
	resp, err := c.wrapper.Do(req, uhttp.WithJSONResponse(&dto))
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if succeeded(resp) {
			return nil, newDecodeError(op, err)
		}
		return nil, classify(op, err)
	}
	if dto.ID != 0 && dto.ID != int64(id) {
		return nil, newDecodeError(op, errors.New("profile id mismatch: got "+strconv.FormatInt(dto.ID, 10)))
	}

	return dto.toProfile(id), nil
}

// FetchUserPresences returns presence and profile for every user in ids.
// Profiles are fetched concurrently; any failure fails the whole call.
func (c *Client) FetchUserPresences(ctx context.Context, ids []presence.UserID) ([]presence.UserPresence, error) {
	readings, err := c.FetchPresences(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]presence.UserPresence, len(readings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.enrichConcurrency)
	for i, r := range readings {
		g.Go(func() error {
			profile, err := c.FetchProfile(gctx, r.UserID)
			if err != nil {
				return err
			}
			out[i] = presence.UserPresence{Presence: r, Profile: *profile}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}
