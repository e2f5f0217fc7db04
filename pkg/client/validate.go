package client

import (
	"context"
	"net/http"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/baton-presence/pkg/types/presence"
	"github.com/conductorone/baton-presence/pkg/uhttp"
)

type authenticatedUserDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Validate checks that the configured cookie is accepted and returns the
// authenticated user's id.
func (c *Client) Validate(ctx context.Context) (presence.UserID, error) {
	const op = "validate credentials"

	req, err := c.wrapper.NewRequest(ctx, http.MethodGet, c.endpoint(c.usersURL, "/v1/users/authenticated"),
		uhttp.WithAcceptJSONHeader(),
	)
	if err != nil {
		return 0, classify(op, err)
	}

	var dto authenticatedUserDTO
	resp, err := c.wrapper.Do(req, uhttp.WithJSONResponse(&dto))
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if succeeded(resp) {
			return 0, newDecodeError(op, err)
		}
		return 0, classify(op, err)
	}

	ctxzap.Extract(ctx).Info("presence client: credentials valid",
		zap.Int64("user_id", dto.ID),
		zap.String("username", dto.Name),
	)
	return presence.UserID(dto.ID), nil
}
