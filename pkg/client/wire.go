package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/conductorone/baton-presence/pkg/types/presence"
)

type presenceRequest struct {
	UserIDs []int64 `json:"userIds"`
}

type presenceResponse struct {
	UserPresences []userPresenceDTO `json:"userPresences"`
}

type userPresenceDTO struct {
	UserPresenceType *int   `json:"userPresenceType"`
	LastLocation     string `json:"lastLocation"`
	PlaceID          *int64 `json:"placeId"`
	RootPlaceID      *int64 `json:"rootPlaceId"`
	GameID           string `json:"gameId"`
	UniverseID       *int64 `json:"universeId"`
	UserID           *int64 `json:"userId"`
	LastOnline       string `json:"lastOnline"`
}

type profileDTO struct {
	Description      string    `json:"description"`
	Created          time.Time `json:"created"`
	IsBanned         bool      `json:"isBanned"`
	HasVerifiedBadge bool      `json:"hasVerifiedBadge"`
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	DisplayName      *string   `json:"displayName"`
}

var errIncomplete = errors.New("response does not cover every requested user")

func newPresenceRequest(ids []presence.UserID) presenceRequest {
	req := presenceRequest{UserIDs: make([]int64, 0, len(ids))}
	for _, id := range ids {
		req.UserIDs = append(req.UserIDs, int64(id))
	}
	return req
}

// decodePresences reads a batch response and returns one reading per requested
// user, in request order. Users that were not requested are dropped; a
// requested user missing from the response fails the whole batch.
func decodePresences(r io.Reader, requested []presence.UserID, observedAt time.Time) ([]presence.Presence, error) {
	var body presenceResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, err
	}
	if body.UserPresences == nil {
		return nil, errors.New("missing userPresences")
	}

	byID := make(map[presence.UserID]presence.Presence, len(body.UserPresences))
	for i, dto := range body.UserPresences {
		if dto.UserID == nil {
			return nil, fmt.Errorf("userPresences[%d]: missing userId", i)
		}
		if dto.UserPresenceType == nil {
			return nil, fmt.Errorf("userPresences[%d]: missing userPresenceType", i)
		}
		byID[presence.UserID(*dto.UserID)] = dto.toPresence(observedAt)
	}

	out := make([]presence.Presence, 0, len(requested))
	for _, id := range requested {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: user %s", errIncomplete, id)
		}
		out = append(out, p)
	}
	return out, nil
}

func (dto userPresenceDTO) toPresence(observedAt time.Time) presence.Presence {
	p := presence.Presence{
		UserID:     presence.UserID(*dto.UserID),
		Status:     presence.StatusFromCode(*dto.UserPresenceType),
		ObservedAt: observedAt,
	}
	if p.Status == presence.Offline {
		return p
	}

	p.LocationName = dto.LastLocation
	p.InstanceID = dto.GameID
	if dto.PlaceID != nil {
		placeID := *dto.PlaceID
		p.PlaceID = &placeID
	}
	return p
}

func (dto profileDTO) toProfile(id presence.UserID) *presence.Profile {
	p := &presence.Profile{
		UserID:           id,
		Username:         dto.Name,
		About:            dto.Description,
		CreatedAt:        dto.Created,
		IsBanned:         dto.IsBanned,
		HasVerifiedBadge: dto.HasVerifiedBadge,
	}
	if dto.DisplayName != nil && *dto.DisplayName != "" {
		name := *dto.DisplayName
		p.DisplayName = &name
	}
	return p
}
