package presence

import (
	"strconv"
	"time"
)

// UserID identifies a tracked user. It is supplied by the caller and never interpreted.
type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Status is the activity classification reported by the presence API.
// The numeric values match the wire codes.
type Status int

const (
	Offline Status = iota
	Online
	InGame
	InEditor
	Unknown
)

func (s Status) String() string {
	switch s {
	case Offline:
		return "offline"
	case Online:
		return "online"
	case InGame:
		return "in_game"
	case InEditor:
		return "in_editor"
	case Unknown:
		return "unknown"
	default:
		return "invalid(" + strconv.Itoa(int(s)) + ")"
	}
}

// StatusFromCode maps a wire code to a Status. Codes outside the known range map to Unknown.
func StatusFromCode(code int) Status {
	if code < int(Offline) || code > int(Unknown) {
		return Unknown
	}
	return Status(code)
}

// Presence is a single reading for one user taken from one batch fetch.
// The location fields are only set when Status is not Offline.
type Presence struct {
	UserID       UserID    `json:"user_id"`
	Status       Status    `json:"status"`
	LocationName string    `json:"location_name,omitempty"`
	PlaceID      *int64    `json:"place_id,omitempty"`
	InstanceID   string    `json:"instance_id,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

func (p Presence) HasLocation() bool {
	return p.Status != Offline && (p.LocationName != "" || p.PlaceID != nil || p.InstanceID != "")
}

type Profile struct {
	UserID           UserID    `json:"user_id"`
	Username         string    `json:"username"`
	DisplayName      *string   `json:"display_name,omitempty"`
	About            string    `json:"about"`
	CreatedAt        time.Time `json:"created_at"`
	IsBanned         bool      `json:"is_banned"`
	HasVerifiedBadge bool      `json:"has_verified_badge"`
}

// UserPresence is a reading combined with the user's profile.
type UserPresence struct {
	Presence
	Profile Profile `json:"profile"`
}
