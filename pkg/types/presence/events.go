package presence

import "fmt"

// ChangeEvent is emitted once for every observed status transition of a user
// that was already seen earlier in the same session.
type ChangeEvent struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	UserID    UserID   `json:"user_id"`
	Previous  Status   `json:"previous"`
	Current   Presence `json:"current"`
	Profile   *Profile `json:"profile,omitempty"`
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("user %s: %s -> %s", e.UserID, e.Previous, e.Current.Status)
}

// ErrorEvent reports a failed poll cycle. Attempt is the 1-based number of
// consecutive failures; Fatal is set on the last event of a session.
type ErrorEvent struct {
	SessionID string `json:"session_id"`
	Err       error  `json:"-"`
	Attempt   int    `json:"attempt"`
	Fatal     bool   `json:"fatal"`
}

func (e ErrorEvent) Error() string {
	if e.Err == nil {
		return "presence: unknown error"
	}
	return e.Err.Error()
}

func (e ErrorEvent) Unwrap() error {
	return e.Err
}
