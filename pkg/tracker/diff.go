package tracker

import "github.com/conductorone/baton-presence/pkg/types/presence"

// Change is a detected transition for one user.
type Change struct {
	Previous presence.Status
	Current  presence.Presence
}

// Diff compares a batch of readings against the previously observed statuses.
//
// It never mutates previous. The returned map is a copy with the batch applied,
// so the caller decides whether to keep it. A user seen for the first time is
// recorded without a change, whether or not this is the first cycle. Users
// absent from current keep their last known status.
func Diff(previous map[presence.UserID]presence.Status, current []presence.Presence, firstCycle bool) (map[presence.UserID]presence.Status, []Change) {
	next := make(map[presence.UserID]presence.Status, len(previous)+len(current))
	for id, status := range previous {
		next[id] = status
	}

	var changes []Change
	for _, reading := range current {
		prior, seen := next[reading.UserID]
		next[reading.UserID] = reading.Status

		if firstCycle || !seen || prior == reading.Status {
			continue
		}
		changes = append(changes, Change{Previous: prior, Current: reading})
	}

	return next, changes
}
