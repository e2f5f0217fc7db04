package tracker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/conductorone/baton-presence/pkg/types/presence"
)

const DefaultMinInterval = 5 * time.Second

// SessionConfig describes one tracking session. It is copied on Start, so
// later changes by the caller have no effect on a running session.
type SessionConfig struct {
	UserIDs  []presence.UserID
	Interval time.Duration // Zero uses the tracker minimum.

	RetryEnabled bool
	MaxRetries   int
	RetryDelay   time.Duration

	// Enrich attaches a profile to every change event.
	Enrich bool
}

type ConfigurationError struct {
	errs []error
}

func (c *ConfigurationError) Error() string {
	errstrings := make([]string, 0, len(c.errs))
	for _, err := range c.errs {
		errstrings = append(errstrings, err.Error())
	}

	return fmt.Sprintf("found %d error(s) in the session configuration:\n%s", len(c.errs), strings.Join(errstrings, "\n"))
}

func (c *ConfigurationError) PushError(err error) {
	if err == nil {
		return
	}
	c.errs = append(c.errs, err)
}

func (c *ConfigurationError) Unwrap() []error {
	return c.errs
}

var (
	ErrNoUserIDs        = errors.New("at least one user id is required")
	ErrIntervalTooShort = errors.New("poll interval is below the minimum")
	ErrInvalidRetry     = errors.New("inconsistent retry settings")
)

// normalize validates c and returns a private copy with duplicate ids removed
// and defaults applied. Id order is preserved.
func (c SessionConfig) normalize(minInterval time.Duration) (SessionConfig, error) {
	errorsFound := &ConfigurationError{}

	out := c
	out.UserIDs = nil
	seen := mapset.NewThreadUnsafeSetWithSize[presence.UserID](len(c.UserIDs))
	for _, id := range c.UserIDs {
		if seen.Add(id) {
			out.UserIDs = append(out.UserIDs, id)
		}
	}
	if len(out.UserIDs) == 0 {
		errorsFound.PushError(ErrNoUserIDs)
	}

	if out.Interval == 0 {
		out.Interval = minInterval
	}
	if out.Interval < minInterval {
		errorsFound.PushError(fmt.Errorf("%w: %s < %s", ErrIntervalTooShort, out.Interval, minInterval))
	}

	if out.RetryEnabled {
		if out.MaxRetries < 1 {
			errorsFound.PushError(fmt.Errorf("%w: max retries must be at least 1, got %d", ErrInvalidRetry, out.MaxRetries))
		}
		if out.RetryDelay < time.Millisecond {
			errorsFound.PushError(fmt.Errorf("%w: retry delay must be at least 1ms, got %s", ErrInvalidRetry, out.RetryDelay))
		}
	}

	if len(errorsFound.errs) > 0 {
		return SessionConfig{}, errorsFound
	}

	return out, nil
}
