package uhttp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of an error response is kept on a StatusError.
const maxErrorBody = 512

var ErrClientClosed = errors.New("uhttp: client closed")

// StatusError is returned by Do for any non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func newStatusError(resp *http.Response) *StatusError {
	se := &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se.Body = strings.TrimSpace(string(b))
	}
	return se
}
