package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/conductorone/baton-presence/pkg/uhttp"
)

// Kind classifies a FetchError.
type Kind uint8

const (
	KindTransport Kind = iota
	KindUnauthorized
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnauthorized:
		return "unauthorized"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

var (
	ErrTransport    = errors.New("presence client: transport failure")
	ErrUnauthorized = errors.New("presence client: unauthorized")
	ErrDecode       = errors.New("presence client: malformed response")
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindDecode:
		return ErrDecode
	default:
		return ErrTransport
	}
}

// FetchError is returned for any failed presence or profile request.
// errors.Is matches it against ErrTransport, ErrUnauthorized and ErrDecode.
type FetchError struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// IsUnauthorized reports whether err is a FetchError of kind KindUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func newDecodeError(op string, err error) *FetchError {
	return &FetchError{Kind: KindDecode, Op: op, Err: err}
}

// classify maps an error returned by the http wrapper to a FetchError.
func classify(op string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	var se *uhttp.StatusError
	if errors.As(err, &se) {
		kind := KindTransport
		if se.Unauthorized() {
			kind = KindUnauthorized
		}
		return &FetchError{Kind: kind, Op: op, StatusCode: se.StatusCode, Err: err}
	}

	return &FetchError{Kind: KindTransport, Op: op, Err: err}
}

// succeeded reports whether a response came back with a 2xx status, so that a
// failure while reading it is a decode problem rather than a transport one.
func succeeded(resp *http.Response) bool {
	return resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300
}
