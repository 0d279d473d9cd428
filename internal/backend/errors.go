package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrSkipped marks a directory that was deliberately not fetched.
	ErrSkipped = errors.New("directory skipped")
	// ErrNoSize is returned by size probes when the server does not report one.
	ErrNoSize = errors.New("size not reported")
	// ErrUnsupportedScheme is returned by New for URLs no adapter handles.
	ErrUnsupportedScheme = errors.New("no backend for URL scheme")
	// ErrBodyTooLarge is returned when a response exceeds the body limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// FatalError aborts the whole run: bad credentials, an unreachable server
// during initialization and similar conditions no retry can fix.
type FatalError struct {
	Backend string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal: %v", e.Backend, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// StatusError is an unexpected HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
