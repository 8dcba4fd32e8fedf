package garmin

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCookie means session_cookie auth was configured without a
	// cookie value.
	ErrMissingCookie = errors.New("session_cookie auth requires cookie value")

	// ErrMissingCredentials means interactive_login auth was configured
	// without a username or password.
	ErrMissingCredentials = errors.New("interactive_login auth requires username and password")
)

// StatusError is returned for non-2xx responses so callers can branch on the
// status code (the upload path treats 409 as "already uploaded").
type StatusError struct {
	StatusCode int
	URL        string
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s for %s", e.Status, e.URL)
}
