package sepush

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means the API key was rejected. It is never retried.
	ErrAuth = errors.New("authentication failed")
	// ErrTimeout means a request did not finish within the request timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrNetwork covers transport failures and unexpected HTTP statuses.
	ErrNetwork = errors.New("network failure")
	// ErrParse means the response body could not be decoded.
	ErrParse = errors.New("malformed response")
	// ErrQuotaExceeded means the API allowance for the period is used up.
	ErrQuotaExceeded = errors.New("api allowance exceeded")
)

// QueryError describes a failed API query. errors.Is matches its Kind.
type QueryError struct {
	Endpoint   string
	StatusCode int
	// Message is the "error" field of the response body, if any.
	Message string
	Kind    error
	Err     error
}

func (e *QueryError) Error() string {
	msg := fmt.Sprintf("sepush %s: %v", e.Endpoint, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *QueryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsTransient reports whether err is worth retrying on a later poll.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrAuth)
}
