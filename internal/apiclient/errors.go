package apiclient

import (
	"fmt"
	"net/http"
	"time"
)

// Error is a non-2xx response from the backend.
type Error struct {
	StatusCode int
	Message    string
	Code       string
	RequestID  string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return e.Message
}

// RetryHint reports how long the vendor asked callers to back off.
func (e *Error) RetryHint() time.Duration { return e.RetryAfter }

// TransportError wraps failures to reach the backend at all.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
