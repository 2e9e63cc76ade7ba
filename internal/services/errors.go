package services

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ConfigurationError means the vendor credential for a service is missing.
// The operation is refused; retrying will not help until the server is
// reconfigured.
type ConfigurationError struct{ Message string }

func (e *ConfigurationError) Error() string { return e.Message }

// UpstreamError wraps a failed or non-success vendor call. RetryAfter is set
// when the vendor told us how long to back off.
type UpstreamError struct {
	Service    string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s API error", e.Service)
	}
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RetryHint exposes RetryAfter to callers that only know the error interface.
func (e *UpstreamError) RetryHint() time.Duration { return e.RetryAfter }

type ValidationError struct{ Message string }

func (e *ValidationError) Error() string { return e.Message }

var retryInPattern = regexp.MustCompile(`(?i)retry in ([\d.]+)s`)

// parseRetryHint extracts "retry in 38.6s" style hints that rate-limited
// vendor errors carry in their message. The result is rounded up to whole
// seconds; zero means no hint.
func parseRetryHint(msg string) time.Duration {
	m := retryInPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil || secs <= 0 {
		return 0
	}
	whole := int64(secs)
	if float64(whole) < secs {
		whole++
	}
	return time.Duration(whole) * time.Second
}

// parseRetryAfterHeader reads an HTTP Retry-After header given in seconds.
func parseRetryAfterHeader(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// RetryAfter reports the vendor back-off hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.RetryAfter
	}
	return 0
}
