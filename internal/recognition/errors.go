package recognition

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrUnsupportedContentType is returned when a backend cannot read the source format.
var ErrUnsupportedContentType = errors.New("unsupported content type for recognition")

// RateLimitError indicates a recognition backend returned HTTP 429.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
	Backend    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited (retry after %s): %v", e.Backend, e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// NewRateLimitError creates a RateLimitError. If retryAfterSecs is 0, defaults to 60s.
func NewRateLimitError(backend string, err error, retryAfterSecs int) *RateLimitError {
	if retryAfterSecs <= 0 {
		retryAfterSecs = 60
	}
	return &RateLimitError{
		Err:        err,
		RetryAfter: time.Duration(retryAfterSecs) * time.Second,
		Backend:    backend,
	}
}

// ParseRetryAfterHeader parses a Retry-After header value into seconds.
// Returns 0 if the value is empty or not a valid integer.
func ParseRetryAfterHeader(val string) int {
	if val == "" {
		return 0
	}
	secs, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return secs
}

// StatusError builds the error for a non-200 backend response, classifying 429 as a
// RateLimitError.
func StatusError(backend string, status int, retryAfter string, body []byte) error {
	baseErr := fmt.Errorf("%s API error (status %d): %s", backend, status, Truncate(string(body), 500))
	if status == 429 {
		return NewRateLimitError(backend, baseErr, ParseRetryAfterHeader(retryAfter))
	}
	return baseErr
}
