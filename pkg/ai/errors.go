package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// StatusError carries the HTTP status a provider answered with.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a provider error is transient: rate limits,
// server errors, timeouts, dropped connections and empty answers.
// Client errors such as 400 or 401 are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusRequestTimeout,
			se.StatusCode == http.StatusConflict,
			se.StatusCode == http.StatusTooManyRequests,
			se.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// Connection resets, DNS failures and other transport errors.
	return true
}
