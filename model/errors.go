package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks a failure to reach an upstream model endpoint.
	ErrUnavailable = errors.New("model endpoint unavailable")
	// ErrNotConfigured marks a missing endpoint URL or model name.
	ErrNotConfigured = errors.New("model endpoint not configured")
)

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed on a later attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
