package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRankingUnavailable = errors.New("ranking unavailable")
	ErrMalformedDecision  = errors.New("malformed decision")
	ErrDuplicateAction    = errors.New("duplicate action")
	ErrSourceUnavailable  = errors.New("source unavailable")
	ErrTransientBackend   = errors.New("transient backend error")
)

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is worth another attempt
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// BackendError wraps a reasoning or scoring backend failure
type BackendError struct {
	Backend   string
	Transient bool
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Is(target error) bool {
	return target == ErrTransientBackend && e.Transient
}

// isTransient classifies a backend call failure. Unknown errors are treated as
// transient so that a flaky backend gets its retries. Malformed answers are
// not: the kernel corrects those with a single re-prompt.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformedDecision) {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	return true
}
