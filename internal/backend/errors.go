package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrEmptyResponse means the provider answered but produced nothing usable.
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrAssistantUnsupported is returned by providers without hosted assistants.
	ErrAssistantUnsupported = errors.New("provider does not support hosted assistants")
)

// BackendError wraps transport, authentication and rate-limit failures
type BackendError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: API error: %d %s - %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a retry could plausibly succeed
func (e *BackendError) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Err != nil &&
			!errors.Is(e.Err, context.Canceled) &&
			!errors.Is(e.Err, context.DeadlineExceeded)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RunError is returned when a hosted-assistant run ends in a terminal state
// other than completed. It matches ErrEmptyResponse.
type RunError struct {
	RunID  string
	Status RunStatus
	Reason string
}

func (e *RunError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("run %s ended with status %s: %s", e.RunID, e.Status, e.Reason)
	}
	return fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
}

func (e *RunError) Is(target error) bool {
	return target == ErrEmptyResponse
}

// TimeoutError is returned when a run does not reach a terminal state within
// the poll bound. It matches ErrEmptyResponse.
type TimeoutError struct {
	RunID   string
	Status  RunStatus
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run %s still %s after %s", e.RunID, e.Status, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrEmptyResponse
}
