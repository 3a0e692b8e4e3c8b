package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRunNotFound is returned for a run id that is neither live nor persisted.
	ErrRunNotFound = errors.New("run not found")

	// ErrTooManyRuns is returned by StartRun when max_concurrent_runs live runs exist.
	ErrTooManyRuns = errors.New("too many concurrent runs")

	// ErrInvalidRunConfig is returned by StartRun when the effective run
	// parameters fail validation.
	ErrInvalidRunConfig = errors.New("invalid run config")
)

// TimeoutError records a run that exceeded its wall-clock budget.
type TimeoutError struct {
	RunID   string        // Run that timed out
	Timeout time.Duration // Budget that was exceeded
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run %s: timeout after %v", e.RunID, e.Timeout)
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRunNotFound checks if the error is or wraps ErrRunNotFound.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsTooManyRuns checks if the error is or wraps ErrTooManyRuns.
func IsTooManyRuns(err error) bool {
	return errors.Is(err, ErrTooManyRuns)
}
