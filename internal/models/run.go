package models

import (
	"errors"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run status constants
const (
	StatusPending   RunStatus = "pending"   // Accepted, subprocess not yet running
	StatusRunning   RunStatus = "running"   // Subprocess spawned and streaming
	StatusCompleted RunStatus = "completed" // Solver declared a final answer
	StatusFailed    RunStatus = "failed"    // Subprocess exited without a final answer
	StatusTimedOut  RunStatus = "timed_out" // Wall-clock budget exceeded
	StatusCancelled RunStatus = "cancelled" // Cancelled on request
)

// ErrInvalidTransition is returned when a status change would move a run
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid run status transition")

// IsTerminal returns true if no further transitions are allowed from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid returns true if s is one of the known statuses.
func (s RunStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an edge of the run state graph:
// pending -> running -> {completed | failed | timed_out | cancelled}.
func CanTransition(from, to RunStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

// RunConfig holds the per-run solver settings.
type RunConfig struct {
	// Model is the model identifier passed to the solver
	Model string `json:"model"`

	// ExpertCount is the number of parallel experts the solver runs
	ExpertCount int `json:"expertCount"`

	// MaxIterations caps iterations per expert (0 = solver default)
	MaxIterations int `json:"maxIterations"`

	// Timeout is the wall-clock budget for the whole run
	Timeout time.Duration `json:"timeout"`
}

// Validate checks that the config values are usable.
func (c RunConfig) Validate() error {
	if c.ExpertCount <= 0 {
		return fmt.Errorf("expert count must be > 0, got %d", c.ExpertCount)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max iterations must be >= 0, got %d", c.MaxIterations)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	return nil
}

// Run is one top-level solve attempt for one puzzle.
type Run struct {
	ID             string     `json:"runId"`
	PuzzleID       string     `json:"puzzleId"`
	Status         RunStatus  `json:"status"`
	Config         RunConfig  `json:"config"`
	ExpertCount    int        `json:"expertCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`      // Set when the subprocess is running
	EndedAt        *time.Time `json:"endedAt,omitempty"`        // Set on terminal transition
	ExitCode       int        `json:"exitCode"`                 // Subprocess exit code (-1 if killed)
	Error          string     `json:"error,omitempty"`          // Terminal reason for non-completed runs
	Diagnostics    string     `json:"diagnostics,omitempty"`    // Captured stderr tail
	MalformedLines int        `json:"malformedLines"`           // Protocol lines discarded
	EvictedEvents  int        `json:"evictedEvents"`            // Events evicted from the capped trace
	Accuracy       *float64   `json:"accuracy,omitempty"`       // Mean validation score, when validated
	AllCorrect     bool       `json:"allCorrect"`               // Every test case correct
}

// Transition moves the run to the given status, stamping StartedAt/EndedAt.
// It refuses any edge outside the documented state graph.
func (r *Run) Transition(to RunStatus, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	if to == StatusRunning {
		t := at
		r.StartedAt = &t
	}
	if to.IsTerminal() {
		t := at
		r.EndedAt = &t
	}
	return nil
}

// Duration returns the wall-clock time between start and end, or zero if the
// run never started.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.EndedAt == nil {
		return time.Since(*r.StartedAt)
	}
	return r.EndedAt.Sub(*r.StartedAt)
}
