// Package session tracks live runs: the per-run state bundle and the
// process-wide registry keyed by run id.
package session

import (
	"sync"
	"time"

	"github.com/harrison/arcsolve/internal/experts"
	"github.com/harrison/arcsolve/internal/models"
	"github.com/harrison/arcsolve/internal/stream"
)

// Process is the subset of a solver handle a session needs.
type Process interface {
	Cancel()
	Done() <-chan struct{}
}

// Session bundles everything belonging to one live run. The run record is
// guarded by the session; Trace, Experts and Correlator are safe on their own.
type Session struct {
	ID         string
	Trace      *stream.Trace
	Experts    *experts.Coordinator
	Correlator *stream.Correlator
	Expected   []models.Grid

	mu              sync.Mutex
	run             models.Run
	proc            Process
	cancelRequested bool
	final           *models.Event
	validation      []models.ValidationResult

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a session for run. The run should be in pending state.
func New(run models.Run, trace *stream.Trace, coord *experts.Coordinator, corr *stream.Correlator, expected []models.Grid) *Session {
	return &Session{
		ID:         run.ID,
		Trace:      trace,
		Experts:    coord,
		Correlator: corr,
		Expected:   expected,
		run:        run,
		done:       make(chan struct{}),
	}
}

// Snapshot returns a copy of the run with live counters filled in.
func (s *Session) Snapshot() models.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.run
	if s.Trace != nil {
		run.EvictedEvents = s.Trace.Evicted()
	}
	return run
}

// Status returns the current run status.
func (s *Session) Status() models.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Status
}

// Transition moves the run along the status graph.
func (s *Session) Transition(to models.RunStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Transition(to, at)
}

// Update applies fn to the run record under the session lock.
func (s *Session) Update(fn func(run *models.Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.run)
}

// Attach records the solver process. If a cancel was requested before the
// process existed, it is cancelled right away.
func (s *Session) Attach(p Process) {
	s.mu.Lock()
	s.proc = p
	cancel := s.cancelRequested
	s.mu.Unlock()

	if cancel {
		p.Cancel()
	}
}

// Cancel records the request and signals the process if there is one.
// It returns false if the run had already reached a terminal state.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.run.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	s.cancelRequested = true
	p := s.proc
	s.mu.Unlock()

	if p != nil {
		p.Cancel()
	}
	return true
}

// CancelRequested reports whether Cancel has been called on a live run.
func (s *Session) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

// SetFinal records the run's final answer event. Only the first one is
// kept; it returns false for any later call.
func (s *Session) SetFinal(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil {
		return false
	}
	s.final = &ev
	return true
}

// Final returns the recorded final event, if any.
func (s *Session) Final() (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return models.Event{}, false
	}
	return *s.final, true
}

// SetValidation stores the validation verdicts.
func (s *Session) SetValidation(results []models.ValidationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validation = results
}

// Validation returns a copy of the stored verdicts.
func (s *Session) Validation() []models.ValidationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ValidationResult(nil), s.validation...)
}

// MarkDone signals that the run has been finalized and persisted.
func (s *Session) MarkDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed after MarkDone.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
