package stream

import (
	"time"

	"github.com/harrison/arcsolve/internal/models"
)

// Correlator stamps raw solver events with run-relative timestamps.
//
// A timestampMs supplied by the solver is trusted as-is. Otherwise the
// milliseconds elapsed since the correlator was created are used. Ordering is
// decided by sequence numbers, not by these timestamps.
type Correlator struct {
	runID string
	start time.Time
	now   func() time.Time
}

// NewCorrelator starts the run clock. A nil now uses time.Now.
func NewCorrelator(runID string, now func() time.Time) *Correlator {
	if now == nil {
		now = time.Now
	}
	return &Correlator{runID: runID, start: now(), now: now}
}

// Elapsed returns milliseconds since the correlator was created.
func (c *Correlator) Elapsed() int64 {
	return c.now().Sub(c.start).Milliseconds()
}

// Normalize converts a raw event into a run event. It never fails.
func (c *Correlator) Normalize(raw RawEvent) models.Event {
	ev := models.Event{
		RunID:          c.runID,
		Type:           raw.Type,
		ExpertID:       raw.ExpertID,
		Iteration:      raw.Iteration,
		Phase:          raw.Phase,
		Message:        raw.Message,
		Artifact:       raw.Artifact,
		TrainingResult: raw.TrainingResult,
		Tokens:         raw.Tokens,
		Cost:           raw.Cost,
		Confidence:     raw.Confidence,
		Summary:        raw.Summary,
	}
	if raw.TimestampMs != nil {
		ev.TimestampMs = *raw.TimestampMs
	} else {
		ev.TimestampMs = c.Elapsed()
	}
	return ev
}

// Synthesize builds a pipeline-originated event (status, error) stamped with
// the current run-relative time.
func (c *Correlator) Synthesize(typ models.EventType, message string) models.Event {
	return models.Event{
		RunID:       c.runID,
		Type:        typ,
		Message:     message,
		TimestampMs: c.Elapsed(),
	}
}
