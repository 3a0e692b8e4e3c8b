package models

import "encoding/json"

// EventType identifies the kind of payload an Event carries.
type EventType string

// Event types. The first four arrive from the solver; the rest are synthesized
// by the pipeline.
const (
	EventProgress       EventType = "progress"
	EventLog            EventType = "log"
	EventError          EventType = "error"
	EventFinal          EventType = "final"
	EventStatus         EventType = "status"          // Run status change
	EventTraceTruncated EventType = "trace_truncated" // Marks evicted history
)

// IsSolverType returns true for types the solver is allowed to emit.
func (t EventType) IsSolverType() bool {
	switch t {
	case EventProgress, EventLog, EventError, EventFinal:
		return true
	default:
		return false
	}
}

// Tokens counts model tokens.
type Tokens struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// Add returns the element-wise sum.
func (t Tokens) Add(o Tokens) Tokens {
	return Tokens{Input: t.Input + o.Input, Output: t.Output + o.Output}
}

// Total returns input + output.
func (t Tokens) Total() int64 {
	return t.Input + t.Output
}

// TrainingResult is an expert's score on the puzzle's training pairs.
type TrainingResult struct {
	Passed int      `json:"passed"`
	Total  int      `json:"total"`
	Score  float64  `json:"score"`
	Errors []string `json:"errors,omitempty"`
}

// FinalSummary is the totals block a solver may attach to its final event.
type FinalSummary struct {
	Tokens     *Tokens  `json:"tokens,omitempty"`
	Cost       *float64 `json:"cost,omitempty"`
	Iterations *int     `json:"iterations,omitempty"`
}

// Event is the typed envelope stored in a run's trace and delivered to subscribers.
type Event struct {
	RunID          string          `json:"runId"`
	Sequence       uint64          `json:"sequenceNumber"`
	Type           EventType       `json:"type"`
	TimestampMs    int64           `json:"timestampMs"`
	ExpertID       *int            `json:"expertId,omitempty"`
	Iteration      *int            `json:"iterationNumber,omitempty"`
	Phase          string          `json:"phase,omitempty"`
	Message        string          `json:"message,omitempty"`
	Artifact       json.RawMessage `json:"artifact,omitempty"`
	TrainingResult *TrainingResult `json:"trainingResult,omitempty"`
	Tokens         *Tokens         `json:"tokens,omitempty"`
	Cost           *float64        `json:"cost,omitempty"`
	Confidence     *float64        `json:"confidence,omitempty"`
	Summary        *FinalSummary   `json:"summary,omitempty"`
	Status         RunStatus       `json:"status,omitempty"`  // status events only
	Evicted        int             `json:"evicted,omitempty"` // trace_truncated only
}

// IsTerminalStatus returns true for a status event announcing a terminal state.
func (e Event) IsTerminalStatus() bool {
	return e.Type == EventStatus && e.Status.IsTerminal()
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 {
	return &v
}
