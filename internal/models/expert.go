package models

import (
	"encoding/json"
	"fmt"
)

// AttemptID builds the stable identifier of one expert iteration.
// Format: e<expert>-i<iteration>
func AttemptID(expertID, iteration int) string {
	return fmt.Sprintf("e%d-i%d", expertID, iteration)
}

// Attempt is one iteration's output from one expert.
type Attempt struct {
	ID             string          `json:"attemptId"`
	ExpertID       int             `json:"expertId"`
	Iteration      int             `json:"iterationNumber"`
	TimestampMs    int64           `json:"timestampMs"`
	Sequence       uint64          `json:"sequenceNumber"` // Sequence of the event that created the attempt
	Phase          string          `json:"phase,omitempty"`
	Artifact       json.RawMessage `json:"artifact,omitempty"`
	TrainingResult *TrainingResult `json:"trainingResult,omitempty"`
	Tokens         Tokens          `json:"tokens"`
	Cost           float64         `json:"cost"`
}

// Score returns the training score, or -1 when no training result was reported.
func (a *Attempt) Score() float64 {
	if a.TrainingResult == nil {
		return -1
	}
	return a.TrainingResult.Score
}

// Expert is one parallel worker inside a run.
type Expert struct {
	ID             int     `json:"expertId"`
	IterationCount int     `json:"iterationCount"`
	Tokens         Tokens  `json:"tokens"`
	Cost           float64 `json:"cost"`
	BestScore      float64 `json:"bestScore"`
	BestAttemptID  string  `json:"bestAttemptId,omitempty"`
}

// ExpertRecord pairs an expert with its ordered attempt list.
type ExpertRecord struct {
	Expert   Expert    `json:"expert"`
	Attempts []Attempt `json:"attempts"`
}

// RunSummary aggregates expert counters into run-level totals.
type RunSummary struct {
	RunID         string   `json:"runId"`
	ExpertCount   int      `json:"expertCount"`
	TotalAttempts int      `json:"totalAttempts"`
	TotalTokens   Tokens   `json:"totalTokens"`
	TotalCost     float64  `json:"totalCost"`
	BestAttemptID string   `json:"bestAttemptId,omitempty"`
	BestExpertID  *int     `json:"bestExpertId,omitempty"`
	BestScore     float64  `json:"bestScore"`
	Experts       []Expert `json:"experts"`
}
