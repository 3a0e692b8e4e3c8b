package models

import "fmt"

// RunRecord is the persisted document for one run: the run itself, every
// expert's attempts, the (possibly truncated) trace and the validation verdicts.
type RunRecord struct {
	Run        Run                `json:"run"`
	Experts    []ExpertRecord     `json:"experts"`
	Trace      []Event            `json:"trace"`
	Validation []ValidationResult `json:"validation"`
	Summary    RunSummary         `json:"summary"`
}

// Validate checks the record is internally consistent before persisting.
func (r *RunRecord) Validate() error {
	if r.Run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.Run.PuzzleID == "" {
		return fmt.Errorf("puzzle id is required")
	}
	if !r.Run.Status.IsValid() {
		return fmt.Errorf("invalid run status %q", r.Run.Status)
	}
	for _, ev := range r.Trace {
		if ev.RunID != r.Run.ID {
			return fmt.Errorf("trace event %d belongs to run %q", ev.Sequence, ev.RunID)
		}
	}
	for _, er := range r.Experts {
		for _, a := range er.Attempts {
			if a.ExpertID != er.Expert.ID {
				return fmt.Errorf("attempt %s filed under expert %d", a.ID, er.Expert.ID)
			}
		}
	}
	return nil
}
