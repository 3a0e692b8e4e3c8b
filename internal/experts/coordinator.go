// Package experts folds a run's progress events into per-expert state:
// attempts, cumulative usage and best-scoring results.
package experts

import (
	"fmt"
	"sync"

	"github.com/harrison/arcsolve/internal/models"
)

// Outcome describes what Apply did with an event.
type Outcome int

const (
	// Ignored events carried no expert/iteration tag or were not progress
	Ignored Outcome = iota
	// NewAttempt means the event opened a new iteration for its expert
	NewAttempt
	// Updated means the event refined the expert's current attempt
	Updated
	// Stale means the event referred to an iteration older than the
	// expert's latest and was discarded
	Stale
)

func (o Outcome) String() string {
	switch o {
	case NewAttempt:
		return "new_attempt"
	case Updated:
		return "updated"
	case Stale:
		return "stale"
	default:
		return "ignored"
	}
}

// Result is returned by Apply. Warning is set when the event was accepted
// but deserves attention (for example an undeclared expert id) or rejected.
type Result struct {
	Outcome   Outcome
	AttemptID string
	Warning   string
}

type expertState struct {
	expert    models.Expert
	attempts  []models.Attempt
	latest    int // highest iteration seen, -1 before the first attempt
	bestIndex int // index into attempts, -1 when none
}

// Coordinator aggregates expert state for one run. It is safe for concurrent use.
type Coordinator struct {
	mu            sync.RWMutex
	experts       []*expertState
	declared      int
	totalAttempts int
	totalTokens   models.Tokens
	totalCost     float64

	finalized     bool
	bestAttemptID string
	bestExpertID  *int
	bestScore     float64
}

// New declares expertCount experts (ids 0..expertCount-1) up front.
func New(expertCount int) *Coordinator {
	if expertCount < 0 {
		expertCount = 0
	}
	c := &Coordinator{declared: expertCount}
	for i := 0; i < expertCount; i++ {
		c.experts = append(c.experts, newExpertState(i))
	}
	return c
}

func newExpertState(id int) *expertState {
	return &expertState{expert: models.Expert{ID: id, BestScore: -1}, latest: -1, bestIndex: -1}
}

// Apply folds one event into the aggregate. Only progress events change
// state. Tokens and cost are deltas: they always count toward run totals,
// and toward the expert when the event names one, even when the iteration
// itself is stale.
func (c *Coordinator) Apply(ev models.Event) Result {
	if ev.Type != models.EventProgress {
		return Result{Outcome: Ignored}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var res Result
	if ev.ExpertID != nil && *ev.ExpertID < 0 {
		res.Warning = fmt.Sprintf("negative expert id %d ignored", *ev.ExpertID)
		c.addUsage(nil, ev)
		return res
	}

	var st *expertState
	if ev.ExpertID != nil {
		id := *ev.ExpertID
		if id >= len(c.experts) {
			res.Warning = fmt.Sprintf("expert id %d outside declared range 0..%d, adding it", id, c.declared-1)
			for len(c.experts) <= id {
				c.experts = append(c.experts, newExpertState(len(c.experts)))
			}
		}
		st = c.experts[id]
	}
	c.addUsage(st, ev)

	if st == nil || ev.Iteration == nil {
		res.Outcome = Ignored
		return res
	}

	iter := *ev.Iteration
	if iter < 0 {
		res.Warning = fmt.Sprintf("negative iteration %d for expert %d ignored", iter, st.expert.ID)
		return res
	}

	switch {
	case iter > st.latest:
		st.attempts = append(st.attempts, models.Attempt{
			ID:          models.AttemptID(st.expert.ID, iter),
			ExpertID:    st.expert.ID,
			Iteration:   iter,
			TimestampMs: ev.TimestampMs,
			Sequence:    ev.Sequence,
		})
		st.latest = iter
		st.expert.IterationCount = len(st.attempts)
		c.totalAttempts++
		res.Outcome = NewAttempt
	case iter == st.latest:
		res.Outcome = Updated
	default:
		res.Outcome = Stale
		res.Warning = fmt.Sprintf("stale iteration %d for expert %d (latest %d)", iter, st.expert.ID, st.latest)
		return res
	}

	idx := len(st.attempts) - 1
	a := &st.attempts[idx]
	res.AttemptID = a.ID
	if ev.Phase != "" {
		a.Phase = ev.Phase
	}
	if len(ev.Artifact) > 0 {
		a.Artifact = ev.Artifact
	}
	if ev.TrainingResult != nil {
		tr := *ev.TrainingResult
		a.TrainingResult = &tr
	}
	if ev.Tokens != nil {
		a.Tokens = a.Tokens.Add(*ev.Tokens)
	}
	if ev.Cost != nil {
		a.Cost += *ev.Cost
	}

	st.updateBest(idx)
	return res
}

// addUsage must be called with mu held.
func (c *Coordinator) addUsage(st *expertState, ev models.Event) {
	if ev.Tokens != nil {
		c.totalTokens = c.totalTokens.Add(*ev.Tokens)
		if st != nil {
			st.expert.Tokens = st.expert.Tokens.Add(*ev.Tokens)
		}
	}
	if ev.Cost != nil {
		c.totalCost += *ev.Cost
		if st != nil {
			st.expert.Cost += *ev.Cost
		}
	}
}

// updateBest re-evaluates the expert's best attempt after attempts[idx]
// changed. Higher score wins; ties keep the lower sequence number.
func (st *expertState) updateBest(idx int) {
	cand := &st.attempts[idx]
	score := cand.Score()
	if score < 0 {
		return
	}

	if st.bestIndex == idx {
		// The current best was re-scored; it may have dropped below another attempt.
		st.bestIndex = -1
		for i := range st.attempts {
			st.consider(i)
		}
	} else {
		st.consider(idx)
	}

	if st.bestIndex >= 0 {
		best := &st.attempts[st.bestIndex]
		st.expert.BestScore = best.Score()
		st.expert.BestAttemptID = best.ID
	}
}

func (st *expertState) consider(i int) {
	a := &st.attempts[i]
	if a.Score() < 0 {
		return
	}
	if st.bestIndex < 0 {
		st.bestIndex = i
		return
	}
	b := &st.attempts[st.bestIndex]
	if a.Score() > b.Score() || (a.Score() == b.Score() && a.Sequence < b.Sequence) {
		st.bestIndex = i
	}
}

// Finalize selects the run-level best attempt: highest training score across
// all experts, ties to the lowest sequence number. Calling it again
// recomputes from current state.
func (c *Coordinator) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finalized = true
	c.bestAttemptID = ""
	c.bestExpertID = nil
	c.bestScore = 0

	var best *models.Attempt
	for _, st := range c.experts {
		if st.bestIndex < 0 {
			continue
		}
		a := &st.attempts[st.bestIndex]
		if best == nil || a.Score() > best.Score() || (a.Score() == best.Score() && a.Sequence < best.Sequence) {
			best = a
		}
	}
	if best != nil {
		id := best.ExpertID
		c.bestAttemptID = best.ID
		c.bestExpertID = &id
		c.bestScore = best.Score()
	}
}

// Summarize returns run-level totals and per-expert summaries. The best
// attempt fields are populated only after Finalize.
func (c *Coordinator) Summarize() models.RunSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := models.RunSummary{
		ExpertCount:   len(c.experts),
		TotalAttempts: c.totalAttempts,
		TotalTokens:   c.totalTokens,
		TotalCost:     c.totalCost,
		Experts:       make([]models.Expert, 0, len(c.experts)),
	}
	for _, st := range c.experts {
		e := st.expert
		if e.BestScore < 0 {
			e.BestScore = 0
		}
		s.Experts = append(s.Experts, e)
	}
	if c.finalized {
		s.BestAttemptID = c.bestAttemptID
		s.BestScore = c.bestScore
		if c.bestExpertID != nil {
			id := *c.bestExpertID
			s.BestExpertID = &id
		}
	}
	return s
}

// Attempts returns every expert with a copy of its attempt list, ordered by expert id.
func (c *Coordinator) Attempts() []models.ExpertRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ExpertRecord, 0, len(c.experts))
	for _, st := range c.experts {
		e := st.expert
		if e.BestScore < 0 {
			e.BestScore = 0
		}
		attempts := make([]models.Attempt, len(st.attempts))
		copy(attempts, st.attempts)
		out = append(out, models.ExpertRecord{Expert: e, Attempts: attempts})
	}
	return out
}

// ExpertCount returns the number of experts, including any added at runtime.
func (c *Coordinator) ExpertCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.experts)
}
