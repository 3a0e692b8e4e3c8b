package experts

import (
	"sync"
	"testing"

	"github.com/harrison/arcsolve/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progress struct {
	seq    uint64
	expert int
	iter   int
	score  *float64
	tokens *models.Tokens
	cost   *float64
	phase  string
}

func (p progress) event() models.Event {
	ev := models.Event{
		Type:      models.EventProgress,
		Sequence:  p.seq,
		ExpertID:  models.IntPtr(p.expert),
		Iteration: models.IntPtr(p.iter),
		Phase:     p.phase,
		Tokens:    p.tokens,
		Cost:      p.cost,
	}
	if p.score != nil {
		ev.TrainingResult = &models.TrainingResult{Score: *p.score}
	}
	return ev
}

func TestNewDeclaresExperts(t *testing.T) {
	c := New(3)
	s := c.Summarize()

	require.Len(t, s.Experts, 3)
	for i, e := range s.Experts {
		assert.Equal(t, i, e.ID)
		assert.Zero(t, e.IterationCount)
	}
	assert.Equal(t, 3, c.ExpertCount())
	assert.Zero(t, s.TotalAttempts)
}

func TestApplyIterationOrdering(t *testing.T) {
	c := New(1)

	r := c.Apply(progress{seq: 1, expert: 0, iter: 1, phase: "plan"}.event())
	assert.Equal(t, NewAttempt, r.Outcome)
	assert.Equal(t, "e0-i1", r.AttemptID)

	r = c.Apply(progress{seq: 2, expert: 0, iter: 1, phase: "test", score: models.FloatPtr(0.3)}.event())
	assert.Equal(t, Updated, r.Outcome)

	r = c.Apply(progress{seq: 3, expert: 0, iter: 2}.event())
	assert.Equal(t, NewAttempt, r.Outcome)

	r = c.Apply(progress{seq: 4, expert: 0, iter: 1, phase: "late"}.event())
	assert.Equal(t, Stale, r.Outcome)
	assert.NotEmpty(t, r.Warning)

	recs := c.Attempts()
	require.Len(t, recs, 1)
	attempts := recs[0].Attempts
	require.Len(t, attempts, 2)

	// Iteration numbers strictly increase per expert
	assert.Equal(t, 1, attempts[0].Iteration)
	assert.Equal(t, 2, attempts[1].Iteration)
	assert.Equal(t, "test", attempts[0].Phase)
	assert.Equal(t, uint64(1), attempts[0].Sequence)
	assert.Equal(t, 2, recs[0].Expert.IterationCount)
	assert.Equal(t, 2, c.Summarize().TotalAttempts)
}

func TestApplyUsageIsDelta(t *testing.T) {
	c := New(2)
	tok := &models.Tokens{Input: 10, Output: 5}

	c.Apply(progress{seq: 1, expert: 0, iter: 1, tokens: tok, cost: models.FloatPtr(0.1)}.event())
	c.Apply(progress{seq: 2, expert: 0, iter: 1, tokens: tok, cost: models.FloatPtr(0.1)}.event())
	c.Apply(progress{seq: 3, expert: 1, iter: 1, tokens: tok}.event())
	// Untagged progress counts toward the run only
	c.Apply(models.Event{Type: models.EventProgress, Sequence: 4, Tokens: tok, Cost: models.FloatPtr(0.5)})
	// Non-progress events never count
	c.Apply(models.Event{Type: models.EventLog, Sequence: 5, Tokens: tok})

	s := c.Summarize()
	assert.Equal(t, models.Tokens{Input: 40, Output: 20}, s.TotalTokens)
	assert.InDelta(t, 0.7, s.TotalCost, 1e-9)
	assert.Equal(t, models.Tokens{Input: 20, Output: 10}, s.Experts[0].Tokens)
	assert.InDelta(t, 0.2, s.Experts[0].Cost, 1e-9)
	assert.Equal(t, models.Tokens{Input: 10, Output: 5}, s.Experts[1].Tokens)

	attempts := c.Attempts()[0].Attempts
	assert.Equal(t, models.Tokens{Input: 20, Output: 10}, attempts[0].Tokens)
}

func TestApplyGrowsExpertSet(t *testing.T) {
	c := New(2)

	r := c.Apply(progress{seq: 1, expert: 4, iter: 1}.event())
	assert.Equal(t, NewAttempt, r.Outcome)
	assert.Contains(t, r.Warning, "outside declared range")

	assert.Equal(t, 5, c.ExpertCount())
	recs := c.Attempts()
	require.Len(t, recs, 5)
	assert.Equal(t, 4, recs[4].Expert.ID)
	assert.Len(t, recs[4].Attempts, 1)
}

func TestApplyRejectsNegativeIDs(t *testing.T) {
	c := New(1)
	r := c.Apply(progress{seq: 1, expert: -1, iter: 1}.event())
	assert.Equal(t, Ignored, r.Outcome)
	assert.NotEmpty(t, r.Warning)

	r = c.Apply(progress{seq: 2, expert: 0, iter: -3}.event())
	assert.Equal(t, Ignored, r.Outcome)
	assert.NotEmpty(t, r.Warning)
	assert.Zero(t, c.Summarize().TotalAttempts)
}

func TestBestAttemptSelection(t *testing.T) {
	c := New(2)

	c.Apply(progress{seq: 1, expert: 0, iter: 1, score: models.FloatPtr(0.5)}.event())
	c.Apply(progress{seq: 2, expert: 1, iter: 1, score: models.FloatPtr(0.8)}.event())
	c.Apply(progress{seq: 3, expert: 0, iter: 2, score: models.FloatPtr(0.8)}.event())
	c.Apply(progress{seq: 4, expert: 1, iter: 2, score: models.FloatPtr(0.2)}.event())

	// Best fields stay empty until Finalize
	assert.Empty(t, c.Summarize().BestAttemptID)

	c.Finalize()
	s := c.Summarize()

	// 0.8 tie between e1-i1 (seq 2) and e0-i2 (seq 3): lower sequence wins
	assert.Equal(t, "e1-i1", s.BestAttemptID)
	require.NotNil(t, s.BestExpertID)
	assert.Equal(t, 1, *s.BestExpertID)
	assert.Equal(t, 0.8, s.BestScore)

	assert.Equal(t, "e0-i2", s.Experts[0].BestAttemptID)
	assert.Equal(t, "e1-i1", s.Experts[1].BestAttemptID)
}

func TestBestAttemptRescored(t *testing.T) {
	c := New(1)
	c.Apply(progress{seq: 1, expert: 0, iter: 1, score: models.FloatPtr(0.6)}.event())
	c.Apply(progress{seq: 2, expert: 0, iter: 2, score: models.FloatPtr(0.9)}.event())
	// Same iteration re-reports a lower score
	c.Apply(progress{seq: 3, expert: 0, iter: 2, score: models.FloatPtr(0.1)}.event())

	c.Finalize()
	s := c.Summarize()
	assert.Equal(t, "e0-i1", s.BestAttemptID)
	assert.Equal(t, 0.6, s.Experts[0].BestScore)
}

func TestNoScoresMeansNoBest(t *testing.T) {
	c := New(1)
	c.Apply(progress{seq: 1, expert: 0, iter: 1}.event())
	c.Finalize()

	s := c.Summarize()
	assert.Empty(t, s.BestAttemptID)
	assert.Nil(t, s.BestExpertID)
	assert.Zero(t, s.Experts[0].BestScore)
}

func TestAttemptsReturnsCopies(t *testing.T) {
	c := New(1)
	c.Apply(progress{seq: 1, expert: 0, iter: 1, phase: "plan"}.event())

	recs := c.Attempts()
	recs[0].Attempts[0].Phase = "mutated"

	assert.Equal(t, "plan", c.Attempts()[0].Attempts[0].Phase)
}

func TestApplyConcurrent(t *testing.T) {
	c := New(4)
	var wg sync.WaitGroup
	for e := 0; e < 4; e++ {
		wg.Add(1)
		go func(expert int) {
			defer wg.Done()
			for i := 1; i <= 50; i++ {
				c.Apply(progress{seq: uint64(expert*100 + i), expert: expert, iter: i, tokens: &models.Tokens{Input: 1}}.event())
			}
		}(e)
	}
	wg.Wait()

	s := c.Summarize()
	assert.Equal(t, 200, s.TotalAttempts)
	assert.Equal(t, int64(200), s.TotalTokens.Input)
}
