package stream

import (
	"testing"
	"time"

	"github.com/harrison/arcsolve/internal/models"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func TestCorrelatorNormalize(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCorrelator("run-x", clock.Now)

	clock.now = clock.now.Add(2500 * time.Millisecond)

	t.Run("missing timestamp uses run-relative clock", func(t *testing.T) {
		ev := c.Normalize(RawEvent{Type: models.EventLog, Message: "hi"})
		assert.Equal(t, int64(2500), ev.TimestampMs)
		assert.Equal(t, "run-x", ev.RunID)
		assert.Equal(t, "hi", ev.Message)
		assert.Zero(t, ev.Sequence)
	})

	t.Run("solver timestamp trusted as-is", func(t *testing.T) {
		ts := int64(99)
		ev := c.Normalize(RawEvent{Type: models.EventProgress, TimestampMs: &ts, ExpertID: models.IntPtr(0)})
		assert.Equal(t, int64(99), ev.TimestampMs)
		assert.Equal(t, 0, *ev.ExpertID)
	})

	t.Run("synthesized events", func(t *testing.T) {
		ev := c.Synthesize(models.EventError, "spawn failed")
		assert.Equal(t, models.EventError, ev.Type)
		assert.Equal(t, int64(2500), ev.TimestampMs)
	})
}
