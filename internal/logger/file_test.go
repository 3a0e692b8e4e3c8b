package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrison/arcsolve/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoggerCreatesSessionLogAndSymlink(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")

	fl, err := NewFileLogger(logDir, "info")
	require.NoError(t, err)
	defer fl.Close()

	target, err := os.Readlink(filepath.Join(logDir, "latest.log"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(fl.LogFile()), target)
	assert.True(t, strings.HasPrefix(target, "run-"))

	info, err := os.Stat(filepath.Join(logDir, "runs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileLoggerReplacesSymlink(t *testing.T) {
	logDir := t.TempDir()
	require.NoError(t, os.Symlink("stale.log", filepath.Join(logDir, "latest.log")))

	fl, err := NewFileLogger(logDir, "info")
	require.NoError(t, err)
	defer fl.Close()

	target, err := os.Readlink(filepath.Join(logDir, "latest.log"))
	require.NoError(t, err)
	assert.NotEqual(t, "stale.log", target)
}

func TestFileLoggerPerRunLog(t *testing.T) {
	logDir := t.TempDir()
	fl, err := NewFileLogger(logDir, "warn")
	require.NoError(t, err)
	defer fl.Close()

	run := models.Run{
		ID:          "alpha",
		PuzzleID:    "p1",
		ExpertCount: 1,
		Config:      models.RunConfig{Model: "m", ExpertCount: 1, Timeout: time.Minute},
	}
	fl.LogRunStart(run)
	fl.LogEvent(models.Event{RunID: "alpha", Sequence: 1, Type: models.EventProgress, ExpertID: models.IntPtr(0), Iteration: models.IntPtr(1)})
	fl.LogEvent(models.Event{RunID: "alpha", Sequence: 2, Type: models.EventError, Message: "boom"})

	run.Status = models.StatusFailed
	run.Error = "solver exited without a final answer"
	run.Diagnostics = "Traceback: oops"
	fl.LogRunComplete(run, models.RunSummary{TotalAttempts: 1})

	data, err := os.ReadFile(fl.RunLogPath("alpha"))
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "=== Run alpha ===")
	assert.Contains(t, content, "=== Run alpha failed ===")
	assert.Contains(t, content, "Reason: solver exited without a final answer")
	assert.Contains(t, content, "Traceback: oops")

	// Every event lands in the run log as JSON, regardless of level
	var events []models.Event
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "{") {
			var ev models.Event
			require.NoError(t, json.Unmarshal([]byte(line), &ev))
			events = append(events, ev)
		}
	}
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Sequence)
	assert.Equal(t, models.EventError, events[1].Type)

	// The session log only got the warning
	session, err := os.ReadFile(fl.LogFile())
	require.NoError(t, err)
	assert.Contains(t, string(session), "[WARN] alpha #2 error: boom")
	assert.NotContains(t, string(session), "#1 progress")
}

func TestFileLoggerCloseIsSafeTwice(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir(), "info")
	require.NoError(t, err)
	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close())

	// Writes after close are dropped
	assert.NotPanics(t, func() { fl.Infof("late") })
}
