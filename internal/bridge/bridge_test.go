package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable fake solver in a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solver.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

type collector struct {
	mu      sync.Mutex
	lines   []string
	tooLong int
	first   chan struct{}
	once    sync.Once
}

func newCollector() *collector {
	return &collector{first: make(chan struct{})}
}

func (c *collector) handle(line []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errors.Is(err, ErrLineTooLong) {
		c.tooLong++
	} else {
		c.lines = append(c.lines, string(line))
	}
	c.once.Do(func() { close(c.first) })
}

func (c *collector) snapshot() ([]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...), c.tooLong
}

func TestStartStreamsLinesInOrder(t *testing.T) {
	script := writeScript(t, `echo '{"type":"log","message":"one"}'
echo ''
echo '{"type":"log","message":"two"}'
printf '{"type":"final","answer":[[1]]}'
`)
	c := newCollector()

	h, err := New(Options{}).Start(context.Background(), Spec{Command: script, RunID: "r1"}, c.handle)
	require.NoError(t, err)
	exit := h.Wait()

	assert.Equal(t, ReasonExited, exit.Reason)
	assert.Equal(t, 0, exit.ExitCode)
	assert.NoError(t, exit.Err)

	lines, _ := c.snapshot()
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"one"`)
	assert.Contains(t, lines[1], `"two"`)
	// Last line has no trailing newline and is still delivered
	assert.Equal(t, `{"type":"final","answer":[[1]]}`, lines[2])
}

func TestExitCodeAndStderr(t *testing.T) {
	script := writeScript(t, `echo "warming up" >&2
echo "Traceback: boom" >&2
exit 3
`)
	var mu sync.Mutex
	var echoed []string

	h, err := New(Options{}).Start(context.Background(), Spec{
		Command: script,
		OnStderr: func(line string) {
			mu.Lock()
			echoed = append(echoed, line)
			mu.Unlock()
		},
	}, newCollector().handle)
	require.NoError(t, err)
	exit := h.Wait()

	assert.Equal(t, ReasonExited, exit.Reason)
	assert.Equal(t, 3, exit.ExitCode)
	assert.NoError(t, exit.Err)
	assert.Equal(t, "warming up\nTraceback: boom", exit.Stderr)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"warming up", "Traceback: boom"}, echoed)
}

func TestStderrTailIsBounded(t *testing.T) {
	script := writeScript(t, `i=0
while [ $i -lt 200 ]; do
  echo "stderr line $i" >&2
  i=$((i+1))
done
`)
	h, err := New(Options{StderrTailBytes: 64}).Start(context.Background(), Spec{Command: script}, newCollector().handle)
	require.NoError(t, err)
	exit := h.Wait()

	assert.LessOrEqual(t, len(exit.Stderr), 64)
	assert.True(t, strings.HasSuffix(exit.Stderr, "stderr line 199"))
}

func TestOversizedLineIsReported(t *testing.T) {
	script := writeScript(t, `head -c 5000 /dev/zero | tr '\0' 'a'
echo
echo '{"type":"log","message":"after"}'
`)
	c := newCollector()

	h, err := New(Options{MaxLineBytes: 1024}).Start(context.Background(), Spec{Command: script}, c.handle)
	require.NoError(t, err)
	h.Wait()

	lines, tooLong := c.snapshot()
	assert.Equal(t, 1, tooLong)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"after"`)
}

func TestTimeout(t *testing.T) {
	script := writeScript(t, `echo '{"type":"log","message":"started"}'
exec sleep 30
`)
	c := newCollector()

	h, err := New(Options{KillGrace: time.Second}).Start(context.Background(), Spec{Command: script, Timeout: 200 * time.Millisecond}, c.handle)
	require.NoError(t, err)
	exit := h.Wait()

	assert.Equal(t, ReasonTimeout, exit.Reason)
	assert.Equal(t, -1, exit.ExitCode)
	assert.Error(t, exit.Err)
	assert.Less(t, exit.Duration, 10*time.Second)

	lines, _ := c.snapshot()
	assert.Len(t, lines, 1)
}

func TestTimeoutEscalatesToKill(t *testing.T) {
	script := writeScript(t, `trap '' TERM
echo '{"type":"log","message":"ignoring TERM"}'
sleep 30
`)
	h, err := New(Options{KillGrace: 300 * time.Millisecond}).Start(context.Background(), Spec{Command: script, Timeout: 200 * time.Millisecond}, newCollector().handle)
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("solver ignoring SIGTERM was not killed")
	}
	assert.Equal(t, ReasonTimeout, h.Wait().Reason)
}

func TestCancel(t *testing.T) {
	script := writeScript(t, `while true; do
  echo '{"type":"log","message":"tick"}'
  sleep 0.05
done
`)
	c := newCollector()

	h, err := New(Options{KillGrace: time.Second}).Start(context.Background(), Spec{Command: script}, c.handle)
	require.NoError(t, err)

	<-c.first
	h.Cancel()
	h.Cancel()
	exit := h.Wait()

	assert.Equal(t, ReasonCancelled, exit.Reason)
	assert.NotPanics(t, h.Cancel)
	assert.Equal(t, exit, h.Wait())
}

func TestStartIsNotBoundToCallerContext(t *testing.T) {
	script := writeScript(t, `sleep 0.2
echo '{"type":"log","message":"still here"}'
`)
	ctx, cancel := context.WithCancel(context.Background())
	c := newCollector()

	h, err := New(Options{}).Start(ctx, Spec{Command: script}, c.handle)
	require.NoError(t, err)
	cancel()

	exit := h.Wait()
	assert.Equal(t, ReasonExited, exit.Reason)
	lines, _ := c.snapshot()
	assert.Len(t, lines, 1)
}

func TestSpawnErrors(t *testing.T) {
	notExecutable := filepath.Join(t.TempDir(), "solver.sh")
	require.NoError(t, os.WriteFile(notExecutable, []byte("#!/bin/sh\necho hi\n"), 0644))

	tests := []struct {
		name    string
		command string
	}{
		{name: "missing binary", command: filepath.Join(t.TempDir(), "does-not-exist")},
		{name: "permission denied", command: notExecutable},
		{name: "empty command", command: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(Options{}).Start(context.Background(), Spec{Command: tt.command}, newCollector().handle)
			require.Error(t, err)
			assert.Nil(t, h)
			assert.True(t, IsSpawnError(err))

			var se *SpawnError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.command, se.Command)
		})
	}
}

func TestEnvironmentAndTempDir(t *testing.T) {
	script := writeScript(t, `printf '{"run":"%s","puzzle":"%s","file":"%s","tmp":"%s","extra":"%s"}\n' \
  "$ARCSOLVE_RUN_ID" "$ARCSOLVE_PUZZLE_ID" "$ARCSOLVE_PUZZLE_FILE" "$TMPDIR" "$EXTRA"
`)
	root := t.TempDir()
	t.Setenv("TMPDIR", "/should/be/replaced")
	c := newCollector()

	h, err := New(Options{TempRoot: root}).Start(context.Background(), Spec{
		Command:    script,
		RunID:      "run-42",
		PuzzleID:   "p-7",
		PuzzleFile: "/data/p-7.json",
		Env:        []string{"EXTRA=yes"},
	}, c.handle)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h.TempDir, root))
	h.Wait()

	lines, _ := c.snapshot()
	require.Len(t, lines, 1)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "run-42", got["run"])
	assert.Equal(t, "p-7", got["puzzle"])
	assert.Equal(t, "/data/p-7.json", got["file"])
	assert.Equal(t, h.TempDir, got["tmp"])
	assert.Equal(t, "yes", got["extra"])

	// The per-run temp dir is removed once the run is reaped
	_, err = os.Stat(h.TempDir)
	assert.True(t, os.IsNotExist(err))
}

func TestExpandArgs(t *testing.T) {
	args := []string{"--puzzle", "{puzzle_file}", "--experts={experts}", "{unknown}", "plain"}
	got := ExpandArgs(args, map[string]string{
		"puzzle_file": "/tmp/p.json",
		"experts":     "3",
	})
	assert.Equal(t, []string{"--puzzle", "/tmp/p.json", "--experts=3", "{unknown}", "plain"}, got)
	// Input is not modified
	assert.Equal(t, "{puzzle_file}", args[1])
}

func TestSlowHandlerReceivesEveryLineAfterExit(t *testing.T) {
	script := writeScript(t, `i=1
while [ $i -le 300 ]; do
  echo "{\"type\":\"log\",\"message\":\"line $i\"}"
  i=$((i+1))
done
echo '{"type":"final","answer":[[1]]}'
`)
	c := newCollector()
	slow := func(line []byte, err error) {
		time.Sleep(5 * time.Millisecond)
		c.handle(line, err)
	}

	b := New(Options{KillGrace: 300 * time.Millisecond})
	h, err := b.Start(context.Background(), Spec{Command: script, RunID: "r1"}, slow)
	require.NoError(t, err)
	exit := h.Wait()

	assert.Equal(t, ReasonExited, exit.Reason)
	assert.Equal(t, 0, exit.ExitCode)
	assert.NoError(t, exit.Err)

	lines, tooLong := c.snapshot()
	assert.Zero(t, tooLong)
	require.Len(t, lines, 301)
	assert.Contains(t, lines[299], `"line 300"`)
	assert.Equal(t, `{"type":"final","answer":[[1]]}`, lines[300])
}
