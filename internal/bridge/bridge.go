// Package bridge runs one solver subprocess per run and pumps its output.
//
// Stdout carries the NDJSON event protocol and is delivered line by line to
// a handler on a single goroutine. Stderr is kept as a bounded tail for
// diagnostics. Every process is bound to a wall-clock timeout, can be
// cancelled, and is always reaped.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultTimeout         = 6 * time.Hour
	DefaultKillGrace       = 10 * time.Second
	DefaultMaxLineBytes    = 16 << 20
	DefaultStderrTailBytes = 64 << 10
)

// Environment variables set for every solver process.
const (
	EnvRunID      = "ARCSOLVE_RUN_ID"
	EnvPuzzleID   = "ARCSOLVE_PUZZLE_ID"
	EnvPuzzleFile = "ARCSOLVE_PUZZLE_FILE"
)

// Reason explains why a solver process ended.
type Reason string

const (
	ReasonExited    Reason = "exited"
	ReasonTimeout   Reason = "timeout"
	ReasonCancelled Reason = "cancelled"
)

// Options configures a Bridge.
type Options struct {
	// KillGrace is how long a signalled process gets before SIGKILL
	KillGrace time.Duration

	// MaxLineBytes caps one stdout line
	MaxLineBytes int

	// StderrTailBytes caps retained stderr
	StderrTailBytes int

	// TempRoot is the parent of per-run TMPDIRs (empty = os.TempDir())
	TempRoot string
}

// Spec describes one solver launch.
type Spec struct {
	Command    string
	Args       []string
	Dir        string
	Env        []string // extra KEY=VALUE entries
	RunID      string
	PuzzleID   string
	PuzzleFile string

	// Timeout bounds the whole run; zero means DefaultTimeout
	Timeout time.Duration

	// OnStderr, when set, receives each stderr line as it arrives
	OnStderr func(line string)
}

// LineHandler receives stdout lines in read order. err is ErrLineTooLong
// for an oversized line, in which case line is nil. line is only valid for
// the duration of the call.
type LineHandler func(line []byte, err error)

// Exit describes how a solver process ended.
type Exit struct {
	Reason   Reason
	ExitCode int // -1 when killed by a signal
	Err      error
	Stderr   string
	Duration time.Duration
}

// Bridge spawns solver subprocesses. It is safe for concurrent use.
type Bridge struct {
	opts Options
}

// New returns a Bridge, filling zero option fields with defaults.
func New(opts Options) *Bridge {
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.StderrTailBytes <= 0 {
		opts.StderrTailBytes = DefaultStderrTailBytes
	}
	return &Bridge{opts: opts}
}

// Handle controls one running solver.
type Handle struct {
	PID       int
	TempDir   string
	StartedAt time.Time

	cancel context.CancelCauseFunc
	done   chan struct{}
	exit   Exit
}

// Cancel asks the solver to stop: SIGTERM to its process group, then
// SIGKILL after the kill grace. Safe to call any number of times, including
// after the process has exited.
func (h *Handle) Cancel() {
	h.cancel(errCancelled)
}

// Done is closed once the process has been reaped and its output drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process has been reaped and returns how it ended.
func (h *Handle) Wait() Exit {
	<-h.done
	return h.exit
}

// Start launches the solver. The process is not tied to ctx's cancellation
// (runs outlive the request that started them); use Handle.Cancel instead.
// A *SpawnError is returned if the process could not be started.
func (b *Bridge) Start(ctx context.Context, spec Spec, onLine LineHandler) (*Handle, error) {
	if spec.Command == "" {
		return nil, &SpawnError{Command: spec.Command, Err: errors.New("no solver command configured")}
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tmpDir, err := os.MkdirTemp(b.opts.TempRoot, "arcsolve-run-")
	if err != nil {
		spawnFailures.Inc()
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("create temp dir: %w", err)}
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	procCtx, stopTimer := context.WithTimeoutCause(runCtx, timeout, errTimeout)

	cmd := exec.CommandContext(procCtx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec, tmpDir)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminate(cmd) }
	cmd.WaitDelay = b.opts.KillGrace

	// The child writes straight into OS pipes, so exec runs no copy
	// goroutine and WaitDelay never cuts off output already written.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stopTimer()
		cancel(nil)
		os.RemoveAll(tmpDir)
		spawnFailures.Inc()
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("create stdout pipe: %w", err)}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stopTimer()
		cancel(nil)
		os.RemoveAll(tmpDir)
		spawnFailures.Inc()
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("create stderr pipe: %w", err)}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	start := time.Now()
	err = cmd.Start()
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		stopTimer()
		cancel(nil)
		os.RemoveAll(tmpDir)
		spawnFailures.Inc()
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	processesStarted.Inc()

	h := &Handle{
		PID:       cmd.Process.Pid,
		TempDir:   tmpDir,
		StartedAt: start,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	tail := &tailBuffer{max: b.opts.StderrTailBytes}
	var pumps errgroup.Group
	pumps.Go(func() error {
		return pumpStdout(stdoutR, b.opts.MaxLineBytes, onLine)
	})
	pumps.Go(func() error {
		return pumpStderr(stderrR, tail, spec.OnStderr)
	})

	go func() {
		defer os.RemoveAll(tmpDir)
		defer cancel(nil)
		defer stopTimer()

		waitErr := cmd.Wait()
		reason := classify(context.Cause(procCtx))

		// Anything left in the group could hold the pipes open. Output
		// already written stays readable until the pumps reach EOF.
		killGroup(h.PID)
		pumpErr := pumps.Wait()
		stdoutR.Close()
		stderrR.Close()

		exit := Exit{
			Reason:   reason,
			ExitCode: cmd.ProcessState.ExitCode(),
			Stderr:   strings.TrimRight(tail.String(), "\n"),
			Duration: time.Since(start),
		}
		var exitErr *exec.ExitError
		switch {
		case waitErr != nil && !errors.As(waitErr, &exitErr):
			exit.Err = waitErr
		case pumpErr != nil:
			exit.Err = pumpErr
		case reason != ReasonExited:
			exit.Err = context.Cause(procCtx)
		}

		processExits.WithLabelValues(string(reason)).Inc()
		h.exit = exit
		close(h.done)
	}()

	return h, nil
}

func classify(cause error) Reason {
	switch {
	case errors.Is(cause, errTimeout):
		return ReasonTimeout
	case errors.Is(cause, errCancelled):
		return ReasonCancelled
	default:
		return ReasonExited
	}
}

// buildEnv copies the parent environment, pins TMPDIR to the per-run temp
// directory and adds the run identification variables.
func buildEnv(spec Spec, tmpDir string) []string {
	overrides := map[string]string{
		"TMPDIR":      tmpDir,
		EnvRunID:      spec.RunID,
		EnvPuzzleID:   spec.PuzzleID,
		EnvPuzzleFile: spec.PuzzleFile,
	}

	env := make([]string, 0, len(os.Environ())+len(overrides)+len(spec.Env))
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}
	for _, key := range []string{"TMPDIR", EnvRunID, EnvPuzzleID, EnvPuzzleFile} {
		env = append(env, key+"="+overrides[key])
	}
	return append(env, spec.Env...)
}

func pumpStdout(r io.Reader, max int, onLine LineHandler) error {
	br := bufio.NewReaderSize(r, 64<<10)
	var buf []byte
	for {
		line, truncated, err := readLine(br, max, buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read solver stdout: %w", err)
		}
		buf = line[:0]

		if truncated {
			linesTooLong.Inc()
			onLine(nil, ErrLineTooLong)
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		onLine(line, nil)
	}
}

func pumpStderr(r io.Reader, tail *tailBuffer, onLine func(string)) error {
	br := bufio.NewReaderSize(r, 16<<10)
	var buf []byte
	for {
		line, _, err := readLine(br, tail.max, buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read solver stderr: %w", err)
		}
		buf = line[:0]

		tail.Write(line)
		tail.Write([]byte{'\n'})
		if onLine != nil {
			onLine(string(line))
		}
	}
}

// ExpandArgs replaces {name} placeholders in args with values from vars.
// Unknown placeholders are left untouched.
func ExpandArgs(args []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}
