package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/arcsolve/internal/models"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger logs run progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps for tracking execution flow.
// It supports log level filtering to control message verbosity.
// Color output is automatically enabled when the writer is a terminal.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool

	// maxIterations per run id, for rendering progress bars
	maxIterations map[string]int
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// logLevel determines the minimum log level for messages to be output.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:        writer,
		logLevel:      normalizeLogLevel(logLevel),
		colorOutput:   isTerminal(writer),
		maxIterations: make(map[string]int),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
// NO_COLOR (honored by fatih/color) disables colors even on a TTY.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// shouldLog checks if a message at the given level should be logged.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// Debugf logs a debug-level message.
// Format: "[HH:MM:SS] [DEBUG] <message>"
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof logs an info-level message.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf logs a warning-level message.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var formatted string
	if cl.colorOutput {
		formatted = cl.formatWithColor(ts, level, message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}

	cl.writer.Write([]byte(formatted))
}

// formatWithColor formats a log message with ANSI color codes.
func (cl *ConsoleLogger) formatWithColor(ts, level, message string) string {
	var coloredLevel string

	switch strings.ToUpper(level) {
	case "TRACE":
		coloredLevel = color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		coloredLevel = color.New(color.FgCyan).Sprint(level)
	case "INFO":
		coloredLevel = color.New(color.FgBlue).Sprint(level)
	case "WARN":
		coloredLevel = color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		coloredLevel = color.New(color.FgRed).Sprint(level)
	default:
		coloredLevel = level
	}

	return fmt.Sprintf("[%s] [%s] %s\n", ts, coloredLevel, message)
}

// LogRunStart logs the start of a run at INFO level.
// Format: "[HH:MM:SS] Starting run <id> (puzzle <p>): <n> experts, model <m>, timeout <t>"
func (cl *ConsoleLogger) LogRunStart(run models.Run) {
	if cl.writer == nil {
		return
	}

	cl.mutex.Lock()
	cl.maxIterations[run.ID] = run.Config.MaxIterations
	cl.mutex.Unlock()

	if !cl.shouldLog("info") {
		return
	}

	msg := fmt.Sprintf("Starting run %s (puzzle %s): %d experts, model %s, timeout %s",
		shortID(run.ID), run.PuzzleID, run.ExpertCount, run.Config.Model, formatDuration(run.Config.Timeout))

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	if cl.colorOutput {
		msg = color.New(color.Bold).Sprint(msg)
	}
	fmt.Fprintf(cl.writer, "[%s] %s\n", timestamp(), msg)
}

// LogEvent logs one trace event. Progress is reported at DEBUG with a
// per-expert iteration bar; errors at WARN; finals and status changes at INFO.
func (cl *ConsoleLogger) LogEvent(ev models.Event) {
	if cl.writer == nil {
		return
	}
	level := eventLevel(ev)
	if !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	maxIter := cl.maxIterations[ev.RunID]
	cl.mutex.Unlock()

	cl.logWithLevel(strings.ToUpper(level), FormatEvent(ev, maxIter, cl.colorOutput))
}

// LogRunComplete logs the terminal state and run totals.
// Format:
//
//	[HH:MM:SS] === Run <id> <status> ===
//	[HH:MM:SS] Duration: 1m30s
//	[HH:MM:SS] attempts: 6, tokens: 1200 in / 800 out, cost: $0.4200
//	[HH:MM:SS] Best: e1-i3 (expert 1, score 0.92)
//	[HH:MM:SS] Accuracy: 1.00 (all correct)
func (cl *ConsoleLogger) LogRunComplete(run models.Run, summary models.RunSummary) {
	if cl.writer == nil {
		return
	}

	cl.mutex.Lock()
	delete(cl.maxIterations, run.ID)
	cl.mutex.Unlock()

	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	scheme := newColorScheme()
	ts := timestamp()
	var b strings.Builder

	status := string(run.Status)
	if cl.colorOutput {
		status = scheme.statusColor(run.Status).Sprint(status)
	}
	fmt.Fprintf(&b, "[%s] === Run %s %s ===\n", ts, shortID(run.ID), status)
	fmt.Fprintf(&b, "[%s] Duration: %s\n", ts, formatDuration(run.Duration()))
	fmt.Fprintf(&b, "[%s] %s\n", ts, formatTotals(summary, cl.colorOutput, scheme))

	if summary.BestAttemptID != "" && summary.BestExpertID != nil {
		fmt.Fprintf(&b, "[%s] Best: %s (expert %d, score %.2f)\n", ts, summary.BestAttemptID, *summary.BestExpertID, summary.BestScore)
	}
	if run.Accuracy != nil {
		verdict := "not all correct"
		if run.AllCorrect {
			verdict = "all correct"
		}
		if cl.colorOutput {
			if run.AllCorrect {
				verdict = scheme.success.Sprint(verdict)
			} else {
				verdict = scheme.fail.Sprint(verdict)
			}
		}
		fmt.Fprintf(&b, "[%s] Accuracy: %.2f (%s)\n", ts, *run.Accuracy, verdict)
	}
	if run.Error != "" {
		msg := run.Error
		if cl.colorOutput {
			msg = scheme.fail.Sprint(msg)
		}
		fmt.Fprintf(&b, "[%s] Reason: %s\n", ts, msg)
	}
	if run.MalformedLines > 0 || run.EvictedEvents > 0 {
		fmt.Fprintf(&b, "[%s] Malformed lines: %d, evicted events: %d\n", ts, run.MalformedLines, run.EvictedEvents)
	}

	cl.writer.Write([]byte(b.String()))
}

// FormatEvent renders an event as a single line without timestamp or level.
// maxIterations > 0 draws a progress bar for progress events.
func FormatEvent(ev models.Event, maxIterations int, useColor bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s", ev.Sequence, ev.Type)

	switch ev.Type {
	case models.EventProgress:
		if ev.ExpertID != nil {
			fmt.Fprintf(&b, " expert %d", *ev.ExpertID)
		}
		if ev.Iteration != nil {
			if maxIterations > 0 {
				pb := NewProgressBar(maxIterations, 10, useColor)
				pb.Update(*ev.Iteration)
				fmt.Fprintf(&b, " %s", pb.Render())
			} else {
				fmt.Fprintf(&b, " iter %d", *ev.Iteration)
			}
		}
		if ev.Phase != "" {
			fmt.Fprintf(&b, " [%s]", ev.Phase)
		}
		if ev.TrainingResult != nil {
			fmt.Fprintf(&b, " train %d/%d score %.2f", ev.TrainingResult.Passed, ev.TrainingResult.Total, ev.TrainingResult.Score)
		}
	case models.EventStatus:
		fmt.Fprintf(&b, " -> %s", ev.Status)
	case models.EventTraceTruncated:
		fmt.Fprintf(&b, " (%d evicted)", ev.Evicted)
	case models.EventFinal:
		if ev.Confidence != nil {
			fmt.Fprintf(&b, " confidence %.2f", *ev.Confidence)
		}
	}

	if ev.Message != "" {
		fmt.Fprintf(&b, ": %s", ev.Message)
	}
	return b.String()
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// shortID trims a UUID to its first block for log readability.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}
