package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/arcsolve/internal/models"
)

// FileLogger logs orchestrator activity to files under a log directory.
// It writes a timestamped session log (run-YYYYMMDD-HHMMSS.log) kept behind a
// latest.log symlink, and one file per run under runs/<run-id>.log holding
// that run's events as they arrive.
// It is thread-safe and supports log level filtering.
type FileLogger struct {
	logDir     string
	sessionLog *os.File
	logFile    string
	runsDir    string
	logLevel   string
	runLogs    map[string]*os.File
	mu         sync.Mutex
}

// NewFileLogger creates a FileLogger in logDir at the given level.
// It creates the log directory if it doesn't exist, opens a timestamped
// session log file, and creates/updates the latest.log symlink.
func NewFileLogger(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	runsDir := filepath.Join(logDir, "runs")
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}

	// Generate timestamped filename: run-YYYYMMDD-HHMMSS.log
	stamp := time.Now().Format("20060102-150405")
	logFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", stamp))

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create session log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(logFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:     logDir,
		sessionLog: file,
		logFile:    logFile,
		runsDir:    runsDir,
		logLevel:   normalizeLogLevel(logLevel),
		runLogs:    make(map[string]*os.File),
	}

	fl.writeSession("=== arcsolve session log ===\n")
	fl.writeSession(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return fl, nil
}

// LogFile returns the session log path.
func (fl *FileLogger) LogFile() string {
	return fl.logFile
}

// RunLogPath returns the per-run log path for runID.
func (fl *FileLogger) RunLogPath(runID string) string {
	return filepath.Join(fl.runsDir, runID+".log")
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

func (fl *FileLogger) Debugf(format string, args ...interface{}) {
	fl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

func (fl *FileLogger) Infof(format string, args ...interface{}) {
	fl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

func (fl *FileLogger) Warnf(format string, args ...interface{}) {
	fl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

func (fl *FileLogger) Errorf(format string, args ...interface{}) {
	fl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	fl.writeSession(fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message))
}

// LogRunStart opens the per-run log and records the run configuration.
func (fl *FileLogger) LogRunStart(run models.Run) {
	f, err := os.OpenFile(fl.RunLogPath(run.ID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fl.Errorf("open run log for %s: %v", run.ID, err)
		return
	}

	fl.mu.Lock()
	fl.runLogs[run.ID] = f
	fl.mu.Unlock()

	fl.Infof("run %s started: puzzle=%s experts=%d model=%s timeout=%s",
		run.ID, run.PuzzleID, run.ExpertCount, run.Config.Model, run.Config.Timeout)

	fl.writeRun(run.ID, fmt.Sprintf("=== Run %s ===\nPuzzle: %s\nExperts: %d\nModel: %s\nMax iterations: %d\nTimeout: %s\nStarted at: %s\n\n",
		run.ID, run.PuzzleID, run.ExpertCount, run.Config.Model, run.Config.MaxIterations, run.Config.Timeout,
		time.Now().Format(time.RFC3339)))
}

// LogEvent appends the event as one JSON line to its run's log. Events are
// always written there regardless of level; the session log gets the
// one-line rendering when the level allows.
func (fl *FileLogger) LogEvent(ev models.Event) {
	if data, err := json.Marshal(ev); err == nil {
		fl.writeRun(ev.RunID, string(data)+"\n")
	}

	level := eventLevel(ev)
	if fl.shouldLog(level) {
		fl.logWithLevel(strings.ToUpper(level), shortID(ev.RunID)+" "+FormatEvent(ev, 0, false))
	}
}

// LogRunComplete writes the run's outcome and closes its per-run log.
func (fl *FileLogger) LogRunComplete(run models.Run, summary models.RunSummary) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n=== Run %s %s ===\n", run.ID, run.Status)
	fmt.Fprintf(&b, "Duration: %s\n", formatDuration(run.Duration()))
	fmt.Fprintf(&b, "Exit code: %d\n", run.ExitCode)
	fmt.Fprintf(&b, "%s\n", formatTotals(summary, false, nil))
	if summary.BestAttemptID != "" {
		fmt.Fprintf(&b, "Best attempt: %s (score %.2f)\n", summary.BestAttemptID, summary.BestScore)
	}
	if run.Accuracy != nil {
		fmt.Fprintf(&b, "Accuracy: %.2f (all correct: %t)\n", *run.Accuracy, run.AllCorrect)
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "Reason: %s\n", run.Error)
	}
	if run.Diagnostics != "" {
		fmt.Fprintf(&b, "\n--- stderr (tail) ---\n%s\n", run.Diagnostics)
	}
	fl.writeRun(run.ID, b.String())

	fl.mu.Lock()
	if f, ok := fl.runLogs[run.ID]; ok {
		f.Sync()
		f.Close()
		delete(fl.runLogs, run.ID)
	}
	fl.mu.Unlock()

	fl.Infof("run %s finished: %s (%s)", run.ID, run.Status, formatDuration(run.Duration()))
}

// Close flushes and closes the session log and any run logs still open.
// It should be called when the logger is no longer needed.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	for id, f := range fl.runLogs {
		f.Close()
		delete(fl.runLogs, id)
	}

	if fl.sessionLog != nil {
		if err := fl.sessionLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync session log: %w", err)
		}
		if err := fl.sessionLog.Close(); err != nil {
			return fmt.Errorf("failed to close session log: %w", err)
		}
		fl.sessionLog = nil
	}

	return nil
}

// writeSession is a thread-safe helper to write to the session log file.
func (fl *FileLogger) writeSession(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.sessionLog != nil {
		fl.sessionLog.WriteString(message)
		// Flush after each write for real-time logging
		fl.sessionLog.Sync()
	}
}

func (fl *FileLogger) writeRun(runID, message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if f, ok := fl.runLogs[runID]; ok {
		f.WriteString(message)
	}
}
