// Package logger provides logging implementations for arcsolve runs.
//
// The logger package offers leveled logging of run lifecycle and solver
// telemetry. Implementations are thread-safe and support various output
// destinations (console, file, or several at once through Multi).
package logger

import (
	"strings"

	"github.com/harrison/arcsolve/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// Logger receives run lifecycle notifications and free-form diagnostics.
type Logger interface {
	LogRunStart(run models.Run)
	LogEvent(ev models.Event)
	LogRunComplete(run models.Run, summary models.RunSummary)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))

	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// eventLevel picks the level an event is reported at. Progress chatter is
// debug, solver errors are warnings, final answers are info.
func eventLevel(ev models.Event) string {
	switch ev.Type {
	case models.EventFinal, models.EventStatus:
		return "info"
	case models.EventError, models.EventTraceTruncated:
		return "warn"
	case models.EventLog:
		return "trace"
	default:
		return "debug"
	}
}

// Multi fans every call out to several loggers. Nil entries are skipped.
type Multi []Logger

// NewMulti builds a Multi from the non-nil loggers given.
func NewMulti(loggers ...Logger) Multi {
	m := make(Multi, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			m = append(m, l)
		}
	}
	return m
}

func (m Multi) LogRunStart(run models.Run) {
	for _, l := range m {
		l.LogRunStart(run)
	}
}

func (m Multi) LogEvent(ev models.Event) {
	for _, l := range m {
		l.LogEvent(ev)
	}
}

func (m Multi) LogRunComplete(run models.Run, summary models.RunSummary) {
	for _, l := range m {
		l.LogRunComplete(run, summary)
	}
}

func (m Multi) Debugf(format string, args ...interface{}) {
	for _, l := range m {
		l.Debugf(format, args...)
	}
}

func (m Multi) Infof(format string, args ...interface{}) {
	for _, l := range m {
		l.Infof(format, args...)
	}
}

func (m Multi) Warnf(format string, args ...interface{}) {
	for _, l := range m {
		l.Warnf(format, args...)
	}
}

func (m Multi) Errorf(format string, args ...interface{}) {
	for _, l := range m {
		l.Errorf(format, args...)
	}
}

// NoOpLogger is a Logger implementation that discards all log messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogRunStart(models.Run) {}
func (n *NoOpLogger) LogEvent(models.Event) {}
func (n *NoOpLogger) LogRunComplete(models.Run, models.RunSummary) {}
func (n *NoOpLogger) Debugf(string, ...interface{}) {}
func (n *NoOpLogger) Infof(string, ...interface{}) {}
func (n *NoOpLogger) Warnf(string, ...interface{}) {}
func (n *NoOpLogger) Errorf(string, ...interface{}) {}
