package logger

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/harrison/arcsolve/internal/models"
)

// colorScheme defines consistent colors for different metric types.
// Green: success/positive metrics
// Red: failure/error metrics
// Yellow: warning/threshold metrics
// Cyan: labels and identifiers
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	value   *color.Color
}

// newColorScheme creates the standard color scheme for metrics.
func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		value:   color.New(color.FgWhite),
	}
}

// statusColor maps a terminal status to its display color.
func (s *colorScheme) statusColor(status models.RunStatus) *color.Color {
	switch status {
	case models.StatusCompleted:
		return s.success
	case models.StatusTimedOut, models.StatusCancelled:
		return s.warn
	case models.StatusFailed:
		return s.fail
	default:
		return s.value
	}
}

// formatColorizedMetric formats a single metric with colorized label and value.
// Format: "label: value"
func formatColorizedMetric(label string, value interface{}, scheme *colorScheme) string {
	return fmt.Sprintf("%s: %s", scheme.label.Sprint(label), scheme.value.Sprintf("%v", value))
}

// formatTotals renders run-level totals.
// Format: "attempts: N, tokens: I in / O out, cost: $X.XXXX"
// Cost above one dollar is highlighted as a warning.
func formatTotals(summary models.RunSummary, useColor bool, scheme *colorScheme) string {
	attempts := summary.TotalAttempts
	tokens := fmt.Sprintf("%d in / %d out", summary.TotalTokens.Input, summary.TotalTokens.Output)
	cost := fmt.Sprintf("$%.4f", summary.TotalCost)

	if !useColor {
		return fmt.Sprintf("attempts: %d, tokens: %s, cost: %s", attempts, tokens, cost)
	}

	costPart := formatColorizedMetric("cost", cost, scheme)
	if summary.TotalCost > 1.0 {
		costPart = fmt.Sprintf("%s: %s", scheme.warn.Sprint("cost"), scheme.warn.Sprint(cost))
	}
	return fmt.Sprintf("%s, %s, %s",
		formatColorizedMetric("attempts", attempts, scheme),
		formatColorizedMetric("tokens", tokens, scheme),
		costPart)
}
