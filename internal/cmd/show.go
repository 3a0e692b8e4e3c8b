package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/arcsolve/internal/logger"
	"github.com/harrison/arcsolve/internal/models"
	"github.com/harrison/arcsolve/internal/store"
)

// NewShowCommand creates the show command
func NewShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a persisted run",
		Long: `Show a persisted run: its status, expert totals, validation verdicts
and optionally the full event trace.

Examples:
  arcsolve show 3f1c...            # status, totals and validation
  arcsolve show 3f1c... --events   # also print the trace
  arcsolve show 3f1c... --json     # the complete record as JSON`,
		Args: cobra.ExactArgs(1),
		RunE: showCommand,
	}

	addConfigFlags(cmd)
	cmd.Flags().Bool("events", false, "Print the event trace")
	cmd.Flags().Bool("json", false, "Print the run record as JSON")

	return cmd
}

func showCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	repo, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer repo.Close()

	rec, err := repo.Get(cmd.Context(), args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("run %s not found in %s store", args[0], cfg.Store.Backend)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal run record: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	writeRecord(out, rec)
	if showEvents, _ := cmd.Flags().GetBool("events"); showEvents {
		writeTrace(out, rec)
	}
	return nil
}

func writeRecord(w io.Writer, rec *models.RunRecord) {
	run := rec.Run
	bold := color.New(color.Bold)

	fmt.Fprintf(w, "%s\n", bold.Sprintf("Run %s", run.ID))
	fmt.Fprintf(w, "  Puzzle:     %s\n", run.PuzzleID)
	fmt.Fprintf(w, "  Status:     %s\n", statusText(run.Status))
	fmt.Fprintf(w, "  Model:      %s\n", run.Config.Model)
	fmt.Fprintf(w, "  Experts:    %d (requested %d)\n", run.ExpertCount, run.Config.ExpertCount)
	fmt.Fprintf(w, "  Created:    %s\n", run.CreatedAt.Local().Format(time.DateTime))
	if run.EndedAt != nil {
		fmt.Fprintf(w, "  Duration:   %s\n", run.Duration().Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  Exit code:  %d\n", run.ExitCode)
	if run.Error != "" {
		fmt.Fprintf(w, "  Reason:     %s\n", run.Error)
	}
	if run.MalformedLines > 0 || run.EvictedEvents > 0 {
		fmt.Fprintf(w, "  Malformed:  %d lines, %d events evicted\n", run.MalformedLines, run.EvictedEvents)
	}

	sum := rec.Summary
	fmt.Fprintf(w, "\nTotals:\n")
	fmt.Fprintf(w, "  Attempts: %d, tokens: %d in / %d out, cost: $%.4f\n",
		sum.TotalAttempts, sum.TotalTokens.Input, sum.TotalTokens.Output, sum.TotalCost)
	if sum.BestAttemptID != "" && sum.BestExpertID != nil {
		fmt.Fprintf(w, "  Best: %s (expert %d, score %.2f)\n", sum.BestAttemptID, *sum.BestExpertID, sum.BestScore)
	}
	for _, er := range rec.Experts {
		fmt.Fprintf(w, "  Expert %d: %d attempt(s), %d iteration(s), best score %.2f\n",
			er.Expert.ID, len(er.Attempts), er.Expert.IterationCount, er.Expert.BestScore)
	}

	if len(rec.Validation) > 0 {
		fmt.Fprintf(w, "\nValidation:\n")
		for _, v := range rec.Validation {
			verdict := color.RedString("wrong")
			if v.IsCorrect {
				verdict = color.GreenString("correct")
			}
			fmt.Fprintf(w, "  Test %d: %s, score %.2f, predicted %s, expected %s (%s)\n",
				v.TestIndex, verdict, v.AccuracyScore, v.PredictedGrid, v.ExpectedGrid, v.ExtractionMethod)
		}
		if run.Accuracy != nil {
			fmt.Fprintf(w, "  Accuracy: %.2f\n", *run.Accuracy)
		}
	}
}

func writeTrace(w io.Writer, rec *models.RunRecord) {
	fmt.Fprintf(w, "\nTrace (%d events):\n", len(rec.Trace))
	for _, ev := range rec.Trace {
		line := logger.FormatEvent(ev, rec.Run.Config.MaxIterations, false)
		fmt.Fprintf(w, "  %10s  %s\n", formatOffset(ev.TimestampMs), strings.TrimSpace(line))
	}
}

// formatOffset renders a run-relative millisecond timestamp as seconds.
func formatOffset(ms int64) string {
	return fmt.Sprintf("+%.3fs", float64(ms)/1000)
}

func statusText(s models.RunStatus) string {
	switch s {
	case models.StatusCompleted:
		return color.GreenString(string(s))
	case models.StatusFailed, models.StatusTimedOut:
		return color.RedString(string(s))
	case models.StatusCancelled:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}
