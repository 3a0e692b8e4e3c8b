package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/arcsolve/internal/logger"
	"github.com/harrison/arcsolve/internal/puzzle"
	"github.com/harrison/arcsolve/internal/validation"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <task-file>...",
		Short: "Check puzzle task files, optionally scoring an answer",
		Long: `Parse and check puzzle task files:
  - The file is valid JSON with train and test pairs
  - Every grid is rectangular
  - Every test case has an expected output

With --answer, a single task file is scored against an answer artifact
using the same extraction and scoring rules applied to a run's final
event. The artifact may be a bare list of grids or any of the wrapped
shapes solvers emit; --confidence overrides an embedded confidence.

Exit code: 0 if valid (and, with --answer, all test cases correct)`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answer, _ := cmd.Flags().GetString("answer")
			if answer == "" {
				return validateTaskFiles(args, cmd.OutOrStdout())
			}
			if len(args) != 1 {
				return fmt.Errorf("--answer requires exactly one task file, got %d", len(args))
			}
			var confidence *float64
			if cmd.Flags().Changed("confidence") {
				c, _ := cmd.Flags().GetFloat64("confidence")
				confidence = &c
			}
			return scoreAnswer(args[0], answer, confidence, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("answer", "", "Answer artifact (JSON) to score against the task's test outputs")
	cmd.Flags().Float64("confidence", 0, "Confidence for scoring (0-1 or 0-100)")

	return cmd
}

// validateTaskFiles checks each file and reports every failure before
// returning an error.
func validateTaskFiles(paths []string, out io.Writer) error {
	failed := 0
	for _, path := range paths {
		p, err := puzzle.LoadFile(path)
		if err == nil {
			_, err = p.ExpectedOutputs()
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s %s: %v\n", color.RedString("✗"), path, err)
			continue
		}
		fmt.Fprintf(out, "%s %s: %d train, %d test\n", color.GreenString("✓"), path, len(p.Train), len(p.Test))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d task file(s) invalid", failed, len(paths))
	}
	return nil
}

func scoreAnswer(taskPath, answerPath string, confidence *float64, out, errOut io.Writer) error {
	p, err := puzzle.LoadFile(taskPath)
	if err != nil {
		return err
	}
	expected, err := p.ExpectedOutputs()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(answerPath)
	if err != nil {
		return fmt.Errorf("read answer: %w", err)
	}
	artifact := json.RawMessage(data)
	if !json.Valid(data) {
		return fmt.Errorf("answer %s is not valid JSON", answerPath)
	}

	engine := validation.NewEngine(logger.NewConsoleLogger(errOut, "warn"))
	results, err := engine.ValidateWithConfidence(artifact, expected, confidence)
	if err != nil {
		return err
	}

	for _, r := range results {
		verdict := color.RedString("wrong")
		if r.IsCorrect {
			verdict = color.GreenString("correct")
		}
		fmt.Fprintf(out, "Test %d: %s, score %.2f (%s)\n", r.TestIndex, verdict, r.AccuracyScore, r.ExtractionMethod)
	}
	accuracy, allCorrect := validation.Aggregate(results)
	fmt.Fprintf(out, "Accuracy: %.2f\n", accuracy)

	if !allCorrect {
		return fmt.Errorf("answer is not correct for every test case")
	}
	return nil
}
