package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/arcsolve/internal/models"
)

// notifyContext is swapped in tests to simulate an interrupt.
var notifyContext = signal.NotifyContext

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <puzzle-id>",
		Short: "Run the solver on one puzzle and stream its progress",
		Long: `Run the solver on one puzzle, streaming events to the console as they
arrive. The final answer is validated against the puzzle's expected test
outputs and the run is persisted to the run store.

Interrupting (Ctrl+C) cancels the run; the cancelled run is still persisted.

Configuration is loaded from .arcsolve/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  arcsolve run 007bbfb7
  arcsolve run 007bbfb7 --experts 4 --max-iterations 20
  arcsolve run 007bbfb7 --timeout 30m --model gpt-large
  arcsolve run 007bbfb7 --solver ./bin/solver --puzzles-dir data/eval`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	addConfigFlags(cmd)
	addSolverFlags(cmd)

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cmd, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	puzzleID := args[0]

	// Installed before the spawn: the solver's process group never receives
	// the terminal's SIGINT.
	ctx, stop := notifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := rt.orch.StartRun(ctx, puzzleID, models.RunConfig{})
	if err != nil {
		if id != "" {
			fmt.Fprintf(cmd.OutOrStderr(), "Run %s recorded as %s\n", id, models.StatusPending)
		}
		return fmt.Errorf("failed to start run: %w", err)
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\nInterrupt received, cancelling run %s...\n", id)
			if err := rt.orch.CancelRun(context.Background(), id); err != nil {
				rt.log.Errorf("cancel run %s: %v", id, err)
			}
		case <-finished:
		}
	}()

	run, err := rt.orch.Wait(context.Background(), id)
	close(finished)
	if err != nil {
		return fmt.Errorf("wait for run %s: %w", id, err)
	}

	fmt.Fprintf(out, "\nRun %s persisted (%s backend). Inspect it with: arcsolve show %s\n", run.ID, cfg.Store.Backend, run.ID)
	fmt.Fprintf(out, "Logs written to: %s\n", rt.file.LogFile())

	if run.Status != models.StatusCompleted {
		if run.Error != "" {
			return fmt.Errorf("run %s %s: %s", run.ID, run.Status, run.Error)
		}
		return fmt.Errorf("run %s %s", run.ID, run.Status)
	}
	return nil
}
