package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/arcsolve/internal/models"
	"github.com/harrison/arcsolve/internal/store"
)

// NewListCommand creates the list command
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, newest first",
		Long: `List persisted runs, newest first.

Examples:
  arcsolve list
  arcsolve list --puzzle 007bbfb7
  arcsolve list --status failed --limit 10`,
		Args: cobra.NoArgs,
		RunE: listCommand,
	}

	addConfigFlags(cmd)
	cmd.Flags().String("puzzle", "", "Only runs for this puzzle id")
	cmd.Flags().String("status", "", "Only runs in this status")
	cmd.Flags().Int("limit", 20, "Maximum number of runs (0 = all)")

	return cmd
}

func listCommand(cmd *cobra.Command, args []string) error {
	opts := store.ListOptions{}
	opts.PuzzleID, _ = cmd.Flags().GetString("puzzle")
	status, _ := cmd.Flags().GetString("status")
	opts.Status = models.RunStatus(status)
	opts.Limit, _ = cmd.Flags().GetInt("limit")

	if opts.Status != "" && !opts.Status.IsValid() {
		return fmt.Errorf("invalid status %q", status)
	}
	if opts.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", opts.Limit)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	repo, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer repo.Close()

	runs, err := repo.List(cmd.Context(), opts)
	if err != nil {
		return err
	}

	writeRunTable(cmd.OutOrStdout(), runs)
	return nil
}

func writeRunTable(w io.Writer, runs []models.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}

	fmt.Fprintf(w, "%-36s %-16s %-10s %-7s %-9s %s\n", "RUN", "PUZZLE", "STATUS", "EXPERTS", "ACCURACY", "CREATED")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, run := range runs {
		accuracy := "-"
		if run.Accuracy != nil {
			accuracy = fmt.Sprintf("%.2f", *run.Accuracy)
		}
		fmt.Fprintf(w, "%-36s %-16s %-10s %-7d %-9s %s\n",
			run.ID, run.PuzzleID, run.Status, run.ExpertCount, accuracy, run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
}
