package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for arcsolve
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arcsolve",
		Short: "Orchestrate ARC puzzle solver runs and stream their telemetry",
		Long: `arcsolve launches an external solver process per run, turns its
line-delimited JSON output into an ordered event trace, tracks the
experts working on the puzzle, validates the final answer against the
puzzle's expected outputs and persists everything for later inspection.

Runs can be driven from the command line (run) or over HTTP with
Server-Sent Events (serve).`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewShowCommand())
	cmd.AddCommand(NewListCommand())
	cmd.AddCommand(NewValidateCommand())

	return cmd
}
