package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/arcsolve/internal/api"
)

// shutdownTimeout bounds how long serve waits for cancelled runs to persist.
const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run control API over HTTP",
		Long: `Serve the run control API over HTTP.

Endpoints:
  POST   /api/runs              start a run {"puzzleId": "...", "expertCount": 2, ...}
  GET    /api/runs              list runs (?puzzleId=&status=&limit=)
  GET    /api/runs/:id          run status
  GET    /api/runs/:id/summary  expert totals
  GET    /api/runs/:id/events   Server-Sent Events: trace replay, then live events
  DELETE /api/runs/:id          cancel a run
  GET    /metrics               Prometheus metrics
  GET    /healthz               liveness

On SIGINT/SIGTERM live runs are cancelled and persisted before exit.`,
		Args: cobra.NoArgs,
		RunE: serveCommand,
	}

	addConfigFlags(cmd)
	addSolverFlags(cmd)
	cmd.Flags().String("addr", "", "Listen address (default: 127.0.0.1:8089)")

	return cmd
}

func serveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cmd, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(rt.orch, rt.log)
	serveErr := srv.ListenAndServe(ctx, cfg.Server.Addr)

	if n := rt.orch.ActiveRuns(); n > 0 {
		rt.log.Infof("Cancelling %d live run(s)...", n)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.orch.Shutdown(shutdownCtx); err != nil {
		rt.log.Errorf("shutdown: %v", err)
	}

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}
