package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/arcsolve/internal/config"
	"github.com/harrison/arcsolve/internal/logger"
	"github.com/harrison/arcsolve/internal/orchestrator"
	"github.com/harrison/arcsolve/internal/puzzle"
	"github.com/harrison/arcsolve/internal/store"
)

// addConfigFlags registers the flags every config-driven command accepts.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to config file (default: .arcsolve/config.yaml)")
	cmd.Flags().String("store", "", "Run store backend: sqlite or archive")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().Bool("verbose", false, "Show every event (same as --log-level debug)")
}

// addSolverFlags registers the flags that shape how runs are launched.
func addSolverFlags(cmd *cobra.Command) {
	cmd.Flags().String("solver", "", "Solver executable (overrides solver.command)")
	cmd.Flags().String("puzzles-dir", "", "Directory holding <puzzle-id>.json task files")
	cmd.Flags().String("model", "", "Model passed to the solver")
	cmd.Flags().Int("experts", 0, "Number of parallel experts")
	cmd.Flags().Int("max-iterations", 0, "Per-expert iteration cap")
	cmd.Flags().String("timeout", "", "Wall-clock budget per run (e.g., 30m, 2h)")
}

// flagOverrides collects the flags set on the command line. Flags a command
// does not define are never reported as changed.
func flagOverrides(cmd *cobra.Command) (config.FlagOverrides, error) {
	var f config.FlagOverrides
	flags := cmd.Flags()

	str := func(name string) *string {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetString(name)
		return &v
	}
	num := func(name string) *int {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetInt(name)
		return &v
	}

	f.SolverCommand = str("solver")
	f.PuzzlesDir = str("puzzles-dir")
	f.Model = str("model")
	f.Experts = num("experts")
	f.MaxIterations = num("max-iterations")
	f.StoreBackend = str("store")
	f.LogLevel = str("log-level")
	f.LogDir = str("log-dir")
	f.ServerAddr = str("addr")

	if flags.Changed("timeout") {
		raw, _ := flags.GetString("timeout")
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return f, fmt.Errorf("invalid timeout format %q: %w", raw, err)
		}
		f.Timeout = &timeout
	}
	if verbose, _ := flags.GetBool("verbose"); verbose && f.LogLevel == nil {
		level := "debug"
		f.LogLevel = &level
	}
	return f, nil
}

// loadConfig reads the config file, applies flag overrides, anchors state
// paths under the arcsolve home and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error

	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	overrides, err := flagOverrides(cmd)
	if err != nil {
		return nil, err
	}
	cfg.MergeWithFlags(overrides)

	home, err := config.GetHome("")
	if err != nil {
		return nil, err
	}
	cfg.ResolvePaths(home)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runtime bundles what run and serve need: the store, the loggers and the
// orchestrator built on top of them.
type runtime struct {
	cfg  *config.Config
	repo store.Repository
	file *logger.FileLogger
	log  logger.Logger
	orch *orchestrator.Orchestrator
}

func newRuntime(cmd *cobra.Command, cfg *config.Config) (*runtime, error) {
	repo, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	log := logger.NewMulti(logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel), fileLog)

	orch, err := orchestrator.New(orchestrator.Options{
		Config:  cfg,
		Puzzles: puzzle.NewDirSource(cfg.PuzzlesDir),
		Repo:    repo,
		Logger:  log,
	})
	if err != nil {
		fileLog.Close()
		repo.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, repo: repo, file: fileLog, log: log, orch: orch}, nil
}

func (r *runtime) Close() error {
	logErr := r.file.Close()
	if err := r.repo.Close(); err != nil {
		return err
	}
	return logErr
}
