package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/arcsolve/internal/models"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendSQLite  = "sqlite"
	BackendArchive = "archive"
)

// SolverConfig describes how the solver subprocess is launched
type SolverConfig struct {
	// Command is the solver executable (path or name in PATH)
	Command string `yaml:"command"`

	// Args are passed to the solver after placeholder expansion.
	// Placeholders: {run_id} {puzzle_id} {puzzle_file} {model} {experts}
	// {max_iterations} {timeout_seconds}
	Args []string `yaml:"args"`

	// WorkDir is the working directory for the subprocess (empty = inherit)
	WorkDir string `yaml:"work_dir"`

	// Model is the default model when a run does not specify one
	Model string `yaml:"model"`

	// Experts is the default number of parallel experts
	Experts int `yaml:"experts"`

	// MaxIterations is the default per-expert iteration cap
	MaxIterations int `yaml:"max_iterations"`

	// Timeout is the default wall-clock budget per run. Legitimate runs can
	// take hours, so the default is generous.
	Timeout time.Duration `yaml:"-"`

	// KillGrace is how long a terminated solver gets before SIGKILL
	KillGrace time.Duration `yaml:"-"`

	// MaxLineBytes caps one stdout protocol line
	MaxLineBytes int `yaml:"max_line_bytes"`

	// StderrTailBytes caps the diagnostic text retained from stderr
	StderrTailBytes int `yaml:"stderr_tail_bytes"`
}

// StreamConfig controls trace buffering and subscriber fan-out
type StreamConfig struct {
	// TraceCap is the maximum number of events retained per run
	TraceCap int `yaml:"trace_cap"`

	// SubscriberBuffer is the live-event buffer per subscriber
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// StoreConfig selects and configures the run repository
type StoreConfig struct {
	// Backend is "sqlite" or "archive"
	Backend string `yaml:"backend"`

	// DBPath is the SQLite database file
	DBPath string `yaml:"db_path"`

	// ArchiveDir holds one JSON document per run for the archive backend
	ArchiveDir string `yaml:"archive_dir"`
}

// ServerConfig configures the HTTP adapter
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config represents arcsolve configuration options
type Config struct {
	Solver SolverConfig `yaml:"solver"`
	Stream StreamConfig `yaml:"stream"`
	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`

	// PuzzlesDir holds <puzzle-id>.json task files
	PuzzlesDir string `yaml:"puzzles_dir"`

	// MaxConcurrentRuns bounds live runs (0 = unlimited)
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where logs will be written
	LogDir string `yaml:"log_dir"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Solver: SolverConfig{
			Command: "arc-solver",
			Args: []string{
				"--puzzle", "{puzzle_file}",
				"--experts", "{experts}",
				"--max-iterations", "{max_iterations}",
				"--model", "{model}",
			},
			Model:           "default",
			Experts:         1,
			MaxIterations:   10,
			Timeout:         6 * time.Hour,
			KillGrace:       10 * time.Second,
			MaxLineBytes:    16 << 20,
			StderrTailBytes: 64 << 10,
		},
		Stream: StreamConfig{
			TraceCap:         500,
			SubscriberBuffer: 256,
		},
		Store: StoreConfig{
			Backend:    BackendSQLite,
			DBPath:     ".arcsolve/runs.db",
			ArchiveDir: ".arcsolve/archive",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8089",
		},
		PuzzlesDir:        "puzzles",
		MaxConcurrentRuns: 0,
		LogLevel:          "info",
		LogDir:            ".arcsolve/logs",
	}
}

// RunDefaults returns the run parameters used when a caller leaves them unset
func (c *Config) RunDefaults() models.RunConfig {
	return models.RunConfig{
		Model:         c.Solver.Model,
		ExpertCount:   c.Solver.Experts,
		MaxIterations: c.Solver.MaxIterations,
		Timeout:       c.Solver.Timeout,
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are strings in YAML ("6h", "10s")
	type yamlSolver struct {
		Command         string   `yaml:"command"`
		Args            []string `yaml:"args"`
		WorkDir         string   `yaml:"work_dir"`
		Model           string   `yaml:"model"`
		Experts         int      `yaml:"experts"`
		MaxIterations   int      `yaml:"max_iterations"`
		Timeout         string   `yaml:"timeout"`
		KillGrace       string   `yaml:"kill_grace"`
		MaxLineBytes    int      `yaml:"max_line_bytes"`
		StderrTailBytes int      `yaml:"stderr_tail_bytes"`
	}
	type yamlConfig struct {
		Solver            yamlSolver   `yaml:"solver"`
		Stream            StreamConfig `yaml:"stream"`
		Store             StoreConfig  `yaml:"store"`
		Server            ServerConfig `yaml:"server"`
		PuzzlesDir        string       `yaml:"puzzles_dir"`
		MaxConcurrentRuns int          `yaml:"max_concurrent_runs"`
		LogLevel          string       `yaml:"log_level"`
		LogDir            string       `yaml:"log_dir"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	s := yamlCfg.Solver
	if s.Command != "" {
		cfg.Solver.Command = s.Command
	}
	// Presence of args replaces the default list, even when empty
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err == nil {
		if solverSection, ok := rawMap["solver"].(map[string]interface{}); ok {
			if _, exists := solverSection["args"]; exists {
				cfg.Solver.Args = s.Args
			}
		}
	}
	if s.WorkDir != "" {
		cfg.Solver.WorkDir = s.WorkDir
	}
	if s.Model != "" {
		cfg.Solver.Model = s.Model
	}
	if s.Experts != 0 {
		cfg.Solver.Experts = s.Experts
	}
	if s.MaxIterations != 0 {
		cfg.Solver.MaxIterations = s.MaxIterations
	}
	if s.Timeout != "" {
		timeout, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid solver.timeout format %q: %w", s.Timeout, err)
		}
		cfg.Solver.Timeout = timeout
	}
	if s.KillGrace != "" {
		grace, err := time.ParseDuration(s.KillGrace)
		if err != nil {
			return nil, fmt.Errorf("invalid solver.kill_grace format %q: %w", s.KillGrace, err)
		}
		cfg.Solver.KillGrace = grace
	}
	if s.MaxLineBytes != 0 {
		cfg.Solver.MaxLineBytes = s.MaxLineBytes
	}
	if s.StderrTailBytes != 0 {
		cfg.Solver.StderrTailBytes = s.StderrTailBytes
	}

	if yamlCfg.Stream.TraceCap != 0 {
		cfg.Stream.TraceCap = yamlCfg.Stream.TraceCap
	}
	if yamlCfg.Stream.SubscriberBuffer != 0 {
		cfg.Stream.SubscriberBuffer = yamlCfg.Stream.SubscriberBuffer
	}

	if yamlCfg.Store.Backend != "" {
		cfg.Store.Backend = yamlCfg.Store.Backend
	}
	if yamlCfg.Store.DBPath != "" {
		cfg.Store.DBPath = yamlCfg.Store.DBPath
	}
	if yamlCfg.Store.ArchiveDir != "" {
		cfg.Store.ArchiveDir = yamlCfg.Store.ArchiveDir
	}

	if yamlCfg.Server.Addr != "" {
		cfg.Server.Addr = yamlCfg.Server.Addr
	}
	if yamlCfg.PuzzlesDir != "" {
		cfg.PuzzlesDir = yamlCfg.PuzzlesDir
	}
	if yamlCfg.MaxConcurrentRuns != 0 {
		cfg.MaxConcurrentRuns = yamlCfg.MaxConcurrentRuns
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .arcsolve/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ".arcsolve", "config.yaml")
	return LoadConfig(configPath)
}

// FlagOverrides carries CLI flag values; nil fields were not set on the command line
type FlagOverrides struct {
	SolverCommand *string
	Model         *string
	Experts       *int
	MaxIterations *int
	Timeout       *time.Duration
	PuzzlesDir    *string
	LogLevel      *string
	LogDir        *string
	StoreBackend  *string
	ServerAddr    *string
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(f FlagOverrides) {
	if f.SolverCommand != nil {
		c.Solver.Command = *f.SolverCommand
	}
	if f.Model != nil {
		c.Solver.Model = *f.Model
	}
	if f.Experts != nil {
		c.Solver.Experts = *f.Experts
	}
	if f.MaxIterations != nil {
		c.Solver.MaxIterations = *f.MaxIterations
	}
	if f.Timeout != nil {
		c.Solver.Timeout = *f.Timeout
	}
	if f.PuzzlesDir != nil {
		c.PuzzlesDir = *f.PuzzlesDir
	}
	if f.LogLevel != nil {
		c.LogLevel = *f.LogLevel
	}
	if f.LogDir != nil {
		c.LogDir = *f.LogDir
	}
	if f.StoreBackend != nil {
		c.Store.Backend = *f.StoreBackend
	}
	if f.ServerAddr != nil {
		c.Server.Addr = *f.ServerAddr
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.Solver.Command == "" {
		return fmt.Errorf("solver.command cannot be empty")
	}
	if c.Solver.Experts <= 0 {
		return fmt.Errorf("solver.experts must be > 0, got %d", c.Solver.Experts)
	}
	if c.Solver.MaxIterations < 0 {
		return fmt.Errorf("solver.max_iterations must be >= 0, got %d", c.Solver.MaxIterations)
	}
	// A zero timeout would kill every run immediately; there is no "unlimited"
	if c.Solver.Timeout <= 0 {
		return fmt.Errorf("solver.timeout must be > 0, got %v", c.Solver.Timeout)
	}
	if c.Solver.KillGrace <= 0 {
		return fmt.Errorf("solver.kill_grace must be > 0, got %v", c.Solver.KillGrace)
	}
	if c.Solver.MaxLineBytes < 1024 {
		return fmt.Errorf("solver.max_line_bytes must be >= 1024, got %d", c.Solver.MaxLineBytes)
	}
	if c.Solver.StderrTailBytes <= 0 {
		return fmt.Errorf("solver.stderr_tail_bytes must be > 0, got %d", c.Solver.StderrTailBytes)
	}

	if c.Stream.TraceCap < 2 {
		return fmt.Errorf("stream.trace_cap must be >= 2, got %d", c.Stream.TraceCap)
	}
	if c.Stream.SubscriberBuffer < 1 {
		return fmt.Errorf("stream.subscriber_buffer must be >= 1, got %d", c.Stream.SubscriberBuffer)
	}

	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("store.db_path cannot be empty for the sqlite backend")
		}
	case BackendArchive:
		if c.Store.ArchiveDir == "" {
			return fmt.Errorf("store.archive_dir cannot be empty for the archive backend")
		}
	default:
		return fmt.Errorf("invalid store.backend %q, must be one of: sqlite, archive", c.Store.Backend)
	}

	if c.MaxConcurrentRuns < 0 {
		return fmt.Errorf("max_concurrent_runs must be >= 0, got %d", c.MaxConcurrentRuns)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	return nil
}
