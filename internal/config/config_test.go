package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 6*time.Hour, cfg.Solver.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Solver.KillGrace)
	assert.Equal(t, 16<<20, cfg.Solver.MaxLineBytes)
	assert.Equal(t, 500, cfg.Stream.TraceCap)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())

	rc := cfg.RunDefaults()
	assert.Equal(t, cfg.Solver.Experts, rc.ExpertCount)
	assert.Equal(t, cfg.Solver.Timeout, rc.Timeout)
	require.NoError(t, rc.Validate())
}

func TestLoadConfigFileNotExists(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigValidFile(t *testing.T) {
	content := `
solver:
  command: /opt/solver/bin/solve
  args: ["--task", "{puzzle_file}"]
  experts: 4
  timeout: 30m
  kill_grace: 2s
stream:
  trace_cap: 200
store:
  backend: archive
  archive_dir: /var/lib/arcsolve/archive
max_concurrent_runs: 3
log_level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/solver/bin/solve", cfg.Solver.Command)
	assert.Equal(t, []string{"--task", "{puzzle_file}"}, cfg.Solver.Args)
	assert.Equal(t, 4, cfg.Solver.Experts)
	assert.Equal(t, 30*time.Minute, cfg.Solver.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Solver.KillGrace)
	assert.Equal(t, 200, cfg.Stream.TraceCap)
	assert.Equal(t, BackendArchive, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/arcsolve/archive", cfg.Store.ArchiveDir)
	assert.Equal(t, 3, cfg.MaxConcurrentRuns)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched fields keep their defaults
	assert.Equal(t, 10, cfg.Solver.MaxIterations)
	assert.Equal(t, 256, cfg.Stream.SubscriberBuffer)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEmptyArgsClearsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solver:\n  args: []\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Solver.Args)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed yaml", content: "solver: [unclosed"},
		{name: "bad timeout", content: "solver:\n  timeout: forever\n"},
		{name: "bad kill grace", content: "solver:\n  kill_grace: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".arcsolve"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".arcsolve", "config.yaml"), []byte("log_level: warn\n"), 0644))

	cfg, err := LoadConfigFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	experts := 3
	timeout := 5 * time.Minute
	level := "trace"

	cfg.MergeWithFlags(FlagOverrides{Experts: &experts, Timeout: &timeout, LogLevel: &level})

	assert.Equal(t, 3, cfg.Solver.Experts)
	assert.Equal(t, 5*time.Minute, cfg.Solver.Timeout)
	assert.Equal(t, "trace", cfg.LogLevel)
	// Unset flags leave config alone
	assert.Equal(t, DefaultConfig().Solver.Command, cfg.Solver.Command)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty command", mutate: func(c *Config) { c.Solver.Command = "" }},
		{name: "zero experts", mutate: func(c *Config) { c.Solver.Experts = 0 }},
		{name: "zero timeout", mutate: func(c *Config) { c.Solver.Timeout = 0 }},
		{name: "tiny line cap", mutate: func(c *Config) { c.Solver.MaxLineBytes = 10 }},
		{name: "trace cap too small", mutate: func(c *Config) { c.Stream.TraceCap = 1 }},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "postgres" }},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store.DBPath = "" }},
		{name: "negative run limit", mutate: func(c *Config) { c.MaxConcurrentRuns = -1 }},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
