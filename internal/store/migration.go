package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one ordered schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all schema migrations.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with runs, attempts, events and validation results",
		SQL: `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    puzzle_id TEXT NOT NULL,
    status TEXT NOT NULL,
    model TEXT,
    expert_count INTEGER NOT NULL DEFAULT 0,
    requested_experts INTEGER NOT NULL DEFAULT 0,
    max_iterations INTEGER NOT NULL DEFAULT 0,
    timeout_ns INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    started_at TEXT,
    ended_at TEXT,
    exit_code INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    diagnostics TEXT,
    malformed_lines INTEGER NOT NULL DEFAULT 0,
    evicted_events INTEGER NOT NULL DEFAULT 0,
    accuracy REAL,
    all_correct BOOLEAN NOT NULL DEFAULT 0,
    summary TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_puzzle ON runs(puzzle_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS attempts (
    run_id TEXT NOT NULL,
    attempt_id TEXT NOT NULL,
    expert_id INTEGER NOT NULL,
    iteration INTEGER NOT NULL,
    sequence INTEGER NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    phase TEXT,
    artifact TEXT,
    training_result TEXT,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, attempt_id),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS events (
    run_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    type TEXT NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    payload TEXT NOT NULL,
    PRIMARY KEY (run_id, sequence),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS validation_results (
    run_id TEXT NOT NULL,
    test_index INTEGER NOT NULL,
    predicted_grid TEXT,
    expected_grid TEXT,
    is_correct BOOLEAN NOT NULL,
    accuracy_score REAL NOT NULL,
    extraction_method TEXT NOT NULL,
    PRIMARY KEY (run_id, test_index),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`,
	},
}

// ApplyMigrations applies all pending migrations in one serialized
// transaction so concurrent openers of the same file do not race.
func (r *SQLiteRepository) ApplyMigrations(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin exclusive transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	applied, err := appliedVersionsTx(ctx, tx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, m.Version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func appliedVersionsTx(ctx context.Context, tx *sql.Tx) (map[int]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, fmt.Errorf("query schema versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// LatestVersion returns the highest applied migration version.
func (r *SQLiteRepository) LatestVersion() (int, error) {
	var version int
	err := r.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query latest version: %w", err)
	}
	return version, nil
}
