package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/arcsolve/internal/models"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository stores runs in a SQLite database.
type SQLiteRepository struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	repo := &SQLiteRepository{db: db, dbPath: dbPath}
	if err := repo.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return repo, nil
}

// execWithRetry executes a statement with exponential backoff on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Save writes the record in one transaction. A previous non-terminal record
// for the same run is replaced; a terminal one yields ErrRunExists.
func (r *SQLiteRepository) Save(ctx context.Context, rec *models.RunRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, rec.Run.ID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("check existing run: %w", err)
	case models.RunStatus(existing).IsTerminal():
		return fmt.Errorf("%w: %s", ErrRunExists, rec.Run.ID)
	default:
		for _, table := range []string{"attempts", "events", "validation_results"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, rec.Run.ID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, rec.Run.ID); err != nil {
			return fmt.Errorf("clear run: %w", err)
		}
	}

	if err := insertRun(ctx, tx, rec); err != nil {
		return err
	}
	if err := insertAttempts(ctx, tx, rec.Run.ID, rec.Experts); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, rec.Run.ID, rec.Trace); err != nil {
		return err
	}
	if err := insertValidation(ctx, tx, rec.Run.ID, rec.Validation); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", rec.Run.ID, err)
	}
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, rec *models.RunRecord) error {
	run := rec.Run
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	var accuracy sql.NullFloat64
	if run.Accuracy != nil {
		accuracy = sql.NullFloat64{Float64: *run.Accuracy, Valid: true}
	}

	query := `INSERT INTO runs
		(id, puzzle_id, status, model, expert_count, requested_experts, max_iterations, timeout_ns, created_at,
		 started_at, ended_at, exit_code, error, diagnostics, malformed_lines, evicted_events, accuracy, all_correct, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		run.ID, run.PuzzleID, string(run.Status), run.Config.Model, run.ExpertCount, run.Config.ExpertCount,
		run.Config.MaxIterations, int64(run.Config.Timeout),
		formatTime(run.CreatedAt), formatTimePtr(run.StartedAt), formatTimePtr(run.EndedAt),
		run.ExitCode, run.Error, run.Diagnostics, run.MalformedLines, run.EvictedEvents,
		accuracy, run.AllCorrect, string(summary),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func insertAttempts(ctx context.Context, tx *sql.Tx, runID string, experts []models.ExpertRecord) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO attempts
		(run_id, attempt_id, expert_id, iteration, sequence, timestamp_ms, phase, artifact, training_result,
		 input_tokens, output_tokens, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare attempts: %w", err)
	}
	defer stmt.Close()

	for _, er := range experts {
		for _, a := range er.Attempts {
			var training sql.NullString
			if a.TrainingResult != nil {
				data, err := json.Marshal(a.TrainingResult)
				if err != nil {
					return fmt.Errorf("marshal training result: %w", err)
				}
				training = sql.NullString{String: string(data), Valid: true}
			}
			var artifact sql.NullString
			if len(a.Artifact) > 0 {
				artifact = sql.NullString{String: string(a.Artifact), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, runID, a.ID, a.ExpertID, a.Iteration, int64(a.Sequence),
				a.TimestampMs, a.Phase, artifact, training, a.Tokens.Input, a.Tokens.Output, a.Cost); err != nil {
				return fmt.Errorf("insert attempt %s: %w", a.ID, err)
			}
		}
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, runID string, trace []models.Event) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (run_id, sequence, type, timestamp_ms, payload)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare events: %w", err)
	}
	defer stmt.Close()

	for _, ev := range trace {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", ev.Sequence, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, int64(ev.Sequence), string(ev.Type), ev.TimestampMs, string(payload)); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Sequence, err)
		}
	}
	return nil
}

func insertValidation(ctx context.Context, tx *sql.Tx, runID string, results []models.ValidationResult) error {
	for _, v := range results {
		predicted, err := json.Marshal(v.PredictedGrid)
		if err != nil {
			return fmt.Errorf("marshal predicted grid: %w", err)
		}
		expected, err := json.Marshal(v.ExpectedGrid)
		if err != nil {
			return fmt.Errorf("marshal expected grid: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO validation_results
			(run_id, test_index, predicted_grid, expected_grid, is_correct, accuracy_score, extraction_method)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, v.TestIndex, string(predicted), string(expected), v.IsCorrect, v.AccuracyScore, v.ExtractionMethod)
		if err != nil {
			return fmt.Errorf("insert validation %d: %w", v.TestIndex, err)
		}
	}
	return nil
}

const runColumns = `id, puzzle_id, status, model, expert_count, requested_experts, max_iterations, timeout_ns, created_at,
	started_at, ended_at, exit_code, error, diagnostics, malformed_lines, evicted_events, accuracy, all_correct, summary`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (models.Run, models.RunSummary, error) {
	var (
		run                 models.Run
		status, created     string
		model, errMsg, diag sql.NullString
		started, ended      sql.NullString
		summary             sql.NullString
		timeout             int64
		accuracy            sql.NullFloat64
		sum                 models.RunSummary
	)
	err := row.Scan(&run.ID, &run.PuzzleID, &status, &model, &run.ExpertCount, &run.Config.ExpertCount, &run.Config.MaxIterations,
		&timeout, &created, &started, &ended, &run.ExitCode, &errMsg, &diag, &run.MalformedLines,
		&run.EvictedEvents, &accuracy, &run.AllCorrect, &summary)
	if err != nil {
		return run, sum, err
	}

	run.Status = models.RunStatus(status)
	run.Config.Model = model.String
	run.Config.Timeout = time.Duration(timeout)
	run.Error = errMsg.String
	run.Diagnostics = diag.String
	if accuracy.Valid {
		run.Accuracy = models.FloatPtr(accuracy.Float64)
	}
	if run.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return run, sum, fmt.Errorf("parse created_at: %w", err)
	}
	if run.StartedAt, err = parseTimePtr(started); err != nil {
		return run, sum, fmt.Errorf("parse started_at: %w", err)
	}
	if run.EndedAt, err = parseTimePtr(ended); err != nil {
		return run, sum, fmt.Errorf("parse ended_at: %w", err)
	}
	if summary.Valid && summary.String != "" {
		if err := json.Unmarshal([]byte(summary.String), &sum); err != nil {
			return run, sum, fmt.Errorf("unmarshal summary: %w", err)
		}
	}
	return run, sum, nil
}

// Get loads the full record for runID.
func (r *SQLiteRepository) Get(ctx context.Context, runID string) (*models.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, summary, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	rec := &models.RunRecord{Run: run, Summary: summary}
	if rec.Experts, err = r.loadExperts(ctx, runID, summary.Experts); err != nil {
		return nil, err
	}
	if rec.Trace, err = r.loadEvents(ctx, runID); err != nil {
		return nil, err
	}
	if rec.Validation, err = r.loadValidation(ctx, runID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *SQLiteRepository) loadExperts(ctx context.Context, runID string, experts []models.Expert) ([]models.ExpertRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT attempt_id, expert_id, iteration, sequence, timestamp_ms, phase,
		artifact, training_result, input_tokens, output_tokens, cost
		FROM attempts WHERE run_id = ? ORDER BY expert_id, iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	records := make([]models.ExpertRecord, 0, len(experts))
	index := make(map[int]int, len(experts))
	for _, e := range experts {
		index[e.ID] = len(records)
		records = append(records, models.ExpertRecord{Expert: e})
	}

	for rows.Next() {
		var (
			a                  models.Attempt
			seq                int64
			phase              sql.NullString
			artifact, training sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.ExpertID, &a.Iteration, &seq, &a.TimestampMs, &phase, &artifact,
			&training, &a.Tokens.Input, &a.Tokens.Output, &a.Cost); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Sequence = uint64(seq)
		a.Phase = phase.String
		if artifact.Valid {
			a.Artifact = json.RawMessage(artifact.String)
		}
		if training.Valid {
			a.TrainingResult = &models.TrainingResult{}
			if err := json.Unmarshal([]byte(training.String), a.TrainingResult); err != nil {
				return nil, fmt.Errorf("unmarshal training result: %w", err)
			}
		}

		i, ok := index[a.ExpertID]
		if !ok {
			i = len(records)
			index[a.ExpertID] = i
			records = append(records, models.ExpertRecord{Expert: models.Expert{ID: a.ExpertID}})
		}
		records[i].Attempts = append(records[i].Attempts, a)
	}
	return records, rows.Err()
}

func (r *SQLiteRepository) loadEvents(ctx context.Context, runID string) ([]models.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM events WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *SQLiteRepository) loadValidation(ctx context.Context, runID string) ([]models.ValidationResult, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT test_index, predicted_grid, expected_grid, is_correct,
		accuracy_score, extraction_method FROM validation_results WHERE run_id = ? ORDER BY test_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query validation results: %w", err)
	}
	defer rows.Close()

	var results []models.ValidationResult
	for rows.Next() {
		var (
			v                   models.ValidationResult
			predicted, expected sql.NullString
		)
		if err := rows.Scan(&v.TestIndex, &predicted, &expected, &v.IsCorrect, &v.AccuracyScore, &v.ExtractionMethod); err != nil {
			return nil, fmt.Errorf("scan validation result: %w", err)
		}
		if err := unmarshalGrid(predicted, &v.PredictedGrid); err != nil {
			return nil, err
		}
		if err := unmarshalGrid(expected, &v.ExpectedGrid); err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

// List returns persisted runs matching opts, newest first.
func (r *SQLiteRepository) List(ctx context.Context, opts ListOptions) ([]models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var (
		where []string
		args  []interface{}
	)
	if opts.PuzzleID != "" {
		where = append(where, "puzzle_id = ?")
		args = append(args, opts.PuzzleID)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, _, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func unmarshalGrid(s sql.NullString, dst *models.Grid) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return fmt.Errorf("unmarshal grid: %w", err)
	}
	return nil
}
