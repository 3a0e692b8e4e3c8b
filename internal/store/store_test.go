package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/arcsolve/internal/config"
	"github.com/harrison/arcsolve/internal/models"
)

var base = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func sampleRecord(id, puzzle string, status models.RunStatus, created time.Time) *models.RunRecord {
	started := created.Add(time.Second)
	ended := created.Add(time.Minute)
	acc := 0.5

	run := models.Run{
		ID:             id,
		PuzzleID:       puzzle,
		Status:         status,
		Config:         models.RunConfig{Model: "m1", ExpertCount: 2, MaxIterations: 5, Timeout: time.Hour},
		ExpertCount:    2,
		CreatedAt:      created,
		StartedAt:      &started,
		MalformedLines: 1,
	}
	if status.IsTerminal() {
		run.EndedAt = &ended
		run.Accuracy = &acc
	}

	attempt := models.Attempt{
		ID:             models.AttemptID(0, 1),
		ExpertID:       0,
		Iteration:      1,
		TimestampMs:    1500,
		Sequence:       2,
		Phase:          "generate",
		Artifact:       json.RawMessage(`{"code":"x"}`),
		TrainingResult: &models.TrainingResult{Passed: 1, Total: 2, Score: 0.5},
		Tokens:         models.Tokens{Input: 10, Output: 5},
		Cost:           0.01,
	}

	return &models.RunRecord{
		Run: run,
		Experts: []models.ExpertRecord{
			{Expert: models.Expert{ID: 0, IterationCount: 1, BestScore: 0.5, BestAttemptID: attempt.ID}, Attempts: []models.Attempt{attempt}},
			{Expert: models.Expert{ID: 1}},
		},
		Trace: []models.Event{
			{RunID: id, Sequence: 1, Type: models.EventStatus, TimestampMs: 0, Status: models.StatusRunning},
			{RunID: id, Sequence: 2, Type: models.EventProgress, TimestampMs: 1500, ExpertID: models.IntPtr(0), Iteration: models.IntPtr(1)},
			{RunID: id, Sequence: 3, Type: models.EventStatus, TimestampMs: 60000, Status: status},
		},
		Validation: []models.ValidationResult{
			{TestIndex: 0, PredictedGrid: models.Grid{{1}}, ExpectedGrid: models.Grid{{1}}, IsCorrect: true, AccuracyScore: 1, ExtractionMethod: "single_grid"},
			{TestIndex: 1, ExpectedGrid: models.Grid{{2}}, ExtractionMethod: "single_grid"},
		},
		Summary: models.RunSummary{
			RunID:         id,
			ExpertCount:   2,
			TotalAttempts: 1,
			TotalTokens:   models.Tokens{Input: 10, Output: 5},
			TotalCost:     0.01,
			BestAttemptID: attempt.ID,
			BestExpertID:  models.IntPtr(0),
			BestScore:     0.5,
			Experts:       []models.Expert{{ID: 0, IterationCount: 1, BestScore: 0.5, BestAttemptID: attempt.ID}, {ID: 1}},
		},
	}
}

type backend struct {
	name string
	open func(t *testing.T) Repository
}

func backends() []backend {
	return []backend{
		{name: "sqlite", open: func(t *testing.T) Repository {
			repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "runs.db"))
			require.NoError(t, err)
			t.Cleanup(func() { repo.Close() })
			return repo
		}},
		{name: "sqlite memory", open: func(t *testing.T) Repository {
			repo, err := NewSQLiteRepository(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { repo.Close() })
			return repo
		}},
		{name: "archive", open: func(t *testing.T) Repository {
			repo, err := NewArchiveRepository(filepath.Join(t.TempDir(), "archive"))
			require.NoError(t, err)
			return repo
		}},
	}
}

func TestRepositorySaveGet(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			repo := b.open(t)
			ctx := context.Background()
			want := sampleRecord("r1", "p1", models.StatusCompleted, base)

			require.NoError(t, repo.Save(ctx, want))

			got, err := repo.Get(ctx, "r1")
			require.NoError(t, err)

			assert.Equal(t, want.Run, got.Run)
			assert.Equal(t, want.Summary, got.Summary)
			assert.Equal(t, want.Validation, got.Validation)
			assert.Equal(t, want.Trace, got.Trace)

			require.Len(t, got.Experts, 2)
			assert.Equal(t, want.Experts[0].Expert, got.Experts[0].Expert)
			require.Len(t, got.Experts[0].Attempts, 1)
			gotAttempt := got.Experts[0].Attempts[0]
			wantAttempt := want.Experts[0].Attempts[0]
			assert.JSONEq(t, string(wantAttempt.Artifact), string(gotAttempt.Artifact))
			gotAttempt.Artifact, wantAttempt.Artifact = nil, nil
			assert.Equal(t, wantAttempt, gotAttempt)
			assert.Empty(t, got.Experts[1].Attempts)
		})
	}
}

func TestRepositoryTerminalRecordIsAppendOnly(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			repo := b.open(t)
			ctx := context.Background()

			require.NoError(t, repo.Save(ctx, sampleRecord("r1", "p1", models.StatusFailed, base)))

			err := repo.Save(ctx, sampleRecord("r1", "p1", models.StatusCompleted, base))
			assert.ErrorIs(t, err, ErrRunExists)

			got, err := repo.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusFailed, got.Run.Status)
		})
	}
}

func TestRepositoryPendingRecordIsReplaced(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			repo := b.open(t)
			ctx := context.Background()

			pending := sampleRecord("r1", "p1", models.StatusPending, base)
			pending.Run.StartedAt = nil
			require.NoError(t, repo.Save(ctx, pending))
			require.NoError(t, repo.Save(ctx, sampleRecord("r1", "p1", models.StatusCompleted, base)))

			got, err := repo.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, got.Run.Status)
			assert.Len(t, got.Trace, 3)
		})
	}
}

func TestRepositoryNotFound(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			repo := b.open(t)
			_, err := repo.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRepositoryList(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			repo := b.open(t)
			ctx := context.Background()

			require.NoError(t, repo.Save(ctx, sampleRecord("a", "p1", models.StatusCompleted, base)))
			require.NoError(t, repo.Save(ctx, sampleRecord("b", "p2", models.StatusFailed, base.Add(time.Minute))))
			require.NoError(t, repo.Save(ctx, sampleRecord("c", "p1", models.StatusFailed, base.Add(2*time.Minute))))

			tests := []struct {
				name string
				opts ListOptions
				want []string
			}{
				{name: "all newest first", opts: ListOptions{}, want: []string{"c", "b", "a"}},
				{name: "by puzzle", opts: ListOptions{PuzzleID: "p1"}, want: []string{"c", "a"}},
				{name: "by status", opts: ListOptions{Status: models.StatusFailed}, want: []string{"c", "b"}},
				{name: "limit", opts: ListOptions{Limit: 1}, want: []string{"c"}},
				{name: "no match", opts: ListOptions{PuzzleID: "p9"}, want: nil},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					runs, err := repo.List(ctx, tt.opts)
					require.NoError(t, err)
					var ids []string
					for _, r := range runs {
						ids = append(ids, r.ID)
					}
					assert.Equal(t, tt.want, ids)
				})
			}
		})
	}
}

func TestRepositoryRejectsInvalidRecord(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			repo := b.open(t)
			rec := sampleRecord("r1", "p1", models.StatusCompleted, base)
			rec.Trace[0].RunID = "other"
			assert.Error(t, repo.Save(context.Background(), rec))
		})
	}
}

func TestSQLiteMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "runs.db")
	repo, err := NewSQLiteRepository(dbPath)
	require.NoError(t, err)

	version, err := repo.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	require.Len(t, migrations, 1)

	for _, idx := range []string{"idx_runs_puzzle", "idx_runs_created", "idx_runs_status"} {
		var name string
		err := repo.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = ?`, idx).Scan(&name)
		require.NoError(t, err, idx)
		assert.Equal(t, idx, name)
	}
	require.NoError(t, repo.Close())

	// Reopening applies nothing new.
	repo, err = NewSQLiteRepository(dbPath)
	require.NoError(t, err)
	defer repo.Close()
	version, err = repo.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestArchiveConcurrentSaves(t *testing.T) {
	repo, err := NewArchiveRepository(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("run%d", i)
			assert.NoError(t, repo.Save(ctx, sampleRecord(id, "p1", models.StatusCompleted, base.Add(time.Duration(i)*time.Second))))
		}(i)
	}
	wg.Wait()

	runs, err := repo.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, runs, 10)

	// No temp files left behind.
	entries, err := os.ReadDir(repo.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestArchiveRejectsPathLikeIDs(t *testing.T) {
	repo, err := NewArchiveRepository(t.TempDir())
	require.NoError(t, err)

	_, err = repo.Get(context.Background(), "../etc")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	repo, err := Open(config.StoreConfig{Backend: config.BackendSQLite, DBPath: filepath.Join(dir, "r.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteRepository{}, repo)
	repo.Close()

	repo, err = Open(config.StoreConfig{Backend: config.BackendArchive, ArchiveDir: filepath.Join(dir, "a")})
	require.NoError(t, err)
	assert.IsType(t, &ArchiveRepository{}, repo)

	_, err = Open(config.StoreConfig{Backend: "redis"})
	assert.Error(t, err)
}
