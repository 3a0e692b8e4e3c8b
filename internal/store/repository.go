// Package store persists finished runs: the run record, every expert's
// attempts, the trace and the validation verdicts.
//
// Two backends are provided. SQLiteRepository keeps everything in one
// database file; ArchiveRepository writes one JSON document per run.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/harrison/arcsolve/internal/models"
)

var (
	// ErrNotFound is returned by Get for an unknown run id.
	ErrNotFound = errors.New("run not found")

	// ErrRunExists is returned by Save when the run already has a terminal record.
	ErrRunExists = errors.New("run already persisted")
)

// Repository is the persistence contract used by the orchestrator.
type Repository interface {
	// Save writes the record in a single atomic operation.
	Save(ctx context.Context, rec *models.RunRecord) error
	// Get loads a persisted record.
	Get(ctx context.Context, runID string) (*models.RunRecord, error)
	// List returns persisted runs, newest first.
	List(ctx context.Context, opts ListOptions) ([]models.Run, error)
	Close() error
}

// ListOptions filters List. Zero values match everything.
type ListOptions struct {
	PuzzleID string
	Status   models.RunStatus
	Limit    int
}

// Matches reports whether run passes the filters. Limit is not considered.
func (o ListOptions) Matches(run models.Run) bool {
	if o.PuzzleID != "" && run.PuzzleID != o.PuzzleID {
		return false
	}
	if o.Status != "" && run.Status != o.Status {
		return false
	}
	return true
}

// SortNewestFirst orders runs by creation time, breaking ties on id.
func SortNewestFirst(runs []models.Run) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
