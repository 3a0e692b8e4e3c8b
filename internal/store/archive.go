package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/arcsolve/internal/models"
)

const (
	archiveExt  = ".json"
	archiveLock = ".archive.lock"
)

// ArchiveRepository stores each run as a standalone JSON document named
// <runID>.json inside dir.
type ArchiveRepository struct {
	dir string
}

// NewArchiveRepository creates dir if needed.
func NewArchiveRepository(dir string) (*ArchiveRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &ArchiveRepository{dir: dir}, nil
}

// Dir returns the archive directory.
func (a *ArchiveRepository) Dir() string {
	return a.dir
}

func (a *ArchiveRepository) path(runID string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(a.dir, runID+archiveExt), nil
}

// Save writes the record under the archive lock.
func (a *ArchiveRepository) Save(ctx context.Context, rec *models.RunRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	path, err := a.path(rec.Run.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", rec.Run.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return withFileLock(filepath.Join(a.dir, archiveLock), func() error {
		existing, err := readRecord(path)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case existing.Run.Status.IsTerminal():
			return fmt.Errorf("%w: %s", ErrRunExists, rec.Run.ID)
		}
		return atomicWrite(path, data)
	})
}

// Get reads one document. Writes are renames, so no lock is needed.
func (a *ArchiveRepository) Get(ctx context.Context, runID string) (*models.RunRecord, error) {
	path, err := a.path(runID)
	if err != nil {
		return nil, err
	}
	return readRecord(path)
}

// List scans the archive directory.
func (a *ArchiveRepository) List(ctx context.Context, opts ListOptions) ([]models.Run, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}

	var runs []models.Run
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, archiveExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := readRecord(filepath.Join(a.dir, name))
		if err != nil {
			return nil, err
		}
		if opts.Matches(rec.Run) {
			runs = append(runs, rec.Run)
		}
	}

	SortNewestFirst(runs)
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// Close is a no-op; the archive holds no open resources.
func (a *ArchiveRepository) Close() error {
	return nil
}

func readRecord(path string) (*models.RunRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), archiveExt))
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var rec models.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &rec, nil
}
