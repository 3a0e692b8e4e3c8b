package store

import (
	"fmt"

	"github.com/harrison/arcsolve/internal/config"
)

// Open builds the repository selected by the store config.
func Open(cfg config.StoreConfig) (Repository, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return NewSQLiteRepository(cfg.DBPath)
	case config.BackendArchive:
		return NewArchiveRepository(cfg.ArchiveDir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
