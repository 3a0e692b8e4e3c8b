package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the arcsolve state directory
const HomeEnv = "ARCSOLVE_HOME"

// GetHome returns the arcsolve state directory
// Priority order:
//  1. ARCSOLVE_HOME environment variable (if set)
//  2. <root>/.arcsolve when root is non-empty
//  3. <cwd>/.arcsolve (fallback)
//
// The directory is created if it doesn't exist
func GetHome(root string) (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create arcsolve home directory: %w", err)
		}
		return home, nil
	}

	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		root = cwd
	}

	home := filepath.Join(root, ".arcsolve")
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create arcsolve home directory: %w", err)
	}
	return home, nil
}

// ResolvePaths anchors relative state paths (database, archive, logs) under
// home. Absolute paths are left alone. Paths that already start with the
// default ".arcsolve/" prefix are rebased onto home.
func (c *Config) ResolvePaths(home string) {
	c.Store.DBPath = resolveUnder(home, c.Store.DBPath)
	c.Store.ArchiveDir = resolveUnder(home, c.Store.ArchiveDir)
	c.LogDir = resolveUnder(home, c.LogDir)
}

func resolveUnder(home, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	clean := filepath.Clean(p)
	if rel, err := filepath.Rel(".arcsolve", clean); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Join(home, rel)
	}
	return filepath.Join(home, clean)
}
