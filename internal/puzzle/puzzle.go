// Package puzzle loads ARC tasks: a handful of training input/output pairs
// and one or more test inputs whose outputs are the expected answers.
package puzzle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harrison/arcsolve/internal/models"
)

// ErrPuzzleNotFound is returned when a puzzle id has no task file.
var ErrPuzzleNotFound = errors.New("puzzle not found")

// ErrInvalidPuzzle is returned for malformed puzzle ids and task files.
var ErrInvalidPuzzle = errors.New("invalid puzzle")

// Pair is one input/output example.
type Pair struct {
	Input  models.Grid `json:"input"`
	Output models.Grid `json:"output,omitempty"`
}

// Puzzle is one loaded task.
type Puzzle struct {
	ID    string `json:"-"`
	Path  string `json:"-"` // Task file handed to the solver
	Train []Pair `json:"train"`
	Test  []Pair `json:"test"`
}

// ExpectedOutputs returns the test outputs in order. Every test case must
// carry an output grid.
func (p *Puzzle) ExpectedOutputs() ([]models.Grid, error) {
	if len(p.Test) == 0 {
		return nil, fmt.Errorf("%w: %s has no test cases", ErrInvalidPuzzle, p.ID)
	}
	out := make([]models.Grid, len(p.Test))
	for i, pair := range p.Test {
		if len(pair.Output) == 0 {
			return nil, fmt.Errorf("%w: %s test %d has no expected output", ErrInvalidPuzzle, p.ID, i)
		}
		out[i] = pair.Output
	}
	return out, nil
}

// Validate checks that every grid is rectangular.
func (p *Puzzle) Validate() error {
	if len(p.Test) == 0 {
		return fmt.Errorf("no test cases")
	}
	check := func(kind string, i int, g models.Grid, required bool) error {
		if len(g) == 0 && !required {
			return nil
		}
		if !g.IsRectangular() {
			return fmt.Errorf("%s %d: grid is not rectangular", kind, i)
		}
		return nil
	}
	for i, pair := range p.Train {
		if err := check("train input", i, pair.Input, true); err != nil {
			return err
		}
		if err := check("train output", i, pair.Output, true); err != nil {
			return err
		}
	}
	for i, pair := range p.Test {
		if err := check("test input", i, pair.Input, true); err != nil {
			return err
		}
		if err := check("test output", i, pair.Output, false); err != nil {
			return err
		}
	}
	return nil
}

// Source resolves puzzle ids to tasks.
type Source interface {
	Load(ctx context.Context, id string) (*Puzzle, error)
}

// DirSource reads <dir>/<id>.json files.
type DirSource struct {
	dir string
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Load reads and validates the task file for id.
func (d *DirSource) Load(ctx context.Context, id string) (*Puzzle, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("%w: bad id %q", ErrInvalidPuzzle, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := filepath.Abs(filepath.Join(d.dir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("resolve puzzle path: %w", err)
	}
	p, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrPuzzleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	p.ID = id
	return p, nil
}

// List returns the ids of all task files in the directory, sorted.
func (d *DirSource) List() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read puzzles directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadFile parses a task file. The id defaults to the file's base name.
func LoadFile(path string) (*Puzzle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read puzzle: %w", err)
	}

	var p Puzzle
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidPuzzle, path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidPuzzle, path, err)
	}
	p.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p.Path = path
	return &p, nil
}
