package puzzle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/arcsolve/internal/models"
)

const sampleTask = `{
  "train": [
    {"input": [[0, 1], [1, 0]], "output": [[1, 0], [0, 1]]}
  ],
  "test": [
    {"input": [[1, 1], [0, 0]], "output": [[0, 0], [1, 1]]},
    {"input": [[2]], "output": [[3]]}
  ]
}`

func writeTask(t *testing.T, dir, id, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(content), 0644))
}

func TestDirSourceLoad(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "abc123", sampleTask)

	p, err := NewDirSource(dir).Load(context.Background(), "abc123")
	require.NoError(t, err)

	assert.Equal(t, "abc123", p.ID)
	assert.True(t, filepath.IsAbs(p.Path))
	assert.Len(t, p.Train, 1)
	require.Len(t, p.Test, 2)

	expected, err := p.ExpectedOutputs()
	require.NoError(t, err)
	assert.Equal(t, []models.Grid{{{0, 0}, {1, 1}}, {{3}}}, expected)
}

func TestDirSourceLoadErrors(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "broken", `{"train": [`)
	writeTask(t, dir, "ragged", `{"train": [], "test": [{"input": [[1, 2], [3]]}]}`)
	writeTask(t, dir, "notests", `{"train": [], "test": []}`)

	src := NewDirSource(dir)
	tests := []struct {
		name     string
		id       string
		notFound bool
	}{
		{name: "missing file", id: "nope", notFound: true},
		{name: "bad json", id: "broken"},
		{name: "ragged grid", id: "ragged"},
		{name: "no tests", id: "notests"},
		{name: "path traversal", id: "../etc/passwd"},
		{name: "empty id", id: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := src.Load(context.Background(), tt.id)
			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrPuzzleNotFound))
			assert.Equal(t, !tt.notFound, errors.Is(err, ErrInvalidPuzzle))
		})
	}
}

func TestExpectedOutputsRequiresOutputs(t *testing.T) {
	p := &Puzzle{ID: "p", Test: []Pair{{Input: models.Grid{{1}}}}}
	_, err := p.ExpectedOutputs()
	assert.ErrorIs(t, err, ErrInvalidPuzzle)
}

func TestDirSourceList(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "b", sampleTask)
	writeTask(t, dir, "a", sampleTask)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0755))

	ids, err := NewDirSource(dir).List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestLoadFileDefaultsID(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "task9", sampleTask)

	p, err := LoadFile(filepath.Join(dir, "task9.json"))
	require.NoError(t, err)
	assert.Equal(t, "task9", p.ID)
}
