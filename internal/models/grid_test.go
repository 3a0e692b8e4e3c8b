package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGridShape(t *testing.T) {
	tests := []struct {
		name        string
		grid        Grid
		rectangular bool
		rows, cols  int
	}{
		{name: "empty", grid: Grid{}, rectangular: false},
		{name: "empty row", grid: Grid{{}}, rectangular: false, rows: 1},
		{name: "ragged", grid: Grid{{1, 2}, {3}}, rectangular: false, rows: 2, cols: 2},
		{name: "2x3", grid: Grid{{1, 2, 3}, {4, 5, 6}}, rectangular: true, rows: 2, cols: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.rectangular, tt.grid.IsRectangular())
			r, c := tt.grid.Dims()
			assert.Equal(t, tt.rows, r)
			assert.Equal(t, tt.cols, c)
		})
	}
}

func TestGridEqual(t *testing.T) {
	a := Grid{{1, 2}, {3, 4}}

	assert.True(t, a.Equal(Grid{{1, 2}, {3, 4}}))
	assert.False(t, a.Equal(Grid{{1, 2}, {3, 5}}))
	// Same cells flattened, different shape.
	assert.False(t, a.Equal(Grid{{1, 2, 3, 4}}))
	assert.False(t, a.SameDims(Grid{{1, 2, 3, 4}}))
	assert.Equal(t, "2x2", a.String())
}
