package models

import "fmt"

// Grid is a rectangular matrix of cell colors.
type Grid [][]int

// Dims returns rows and columns. Columns are taken from the first row.
func (g Grid) Dims() (rows, cols int) {
	if len(g) == 0 {
		return 0, 0
	}
	return len(g), len(g[0])
}

// IsRectangular returns true if g is non-empty and every row has the same
// non-zero length.
func (g Grid) IsRectangular() bool {
	if len(g) == 0 || len(g[0]) == 0 {
		return false
	}
	width := len(g[0])
	for _, row := range g {
		if len(row) != width {
			return false
		}
	}
	return true
}

// SameDims reports whether g and o have identical, rectangular shapes.
func (g Grid) SameDims(o Grid) bool {
	if !g.IsRectangular() || !o.IsRectangular() {
		return false
	}
	gr, gc := g.Dims()
	or, oc := o.Dims()
	return gr == or && gc == oc
}

// Equal reports cell-by-cell equality. Grids with different shapes are never equal.
func (g Grid) Equal(o Grid) bool {
	if !g.SameDims(o) {
		return false
	}
	for i := range g {
		for j := range g[i] {
			if g[i][j] != o[i][j] {
				return false
			}
		}
	}
	return true
}

// String renders the grid dimensions, for log messages.
func (g Grid) String() string {
	r, c := g.Dims()
	return fmt.Sprintf("%dx%d", r, c)
}

// ExtractionNone is the extraction method recorded when no strategy produced
// a usable set of grids.
const ExtractionNone = "none"

// ValidationResult is the correctness verdict for one test case.
type ValidationResult struct {
	TestIndex        int     `json:"testIndex"`
	PredictedGrid    Grid    `json:"predictedGrid"`
	ExpectedGrid     Grid    `json:"expectedGrid"`
	IsCorrect        bool    `json:"isCorrect"`
	AccuracyScore    float64 `json:"accuracyScore"`
	ExtractionMethod string  `json:"extractionMethod"`
}
