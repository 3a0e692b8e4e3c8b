package validation

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/harrison/arcsolve/internal/models"
)

// Extraction method names, in the order they are tried.
const (
	MethodMultipleOutputsFlag   = "multiple_outputs_flag"
	MethodNumberedFields        = "numbered_fields"
	MethodPredictedOutputsArray = "predicted_outputs_array"
	MethodSingleGrid            = "single_grid"
	MethodGridList              = "grid_list"
	MethodBareGrid              = "bare_grid"
)

// Strategy pulls predicted grids out of a decoded answer payload. Extract
// returns nil when the payload does not have the shape the strategy handles
// or when any grid it finds is malformed.
type Strategy struct {
	Name    string
	Extract func(payload interface{}) []models.Grid
}

// DefaultStrategies is the ordered extraction chain.
var DefaultStrategies = []Strategy{
	{Name: MethodMultipleOutputsFlag, Extract: extractMultipleOutputsFlag},
	{Name: MethodNumberedFields, Extract: extractNumberedFields},
	{Name: MethodPredictedOutputsArray, Extract: extractPredictedOutputsArray},
	{Name: MethodSingleGrid, Extract: extractSingleGrid},
	{Name: MethodGridList, Extract: extractGridList},
	{Name: MethodBareGrid, Extract: extractBareGrid},
}

// multiplePredictedOutputs: [grid, ...] or multiplePredictedOutputs: true
// alongside predictedOutputs: [grid, ...]
func extractMultipleOutputsFlag(payload interface{}) []models.Grid {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil
	}
	switch v := obj["multiplePredictedOutputs"].(type) {
	case []interface{}:
		return parseGridList(v)
	case bool:
		if !v {
			return nil
		}
		list, ok := obj["predictedOutputs"].([]interface{})
		if !ok {
			return nil
		}
		return parseGridList(list)
	default:
		return nil
	}
}

// predictedOutput1, predictedOutput2, ... contiguous from 1
func extractNumberedFields(payload interface{}) []models.Grid {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil
	}
	var grids []models.Grid
	for i := 1; ; i++ {
		v, ok := obj[fmt.Sprintf("predictedOutput%d", i)]
		if !ok {
			break
		}
		g, ok := parseGrid(v)
		if !ok {
			return nil
		}
		grids = append(grids, g)
	}
	return grids
}

func extractPredictedOutputsArray(payload interface{}) []models.Grid {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil
	}
	list, ok := obj["predictedOutputs"].([]interface{})
	if !ok {
		return nil
	}
	return parseGridList(list)
}

func extractSingleGrid(payload interface{}) []models.Grid {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil
	}
	g, ok := parseGrid(obj["predictedOutput"])
	if !ok {
		return nil
	}
	return []models.Grid{g}
}

func extractGridList(payload interface{}) []models.Grid {
	list, ok := payload.([]interface{})
	if !ok {
		return nil
	}
	return parseGridList(list)
}

func extractBareGrid(payload interface{}) []models.Grid {
	g, ok := parseGrid(payload)
	if !ok {
		return nil
	}
	return []models.Grid{g}
}

// parseGridList requires a non-empty list whose every element is a grid.
func parseGridList(list []interface{}) []models.Grid {
	if len(list) == 0 {
		return nil
	}
	grids := make([]models.Grid, 0, len(list))
	for _, item := range list {
		g, ok := parseGrid(item)
		if !ok {
			return nil
		}
		grids = append(grids, g)
	}
	return grids
}

// parseGrid accepts a non-empty rectangular matrix of integers. Numbers
// with a fractional part are rejected.
func parseGrid(v interface{}) (models.Grid, bool) {
	rows, ok := v.([]interface{})
	if !ok || len(rows) == 0 {
		return nil, false
	}
	grid := make(models.Grid, 0, len(rows))
	for _, r := range rows {
		cells, ok := r.([]interface{})
		if !ok || len(cells) == 0 {
			return nil, false
		}
		row := make([]int, 0, len(cells))
		for _, c := range cells {
			n, ok := parseCell(c)
			if !ok {
				return nil, false
			}
			row = append(row, n)
		}
		grid = append(grid, row)
	}
	if !grid.IsRectangular() {
		return nil, false
	}
	return grid, true
}

func parseCell(c interface{}) (int, bool) {
	num, ok := c.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := num.Int64(); err == nil {
		return int(i), true
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
