// Package validation scores a solver's final answer against a puzzle's
// expected test outputs.
//
// Answers arrive in several shapes depending on the solver. An ordered chain
// of extraction strategies turns the payload into predicted grids; each grid
// is then compared to its expected output and scored with the solver's
// self-reported confidence.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"

	"github.com/harrison/arcsolve/internal/models"
)

// ErrNoExpectedOutputs is returned when there is nothing to validate against.
var ErrNoExpectedOutputs = errors.New("no expected outputs to validate against")

// DefaultConfidence is used when the solver does not report one.
const DefaultConfidence = 0.5

// Warner receives non-fatal extraction notices.
type Warner interface {
	Warnf(format string, args ...interface{})
}

// Engine runs the extraction chain and scores the predictions.
type Engine struct {
	strategies []Strategy
	warn       Warner
}

// NewEngine returns an Engine using DefaultStrategies. warn may be nil.
func NewEngine(warn Warner) *Engine {
	return &Engine{strategies: DefaultStrategies, warn: warn}
}

// WithStrategies returns a copy of e using the given chain.
func (e *Engine) WithStrategies(strategies []Strategy) *Engine {
	return &Engine{strategies: strategies, warn: e.warn}
}

// Validate scores artifact against expected. Confidence is read from a
// "confidence" field in the artifact (or its answer wrapper) when present.
func (e *Engine) Validate(artifact json.RawMessage, expected []models.Grid) ([]models.ValidationResult, error) {
	return e.ValidateWithConfidence(artifact, expected, nil)
}

// ValidateFinal scores a final event. The event-level confidence takes
// precedence over one embedded in the artifact.
func (e *Engine) ValidateFinal(ev models.Event, expected []models.Grid) ([]models.ValidationResult, error) {
	return e.ValidateWithConfidence(ev.Artifact, expected, ev.Confidence)
}

// ValidateWithConfidence scores artifact using the given confidence, or the
// artifact's own when confidence is nil. Identical inputs always produce
// identical results.
func (e *Engine) ValidateWithConfidence(artifact json.RawMessage, expected []models.Grid, confidence *float64) ([]models.ValidationResult, error) {
	if len(expected) == 0 {
		return nil, ErrNoExpectedOutputs
	}

	payload := decodePayload(artifact)
	if confidence == nil {
		confidence = embeddedConfidence(payload)
	}
	c := NormalizeConfidence(confidence)

	method, grids := e.extract(payload, len(expected))

	results := make([]models.ValidationResult, len(expected))
	for i, exp := range expected {
		r := models.ValidationResult{
			TestIndex:        i,
			ExpectedGrid:     exp,
			ExtractionMethod: method,
		}
		if i < len(grids) {
			r.PredictedGrid = grids[i]
			r.IsCorrect, r.AccuracyScore = ScoreGrid(grids[i], exp, c)
		}
		results[i] = r
	}
	return results, nil
}

// extract applies the chain. An exact count match wins; otherwise the first
// strategy with surplus grids is truncated from the end. A chain that only
// finds too few grids extracts nothing, so every test case is incorrect.
func (e *Engine) extract(payload interface{}, want int) (string, []models.Grid) {
	type candidate struct {
		name  string
		grids []models.Grid
	}

	var surplus *candidate
	shortest := 0
	for _, s := range e.strategies {
		grids := extractWithWrapper(s, payload)
		if len(grids) == 0 {
			continue
		}
		switch {
		case len(grids) == want:
			return s.Name, grids
		case len(grids) > want && surplus == nil:
			surplus = &candidate{name: s.Name, grids: grids}
		case len(grids) < want && len(grids) > shortest:
			shortest = len(grids)
		}
	}

	if surplus != nil {
		if e.warn != nil {
			e.warn.Warnf("extraction %s found %d grids for %d test cases, dropping the last %d",
				surplus.name, len(surplus.grids), want, len(surplus.grids)-want)
		}
		return surplus.name, surplus.grids[:want]
	}
	if e.warn != nil {
		if shortest > 0 {
			e.warn.Warnf("extraction found at most %d grids for %d test cases, marking all incorrect", shortest, want)
		} else {
			e.warn.Warnf("no extraction strategy found predicted grids in the final answer")
		}
	}
	return models.ExtractionNone, nil
}

// extractWithWrapper tries the payload itself, then one level into an
// "answer" field.
func extractWithWrapper(s Strategy, payload interface{}) []models.Grid {
	if grids := s.Extract(payload); len(grids) > 0 {
		return grids
	}
	if obj, ok := payload.(map[string]interface{}); ok {
		if inner, ok := obj["answer"]; ok {
			return s.Extract(inner)
		}
	}
	return nil
}

// decodePayload parses the artifact keeping numbers exact. Artifacts that
// are JSON strings holding JSON are unwrapped once.
func decodePayload(artifact json.RawMessage) interface{} {
	if len(artifact) == 0 {
		return nil
	}
	v, ok := decodeJSON(artifact)
	if !ok {
		return nil
	}
	if s, isString := v.(string); isString {
		if inner, ok := decodeJSON([]byte(s)); ok {
			return inner
		}
	}
	return v
}

func decodeJSON(data []byte) (interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

func embeddedConfidence(payload interface{}) *float64 {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil
	}
	if c := numberField(obj, "confidence"); c != nil {
		return c
	}
	if inner, ok := obj["answer"].(map[string]interface{}); ok {
		return numberField(inner, "confidence")
	}
	return nil
}

func numberField(obj map[string]interface{}, key string) *float64 {
	n, ok := obj[key].(json.Number)
	if !ok {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}

// NormalizeConfidence maps a reported confidence onto [0,1]. Values in
// (1,100] are percentages. Missing or non-finite values give DefaultConfidence.
func NormalizeConfidence(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return DefaultConfidence
	}
	c := *v
	if c > 1 && c <= 100 {
		c /= 100
	}
	return math.Max(0, math.Min(1, c))
}

// ScoreGrid compares one prediction. Shape mismatch is incorrect with score 0.
// Otherwise a correct answer scores max(0.5, 0.5+0.5c) and an incorrect one
// scores 1-c.
func ScoreGrid(predicted, expected models.Grid, c float64) (bool, float64) {
	if !predicted.SameDims(expected) {
		return false, 0
	}
	if predicted.Equal(expected) {
		return true, math.Max(0.5, 0.5+0.5*c)
	}
	return false, 1 - c
}

// Aggregate returns the mean accuracy score and whether every test case is
// correct. An empty result set is neither accurate nor all correct.
func Aggregate(results []models.ValidationResult) (float64, bool) {
	if len(results) == 0 {
		return 0, false
	}
	sum := 0.0
	all := true
	for _, r := range results {
		sum += r.AccuracyScore
		if !r.IsCorrect {
			all = false
		}
	}
	return sum / float64(len(results)), all
}
