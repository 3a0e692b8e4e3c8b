// Package stream turns solver stdout lines into ordered run events and fans
// them out to observers.
//
// A run's events flow DecodeLine -> Correlator.Normalize -> Trace.Append.
// The Trace assigns sequence numbers, keeps a capped history and broadcasts
// to subscribers without ever blocking the producer.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harrison/arcsolve/internal/models"
)

// Protocol errors. They are recovered where they occur: the line is counted
// and skipped, the run continues.
var (
	ErrMalformedLine = errors.New("malformed protocol line")
	ErrMissingType   = errors.New("protocol line has no type")
	ErrUnknownType   = errors.New("unknown event type")
)

// RawEvent is one decoded solver line before correlation.
type RawEvent struct {
	Type           models.EventType
	TimestampMs    *int64
	ExpertID       *int
	Iteration      *int
	Phase          string
	Message        string
	Artifact       json.RawMessage
	TrainingResult *models.TrainingResult
	Tokens         *models.Tokens
	Cost           *float64
	Confidence     *float64
	Summary        *models.FinalSummary
}

// wireEvent mirrors the NDJSON line layout.
type wireEvent struct {
	Type           *string                `json:"type"`
	TimestampMs    *float64               `json:"timestampMs"`
	ExpertID       *int                   `json:"expertId"`
	Iteration      *int                   `json:"iterationNumber"`
	Phase          string                 `json:"phase"`
	Message        string                 `json:"message"`
	Error          string                 `json:"error"`
	Artifact       json.RawMessage        `json:"artifact"`
	Answer         json.RawMessage        `json:"answer"`
	TrainingResult *models.TrainingResult `json:"trainingResult"`
	Tokens         *models.Tokens         `json:"tokens"`
	Cost           *float64               `json:"cost"`
	Confidence     *float64               `json:"confidence"`
	Summary        *models.FinalSummary   `json:"summary"`
}

// DecodeLine parses one stdout line. Only the solver event types are
// accepted; synthetic types such as "status" are rejected as unknown.
//
// For final events the answer payload is taken from "answer", falling back
// to "artifact" and then to the whole line object.
func DecodeLine(line []byte) (RawEvent, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return RawEvent{}, fmt.Errorf("%w: not a JSON object", ErrMalformedLine)
	}

	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return RawEvent{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if w.Type == nil || *w.Type == "" {
		return RawEvent{}, ErrMissingType
	}

	typ := models.EventType(*w.Type)
	if !typ.IsSolverType() {
		return RawEvent{}, fmt.Errorf("%w: %q", ErrUnknownType, *w.Type)
	}

	raw := RawEvent{
		Type:           typ,
		ExpertID:       w.ExpertID,
		Iteration:      w.Iteration,
		Phase:          w.Phase,
		Message:        w.Message,
		Artifact:       nonNull(w.Artifact),
		TrainingResult: w.TrainingResult,
		Tokens:         w.Tokens,
		Cost:           w.Cost,
		Confidence:     w.Confidence,
		Summary:        w.Summary,
	}
	if raw.Message == "" {
		raw.Message = w.Error
	}
	if w.TimestampMs != nil {
		ts := int64(*w.TimestampMs)
		raw.TimestampMs = &ts
	}

	if typ == models.EventFinal {
		switch {
		case nonNull(w.Answer) != nil:
			raw.Artifact = w.Answer
		case raw.Artifact != nil:
		default:
			raw.Artifact = append(json.RawMessage(nil), line...)
		}
	}

	return raw, nil
}

// nonNull drops absent and explicit-null payloads.
func nonNull(m json.RawMessage) json.RawMessage {
	if len(m) == 0 || bytes.Equal(bytes.TrimSpace(m), []byte("null")) {
		return nil
	}
	return m
}
