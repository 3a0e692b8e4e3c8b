package stream

import (
	"errors"
	"testing"

	"github.com/harrison/arcsolve/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLineProgress(t *testing.T) {
	line := `{"type":"progress","expertId":1,"iterationNumber":2,"phase":"codegen","message":"trying rotation",
	"artifact":{"code":"def f(x): return x"},"trainingResult":{"passed":2,"total":3,"score":0.67},
	"tokens":{"input":100,"output":50},"cost":0.01,"timestampMs":1234}`

	raw, err := DecodeLine([]byte(line))
	require.NoError(t, err)

	assert.Equal(t, models.EventProgress, raw.Type)
	require.NotNil(t, raw.ExpertID)
	assert.Equal(t, 1, *raw.ExpertID)
	require.NotNil(t, raw.Iteration)
	assert.Equal(t, 2, *raw.Iteration)
	assert.Equal(t, "codegen", raw.Phase)
	require.NotNil(t, raw.TimestampMs)
	assert.Equal(t, int64(1234), *raw.TimestampMs)
	assert.Equal(t, models.Tokens{Input: 100, Output: 50}, *raw.Tokens)
	assert.InDelta(t, 0.67, raw.TrainingResult.Score, 1e-9)
	assert.JSONEq(t, `{"code":"def f(x): return x"}`, string(raw.Artifact))
}

func TestDecodeLineFinalAnswerFallbacks(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "answer field",
			line: `{"type":"final","answer":{"predictedOutput":[[1]]},"artifact":{"ignored":true}}`,
			want: `{"predictedOutput":[[1]]}`,
		},
		{
			name: "artifact fallback",
			line: `{"type":"final","artifact":[[1,2]],"answer":null}`,
			want: `[[1,2]]`,
		},
		{
			name: "whole object fallback",
			line: `{"type":"final","predictedOutput":[[3]],"confidence":80}`,
			want: `{"type":"final","predictedOutput":[[3]],"confidence":80}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := DecodeLine([]byte(tt.line))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw.Artifact))
		})
	}
}

func TestDecodeLineFinalSummary(t *testing.T) {
	raw, err := DecodeLine([]byte(`{"type":"final","answer":[[1]],"confidence":0.9,"summary":{"tokens":{"input":10,"output":5},"cost":0.5,"iterations":4}}`))
	require.NoError(t, err)

	require.NotNil(t, raw.Confidence)
	assert.Equal(t, 0.9, *raw.Confidence)
	require.NotNil(t, raw.Summary)
	assert.Equal(t, int64(15), raw.Summary.Tokens.Total())
	assert.Equal(t, 4, *raw.Summary.Iterations)
}

func TestDecodeLineErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{name: "not json", line: `Traceback (most recent call last):`, want: ErrMalformedLine},
		{name: "truncated json", line: `{"type":"progress",`, want: ErrMalformedLine},
		{name: "array", line: `[1,2,3]`, want: ErrMalformedLine},
		{name: "wrong field type", line: `{"type":"progress","expertId":"zero"}`, want: ErrMalformedLine},
		{name: "no type", line: `{"message":"hi"}`, want: ErrMissingType},
		{name: "empty type", line: `{"type":""}`, want: ErrMissingType},
		{name: "unknown type", line: `{"type":"heartbeat"}`, want: ErrUnknownType},
		{name: "synthetic type", line: `{"type":"status","status":"completed"}`, want: ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLine([]byte(tt.line))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDecodeLineErrorMessageAlias(t *testing.T) {
	raw, err := DecodeLine([]byte(`{"type":"error","error":"rate limited"}`))
	require.NoError(t, err)
	assert.Equal(t, "rate limited", raw.Message)
}
