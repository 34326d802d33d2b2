package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricesearch/tsrr/internal/evaluation"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	e, err := evaluation.NewEvaluator(evaluation.DefaultSettings())
	require.NoError(t, err)
	return NewHandler(e, nil)
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestHandleScore(t *testing.T) {
	h := newTestHandler(t)

	res, err := h.handleScore(context.Background(), call(ToolScore, map[string]any{
		"items": []any{
			map[string]any{"score": 9.0, "relevant": false},
			map[string]any{"score": 7.0, "relevant": true},
			map[string]any{"score": 7.0, "relevant": false},
			map[string]any{"score": 7.0, "relevant": false},
		},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var resp evaluation.ScoreResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
	assert.InDelta(t, 3.0/11.0, resp.Score, 1e-12)
	assert.Equal(t, 0.25, resp.PRR)
	assert.Equal(t, 3, resp.Breakdown.GroupSize)
}

func TestHandleScore_LogPenaltyOverride(t *testing.T) {
	h := newTestHandler(t)

	res, err := h.handleScore(context.Background(), call(ToolScore, map[string]any{
		"items":   []any{map[string]any{"score": 1.0, "relevant": true}},
		"variant": "log-penalty",
		"alpha":   2.0,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var resp evaluation.ScoreResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
	assert.Equal(t, evaluation.VariantLogPenalty, resp.Breakdown.Variant)
	assert.Equal(t, 1.0, resp.Score)
}

func TestHandleScore_Errors(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"empty list", map[string]any{"items": []any{}}},
		{"missing items", map[string]any{}},
		{"zero alpha", map[string]any{"items": []any{map[string]any{"score": 1.0}}, "variant": "log-penalty", "alpha": 0.0}},
		{"unknown variant", map[string]any{"items": []any{map[string]any{"score": 1.0}}, "variant": "optimistic"}},
		{"wrong item type", map[string]any{"items": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.handleScore(context.Background(), call(ToolScore, tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestHandleLabeled(t *testing.T) {
	h := newTestHandler(t)

	res, err := h.handleLabeled(context.Background(), call(ToolLabeled, map[string]any{
		"target":       "cat",
		"labels":       []any{"dog", "cat", "dog", "bird"},
		"similarities": []any{0.9, 0.7, 0.7, 0.1},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var resp evaluation.ScoreResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
	assert.Equal(t, 1, resp.Breakdown.RPre)
	assert.Equal(t, 2, resp.Breakdown.GroupSize)
}

func TestHandleLabeled_LengthMismatch(t *testing.T) {
	h := newTestHandler(t)

	res, err := h.handleLabeled(context.Background(), call(ToolLabeled, map[string]any{
		"target":       "cat",
		"labels":       []any{"dog", "cat"},
		"similarities": []any{0.9},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleRun(t *testing.T) {
	h := newTestHandler(t)

	res, err := h.handleRun(context.Background(), call(ToolRun, map[string]any{
		"queries": []any{
			map[string]any{"id": "q1", "items": []any{map[string]any{"score": 1.0, "relevant": true}}},
			map[string]any{"id": "q2", "items": []any{map[string]any{"score": 1.0, "relevant": false}}},
		},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var report evaluation.RunReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &report))
	require.NotNil(t, report.Summary)
	assert.Equal(t, 2, report.Summary.QueryCount)
	assert.InDelta(t, 0.5, report.Summary.MeanTsRR, 1e-12)
	assert.Equal(t, 1, report.Summary.NoRelevant)
}

func TestHandleRun_Empty(t *testing.T) {
	h := newTestHandler(t)

	res, err := h.handleRun(context.Background(), call(ToolRun, map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTools(t *testing.T) {
	h := newTestHandler(t)

	var names []string
	for _, st := range h.tools() {
		names = append(names, st.Tool.Name)
		assert.NotNil(t, st.Handler)
	}
	assert.Equal(t, []string{ToolScore, ToolLabeled, ToolRun}, names)

	require.NotNil(t, NewServer(h, ""))
}
