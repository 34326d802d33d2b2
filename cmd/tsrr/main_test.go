package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricesearch/tsrr/internal/evaluation"
)

const sampleRun = `{"id":"tied","items":[{"score":9},{"score":7,"relevant":true},{"score":7},{"score":7}]}
{"id":"labeled","target":"cat","labels":["dog","cat"],"similarities":[0.4,0.2]}
{"id":"miss","items":[{"score":1}]}
`

func writeRun(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TSRR_BUS_TYPE", "memory")
	t.Setenv("TSRR_LOG_LEVEL", "error")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScoreCommand_JSON(t *testing.T) {
	path := writeRun(t, "run.jsonl", sampleRun)

	out, err := execute(t, "score", path, "--format", "json")
	require.NoError(t, err)

	var report evaluation.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Results, 3)
	assert.Equal(t, "tied", report.Results[0].QueryID)
	assert.InDelta(t, 3.0/11.0, report.Results[0].TsRR, 1e-12)
	assert.Equal(t, 0.5, report.Results[1].TsRR)
	assert.Equal(t, 0.0, report.Results[2].TsRR)
	require.NotNil(t, report.Summary)
	assert.Equal(t, 1, report.Summary.NoRelevant)
}

func TestScoreCommand_Text(t *testing.T) {
	path := writeRun(t, "run.jsonl", sampleRun)

	out, err := execute(t, "score", path)
	require.NoError(t, err)

	for _, want := range []string{"TsRR (combinatorial)", "tied", "0.2727", "mean", "queries=3"} {
		assert.Contains(t, out, want)
	}
}

func TestScoreCommand_LogPenaltyFlags(t *testing.T) {
	path := writeRun(t, "run.jsonl", sampleRun)

	out, err := execute(t, "score", path, "--variant", "log-penalty", "--alpha", "2", "--reduction", "none", "-f", "json")
	require.NoError(t, err)

	var report evaluation.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, evaluation.VariantLogPenalty, report.Variant)
	assert.Equal(t, 2.0, report.Alpha)
	assert.Nil(t, report.Summary)
}

func TestScoreCommand_Errors(t *testing.T) {
	good := writeRun(t, "run.jsonl", sampleRun)
	bad := writeRun(t, "bad.jsonl", `{"id":"q","items":[]}`)

	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"score", filepath.Join(t.TempDir(), "nope.jsonl")}},
		{"invalid query", []string{"score", bad}},
		{"zero alpha", []string{"score", good, "--variant", "log-penalty", "--alpha", "0"}},
		{"bad format", []string{"score", good, "--format", "xml"}},
		{"no args", []string{"score"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestWatchCommand_NeedsRemoteBus(t *testing.T) {
	_, err := execute(t, "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka or redis")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "tsrr dev"))
}

func TestRenderReport_LogPenaltyShowsPenalty(t *testing.T) {
	report := &evaluation.RunReport{
		RunID:   "r1",
		Variant: evaluation.VariantLogPenalty,
		Alpha:   0.5,
		Results: []evaluation.QueryResult{{
			QueryID:   "q",
			TsRR:      0.25,
			Breakdown: evaluation.Breakdown{Variant: evaluation.VariantLogPenalty, Penalty: 0.5, GroupSize: 2, RelevantInGroup: 1},
		}},
	}

	out := renderReport(report)
	assert.Contains(t, out, "alpha=0.5")
	assert.Contains(t, out, "p=0.5000")
}
