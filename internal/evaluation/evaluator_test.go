package evaluation

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricesearch/tsrr/internal/bus"
	apperrors "github.com/ricesearch/tsrr/internal/pkg/errors"
	"github.com/ricesearch/tsrr/internal/pkg/logger"
)

type fakeRecorder struct {
	mu         sync.Mutex
	scores     []float64
	noRelevant int
	invalid    int
	runs       int
}

func (r *fakeRecorder) RecordScore(variant string, score float64, noRelevant bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, score)
	if noRelevant {
		r.noRelevant++
	}
}

func (r *fakeRecorder) RecordInvalidInput(variant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalid++
}

func (r *fakeRecorder) RecordRun(variant string, queries int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

func sampleRun() Run {
	return Run{
		Queries: []Query{
			{ID: "tied", Items: items(5, false, 5, false, 5, true, 5, false)},
			{ID: "unique", Items: items(0.9, false, 0.8, false, 0.7, true)},
			{ID: "miss", Items: items(1, false, 0.5, false)},
		},
		Labeled: []LabeledQuery{
			{ID: "labeled", Target: "a", Labels: []string{"b", "a"}, Similarities: []float64{0.2, 0.4}},
		},
	}
}

func newTestEvaluator(t *testing.T, s Settings, opts ...EvaluatorOption) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(s, opts...)
	require.NoError(t, err)
	return e
}

func TestEvaluator_EvaluateQuery(t *testing.T) {
	rec := &fakeRecorder{}
	e := newTestEvaluator(t, DefaultSettings(), WithRecorder(rec))

	res, err := e.EvaluateQuery(context.Background(), Query{ID: "q", Items: items(9, false, 7, true, 7, false, 7, false)})
	require.NoError(t, err)

	assert.Equal(t, "q", res.QueryID)
	assert.InDelta(t, 3.0/11.0, res.TsRR, eps)
	assert.Equal(t, 0.5, res.RR)
	assert.Equal(t, 0.25, res.PRR)
	assert.InDelta(t, 1.0/3.0, res.TaRR, eps)
	assert.Equal(t, res.TsRR, res.Breakdown.Score)
	assert.Equal(t, []float64{res.TsRR}, rec.scores)
}

func TestEvaluator_EvaluateQuery_InvalidInput(t *testing.T) {
	rec := &fakeRecorder{}
	e := newTestEvaluator(t, DefaultSettings(), WithRecorder(rec))

	_, err := e.EvaluateQuery(context.Background(), Query{ID: "nan", Items: items(math.NaN(), true)})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeInvalidInput, appErr.Code)
	assert.Equal(t, "nan", appErr.Details["query_id"])
	assert.Equal(t, 1, rec.invalid)
}

func TestEvaluator_EvaluateQuery_CanceledContext(t *testing.T) {
	e := newTestEvaluator(t, DefaultSettings())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.EvaluateQuery(ctx, Query{Items: items(1, true)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluator_EvaluateRun_Mean(t *testing.T) {
	rec := &fakeRecorder{}
	e := newTestEvaluator(t, DefaultSettings(), WithRecorder(rec))

	report, err := e.EvaluateRun(context.Background(), sampleRun())
	require.NoError(t, err)

	require.Len(t, report.Results, 4)
	ids := []string{report.Results[0].QueryID, report.Results[1].QueryID, report.Results[2].QueryID, report.Results[3].QueryID}
	assert.Equal(t, []string{"tied", "unique", "miss", "labeled"}, ids)

	assert.Equal(t, 0.25, report.Results[0].TsRR)
	assert.Equal(t, 1.0/3.0, report.Results[1].TsRR)
	assert.Zero(t, report.Results[2].TsRR)
	assert.Equal(t, 1.0, report.Results[3].TsRR)

	require.NotNil(t, report.Summary)
	assert.Equal(t, 4, report.Summary.QueryCount)
	assert.Equal(t, 1, report.Summary.NoRelevant)
	assert.InDelta(t, (0.25+1.0/3.0+0+1)/4, report.Summary.MeanTsRR, eps)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, VariantCombinatorial, report.Variant)
	assert.Zero(t, report.Alpha)

	assert.Equal(t, 1, rec.runs)
	assert.Equal(t, 1, rec.noRelevant)
	assert.Len(t, rec.scores, 4)
}

func TestEvaluator_EvaluateRun_ReductionNone(t *testing.T) {
	s := DefaultSettings()
	s.Reduction = ReductionNone
	e := newTestEvaluator(t, s)

	report, err := e.EvaluateRun(context.Background(), sampleRun())
	require.NoError(t, err)

	assert.Nil(t, report.Summary)
	assert.Len(t, report.Results, 4)
	assert.Equal(t, ReductionNone, report.Reduction)
}

func TestEvaluator_EvaluateRun_LogPenalty(t *testing.T) {
	s := DefaultSettings()
	s.Variant = VariantLogPenalty
	s.Alpha = 2
	e := newTestEvaluator(t, s)

	report, err := e.EvaluateRun(context.Background(), sampleRun())
	require.NoError(t, err)

	assert.Equal(t, VariantLogPenalty, report.Variant)
	assert.Equal(t, 2.0, report.Alpha)
	// Every irrelevant item shares the hit's score: full penalty.
	assert.Zero(t, report.Results[0].TsRR)
	assert.Equal(t, 1.0/3.0, report.Results[1].TsRR)
}

func TestEvaluator_EvaluateRun_Empty(t *testing.T) {
	e := newTestEvaluator(t, DefaultSettings())

	report, err := e.EvaluateRun(context.Background(), Run{})
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Equal(t, &Summary{}, report.Summary)
}

func TestEvaluator_EvaluateRun_ManyQueriesKeepOrder(t *testing.T) {
	s := DefaultSettings()
	s.Workers = 3
	e := newTestEvaluator(t, s)

	var run Run
	for i := 0; i < 50; i++ {
		list := make([]RankedItem, i+1)
		for j := range list {
			list[j] = RankedItem{Score: float64(100 - j), Relevant: j == i}
		}
		run.Queries = append(run.Queries, Query{ID: fmt.Sprintf("q%02d", i), Items: list})
	}

	report, err := e.EvaluateRun(context.Background(), run)
	require.NoError(t, err)
	for i, r := range report.Results {
		assert.Equal(t, fmt.Sprintf("q%02d", i), r.QueryID)
		assert.Equal(t, 1/float64(i+1), r.TsRR)
	}
}

func TestRun_ResolvePositionalIDsAvoidExplicitOnes(t *testing.T) {
	run := Run{Queries: []Query{
		{Items: items(1, true)},
		{ID: "#1", Items: items(2, false, 1, true)},
		{ID: "#3-2", Items: items(1, true)},
		{Items: items(1, true)},
	}}

	queries, err := run.Resolve()
	require.NoError(t, err)

	ids := make([]string, len(queries))
	seen := make(map[string]bool)
	for i, q := range queries {
		ids[i] = q.ID
		assert.False(t, seen[q.ID], "duplicate id %q", q.ID)
		seen[q.ID] = true
	}
	assert.Equal(t, []string{"#1-2", "#1", "#3-2", "#4"}, ids)
}

func TestRun_ResolveWithoutOrderPutsRankedFirst(t *testing.T) {
	run := sampleRun()
	queries, err := run.Resolve()
	require.NoError(t, err)
	require.Len(t, queries, 4)
	assert.Equal(t, "tied", queries[0].ID)
	assert.Equal(t, "labeled", queries[3].ID)
}

func TestRun_AddRecordsOrder(t *testing.T) {
	var run Run
	run.AddLabeled(LabeledQuery{ID: "l", Target: "a", Labels: []string{"a"}, Similarities: []float64{1}})
	run.Add(Query{ID: "r", Items: items(1, true)})

	assert.Equal(t, []RunEntry{{Labeled: true, Index: 0}, {Index: 0}}, run.Order)
	queries, err := run.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "l", queries[0].ID)
	assert.Equal(t, "r", queries[1].ID)
}

func TestEvaluator_EvaluateRun_LogsRunID(t *testing.T) {
	var buf syncBuffer
	e := newTestEvaluator(t, DefaultSettings(), WithLogger(logger.NewWithWriter(&buf, "info", "json")))

	report, err := e.EvaluateRun(context.Background(), sampleRun())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"run_id":"`+report.RunID+`"`)
}

func TestEvaluator_EvaluateRun_InvalidQueryAborts(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	failed := make(chan bus.Event, 1)
	require.NoError(t, b.Subscribe(context.Background(), bus.TopicEvaluationFailed, func(ctx context.Context, ev bus.Event) error {
		failed <- ev
		return nil
	}))

	e := newTestEvaluator(t, DefaultSettings(), WithBus(b))
	run := sampleRun()
	run.Queries = append(run.Queries, Query{ID: "empty"})

	report, err := e.EvaluateRun(context.Background(), run)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, apperrors.IsInvalidInput(err))

	select {
	case ev := <-failed:
		var payload FailedEvent
		require.NoError(t, bus.DecodePayload(ev, &payload))
		assert.Equal(t, apperrors.CodeInvalidInput, payload.Code)
		assert.Equal(t, "empty", payload.Details["query_id"])
		assert.Equal(t, ev.CorrelationID, payload.RunID)
	case <-time.After(time.Second):
		t.Fatal("no failure event")
	}
}

func TestEvaluator_EvaluateRun_ValidationErrors(t *testing.T) {
	e := newTestEvaluator(t, DefaultSettings())

	tests := []struct {
		name string
		run  Run
	}{
		{"duplicate ids", Run{Queries: []Query{{ID: "a", Items: items(1, true)}, {ID: "a", Items: items(1, true)}}}},
		{"duplicate across kinds", Run{
			Queries: []Query{{ID: "a", Items: items(1, true)}},
			Labeled: []LabeledQuery{{ID: "a", Target: "x", Labels: []string{"x"}, Similarities: []float64{1}}},
		}},
		{"label mismatch", Run{Labeled: []LabeledQuery{{ID: "l", Target: "x", Labels: []string{"x"}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.EvaluateRun(context.Background(), tt.run)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidInput(err))
		})
	}
}

func TestEvaluator_PublishesCompletedEvent(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	completed := make(chan bus.Event, 1)
	require.NoError(t, b.Subscribe(context.Background(), bus.TopicEvaluationCompleted, func(ctx context.Context, ev bus.Event) error {
		completed <- ev
		return nil
	}))

	e := newTestEvaluator(t, DefaultSettings(), WithBus(b))
	report, err := e.EvaluateRun(context.Background(), sampleRun())
	require.NoError(t, err)

	select {
	case ev := <-completed:
		assert.Equal(t, bus.TopicEvaluationCompleted, ev.Type)
		assert.Equal(t, bus.SourceEvaluator, ev.Source)
		assert.Equal(t, report.RunID, ev.CorrelationID)
		assert.NotEmpty(t, ev.ID)

		var payload CompletedEvent
		require.NoError(t, bus.DecodePayload(ev, &payload))
		assert.Equal(t, report.RunID, payload.RunID)
		assert.Equal(t, 4, payload.QueryCount)
		assert.InDelta(t, report.Summary.MeanTsRR, payload.MeanTsRR, eps)
	case <-time.After(time.Second):
		t.Fatal("no completion event")
	}
}

type failingBus struct{}

func (failingBus) Publish(context.Context, string, bus.Event) error {
	return apperrors.BusError("broker down", nil)
}
func (failingBus) Subscribe(context.Context, string, bus.Handler) error { return nil }
func (failingBus) Close() error                                       { return nil }

func TestEvaluator_PublishFailureDoesNotFailRun(t *testing.T) {
	e := newTestEvaluator(t, DefaultSettings(), WithBus(failingBus{}))

	report, err := e.EvaluateRun(context.Background(), sampleRun())
	require.NoError(t, err)
	assert.Len(t, report.Results, 4)
}

func TestNewEvaluator_InvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
	}{
		{"unknown reduction", Settings{Options: DefaultOptions(), Reduction: "sum"}},
		{"unknown variant", Settings{Options: Options{Variant: "x"}}},
		{"bad alpha", Settings{Options: Options{Variant: VariantLogPenalty, Alpha: 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvaluator(tt.s)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidInput(err))
		})
	}
}

func TestEvaluator_WithSettings(t *testing.T) {
	rec := &fakeRecorder{}
	e := newTestEvaluator(t, DefaultSettings(), WithRecorder(rec))

	lp, err := e.WithSettings(Settings{Options: Options{Variant: VariantLogPenalty, Alpha: 1}, Workers: 0})
	require.NoError(t, err)
	assert.Equal(t, VariantLogPenalty, lp.Settings().Variant)
	assert.Equal(t, ReductionMean, lp.Settings().Reduction)
	assert.Equal(t, 1, lp.Settings().Workers)

	_, err = lp.EvaluateQuery(context.Background(), Query{Items: items(1, true)})
	require.NoError(t, err)
	assert.Len(t, rec.scores, 1)
}

func TestSummarize(t *testing.T) {
	results := []QueryResult{
		{TsRR: 1, RR: 1, PRR: 1, TaRR: 1},
		{TsRR: 0.5, RR: 1, PRR: 0.25, TaRR: 0.5},
		{Breakdown: Breakdown{NoRelevant: true}},
	}

	s := Summarize(results)
	assert.Equal(t, 3, s.QueryCount)
	assert.InDelta(t, 0.5, s.MeanTsRR, eps)
	assert.InDelta(t, 2.0/3.0, s.MeanRR, eps)
	assert.InDelta(t, 1.25/3, s.MeanPRR, eps)
	assert.InDelta(t, 0.5, s.MeanTaRR, eps)
	assert.Equal(t, 1, s.NoRelevant)

	assert.Equal(t, &Summary{}, Summarize(nil))
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
