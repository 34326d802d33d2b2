package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/tsrr/internal/bus"
	"github.com/ricesearch/tsrr/internal/config"
	reqctx "github.com/ricesearch/tsrr/internal/pkg/context"
	apperrors "github.com/ricesearch/tsrr/internal/pkg/errors"
	"github.com/ricesearch/tsrr/internal/pkg/logger"
)

// Recorder receives scoring telemetry.
// This avoids import cycles with the metrics package.
type Recorder interface {
	RecordScore(variant string, score float64, noRelevant bool)
	RecordInvalidInput(variant string)
	RecordRun(variant string, queries int, duration time.Duration)
}

// Settings are the run-level knobs of an Evaluator.
type Settings struct {
	Options
	Reduction Reduction
	Workers   int
}

// DefaultSettings returns the combinatorial variant, mean reduction and four workers.
func DefaultSettings() Settings {
	return Settings{Options: DefaultOptions(), Reduction: ReductionMean, Workers: 4}
}

// SettingsFromConfig maps the metric section of the application config.
func SettingsFromConfig(c config.MetricConfig) Settings {
	return Settings{
		Options: Options{
			Variant: Variant(c.Variant),
			Alpha:   c.Alpha,
		},
		Reduction: Reduction(c.Reduction),
		Workers:   c.Workers,
	}
}

// Evaluator scores queries and whole runs.
type Evaluator struct {
	settings Settings
	scorer   Scorer
	bus      bus.Bus
	recorder Recorder
	log      *logger.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithBus publishes run completion events on b.
func WithBus(b bus.Bus) EvaluatorOption {
	return func(e *Evaluator) { e.bus = b }
}

// WithRecorder sends scoring telemetry to r.
func WithRecorder(r Recorder) EvaluatorOption {
	return func(e *Evaluator) { e.recorder = r }
}

// WithLogger sets the evaluator's logger.
func WithLogger(l *logger.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.log = l }
}

// NewEvaluator creates an evaluator. Invalid settings yield an InvalidInputError.
func NewEvaluator(s Settings, opts ...EvaluatorOption) (*Evaluator, error) {
	if s.Reduction == "" {
		s.Reduction = ReductionMean
	}
	if !s.Reduction.IsValid() {
		return nil, apperrors.InvalidInputError("unknown reduction %q", string(s.Reduction))
	}
	if s.Workers < 1 {
		s.Workers = 1
	}

	scorer, err := NewScorer(s.Options)
	if err != nil {
		return nil, err
	}

	e := &Evaluator{
		settings: s,
		scorer:   scorer,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Settings returns the evaluator's settings.
func (e *Evaluator) Settings() Settings {
	return e.settings
}

// WithSettings returns a copy of e that scores with s and shares its bus,
// recorder and logger.
func (e *Evaluator) WithSettings(s Settings) (*Evaluator, error) {
	return NewEvaluator(s, WithBus(e.bus), WithRecorder(e.recorder), WithLogger(e.log))
}

// EvaluateQuery scores one query with TsRR and the baselines.
func (e *Evaluator) EvaluateQuery(ctx context.Context, q Query) (*QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	variant := string(e.scorer.Name())
	b, err := e.scorer.Score(q.Items)
	if err != nil {
		if e.recorder != nil {
			e.recorder.RecordInvalidInput(variant)
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && q.ID != "" {
			appErr.WithDetail("query_id", q.ID)
		}
		return nil, err
	}

	if e.recorder != nil {
		e.recorder.RecordScore(variant, b.Score, b.NoRelevant)
	}
	if b.NoRelevant {
		e.log.WithContext(ctx).Debug("no relevant document", "query_id", q.ID)
	}

	return &QueryResult{
		QueryID:   q.ID,
		TsRR:      b.Score,
		RR:        ReciprocalRank(q.Items),
		PRR:       PessimisticRR(q.Items),
		TaRR:      TieAwareRR(q.Items),
		Breakdown: b,
	}, nil
}

// EvaluateRun scores every query of run on a bounded worker pool. Results
// keep run order (see Run.Order). The first invalid query cancels the rest
// and its error is returned.
func (e *Evaluator) EvaluateRun(ctx context.Context, run Run) (*RunReport, error) {
	queries, err := run.Resolve()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := e.log.WithContext(ctx).WithRun(runID)
	ctx = reqctx.WithRunID(ctx, runID)
	start := time.Now()

	results := make([]QueryResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.Workers)
	for i, q := range queries {
		g.Go(func() error {
			res, err := e.EvaluateQuery(gctx, q)
			if err != nil {
				return err
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("evaluation aborted", "queries", len(queries))
		e.publishFailed(ctx, runID, err)
		return nil, err
	}

	report := &RunReport{
		RunID:     runID,
		Variant:   e.scorer.Name(),
		Reduction: e.settings.Reduction,
		Results:   results,
	}
	if report.Variant == VariantLogPenalty {
		report.Alpha = e.settings.Alpha
	}

	summary := Summarize(results)
	if e.settings.Reduction == ReductionMean {
		report.Summary = summary
	}

	elapsed := time.Since(start)
	if e.recorder != nil {
		e.recorder.RecordRun(string(report.Variant), len(results), elapsed)
	}
	log.Info("evaluation completed",
		"variant", string(report.Variant),
		"queries", summary.QueryCount,
		"mean_tsrr", summary.MeanTsRR,
		"no_relevant", summary.NoRelevant,
		"duration_ms", elapsed.Milliseconds(),
	)

	e.publishCompleted(ctx, report, summary)
	return report, nil
}

// CompletedEvent is the payload of bus.TopicEvaluationCompleted.
type CompletedEvent struct {
	RunID      string  `json:"run_id"`
	Variant    Variant `json:"variant"`
	Alpha      float64 `json:"alpha,omitempty"`
	QueryCount int     `json:"query_count"`
	MeanTsRR   float64 `json:"mean_tsrr"`
	NoRelevant int     `json:"no_relevant"`
}

func (e *Evaluator) publishCompleted(ctx context.Context, report *RunReport, summary *Summary) {
	if e.bus == nil {
		return
	}

	event := bus.Event{
		ID:            uuid.NewString(),
		Type:          bus.TopicEvaluationCompleted,
		Source:        bus.SourceEvaluator,
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: report.RunID,
		Payload: CompletedEvent{
			RunID:      report.RunID,
			Variant:    report.Variant,
			Alpha:      report.Alpha,
			QueryCount: summary.QueryCount,
			MeanTsRR:   summary.MeanTsRR,
			NoRelevant: summary.NoRelevant,
		},
	}
	if err := e.bus.Publish(ctx, bus.TopicEvaluationCompleted, event); err != nil {
		e.log.WithContext(ctx).WithError(err).Warn("failed to publish evaluation event")
	}
}

// FailedEvent is the payload of bus.TopicEvaluationFailed.
type FailedEvent struct {
	RunID   string            `json:"run_id"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *Evaluator) publishFailed(ctx context.Context, runID string, cause error) {
	if e.bus == nil {
		return
	}

	payload := FailedEvent{RunID: runID, Code: apperrors.CodeOf(cause), Message: cause.Error()}
	var appErr *apperrors.AppError
	if errors.As(cause, &appErr) {
		payload.Message = appErr.Message
		payload.Details = appErr.Details
	}

	event := bus.Event{
		ID:            uuid.NewString(),
		Type:          bus.TopicEvaluationFailed,
		Source:        bus.SourceEvaluator,
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: runID,
		Payload:       payload,
	}
	// The run context may already be canceled.
	if err := e.bus.Publish(context.WithoutCancel(ctx), bus.TopicEvaluationFailed, event); err != nil {
		e.log.WithContext(ctx).WithError(err).Warn("failed to publish evaluation event")
	}
}

// Summarize averages results. An empty slice yields a zero summary.
func Summarize(results []QueryResult) *Summary {
	summary := &Summary{QueryCount: len(results)}
	if len(results) == 0 {
		return summary
	}

	for _, r := range results {
		summary.MeanTsRR += r.TsRR
		summary.MeanRR += r.RR
		summary.MeanPRR += r.PRR
		summary.MeanTaRR += r.TaRR
		if r.Breakdown.NoRelevant {
			summary.NoRelevant++
		}
	}

	n := float64(len(results))
	summary.MeanTsRR /= n
	summary.MeanRR /= n
	summary.MeanPRR /= n
	summary.MeanTaRR /= n

	return summary
}

// Run is a batch of queries to evaluate together.
type Run struct {
	Queries []Query        `json:"queries,omitempty" yaml:"queries,omitempty"`
	Labeled []LabeledQuery `json:"labeled,omitempty" yaml:"labeled,omitempty"`

	// Order records the interleaving of Queries and Labeled as read from a
	// run file. When it does not cover every query, ranked queries come
	// first, then labeled ones.
	Order []RunEntry `json:"-" yaml:"-"`
}

// RunEntry points at one query of a Run.
type RunEntry struct {
	Labeled bool
	Index   int
}

// Add appends a ranked query and records its position.
func (r *Run) Add(q Query) {
	r.Order = append(r.Order, RunEntry{Index: len(r.Queries)})
	r.Queries = append(r.Queries, q)
}

// AddLabeled appends a labeled query and records its position.
func (r *Run) AddLabeled(lq LabeledQuery) {
	r.Order = append(r.Order, RunEntry{Labeled: true, Index: len(r.Labeled)})
	r.Labeled = append(r.Labeled, lq)
}

// entries returns the query order, falling back to ranked then labeled.
func (r Run) entries() []RunEntry {
	if len(r.Order) == r.Len() {
		return r.Order
	}
	out := make([]RunEntry, 0, r.Len())
	for i := range r.Queries {
		out = append(out, RunEntry{Index: i})
	}
	for i := range r.Labeled {
		out = append(out, RunEntry{Labeled: true, Index: i})
	}
	return out
}

// Len returns the number of queries in the run.
func (r Run) Len() int {
	return len(r.Queries) + len(r.Labeled)
}

// Resolve validates the run and returns every query in ranked form, in
// run order. Queries without an ID are named "#n" after their 1-based
// position; a name already used by an explicit ID gets a "-2", "-3", ...
// suffix.
func (r Run) Resolve() ([]Query, error) {
	if err := ValidateRun(r); err != nil {
		return nil, err
	}

	out := make([]Query, 0, r.Len())
	for _, ent := range r.entries() {
		if !ent.Labeled {
			out = append(out, r.Queries[ent.Index])
			continue
		}
		q, err := r.Labeled[ent.Index].Query()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}

	taken := make(map[string]bool, len(out))
	for _, q := range out {
		if q.ID != "" {
			taken[q.ID] = true
		}
	}
	for i := range out {
		if out[i].ID != "" {
			continue
		}
		name := fmt.Sprintf("#%d", i+1)
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("#%d-%d", i+1, n)
		}
		taken[name] = true
		out[i].ID = name
	}
	return out, nil
}
