package evaluation

import (
	"fmt"

	apperrors "github.com/ricesearch/tsrr/internal/pkg/errors"
)

// RankedItem is one retrieved document in rank order.
type RankedItem struct {
	Score    float64 `json:"score" yaml:"score"`
	Relevant bool    `json:"relevant" yaml:"relevant"`
}

// Variant selects the TsRR formula.
type Variant string

const (
	// VariantCombinatorial blends the expected in-group rank with the worst case.
	VariantCombinatorial Variant = "combinatorial"
	// VariantLogPenalty discounts 1/(r_pre+1) by a log-scaled tie penalty.
	VariantLogPenalty Variant = "log-penalty"
)

// DefaultAlpha is the log-penalty sensitivity used when none is given.
const DefaultAlpha = 0.5

// IsValid reports whether v names a known variant.
func (v Variant) IsValid() bool {
	switch v {
	case VariantCombinatorial, VariantLogPenalty:
		return true
	}
	return false
}

// Reduction controls how per-query scores are aggregated for a run.
type Reduction string

const (
	ReductionMean Reduction = "mean"
	ReductionNone Reduction = "none"
)

// IsValid reports whether r names a known reduction.
func (r Reduction) IsValid() bool {
	return r == ReductionMean || r == ReductionNone
}

// Options configures a scorer. Alpha is only read by the log-penalty variant.
type Options struct {
	Variant Variant `json:"variant" yaml:"variant"`
	Alpha   float64 `json:"alpha,omitempty" yaml:"alpha,omitempty"`
}

// DefaultOptions returns the combinatorial variant with the default alpha.
func DefaultOptions() Options {
	return Options{Variant: VariantCombinatorial, Alpha: DefaultAlpha}
}

// Breakdown exposes the intermediate quantities of one scoring call.
// Fields that a variant does not use stay zero.
type Breakdown struct {
	Variant Variant `json:"variant"`

	// NoRelevant is set when the list holds no relevant item; Score is 0.
	NoRelevant bool `json:"no_relevant,omitempty"`

	RPre              int `json:"r_pre"`               // items strictly before G
	GroupSize         int `json:"group_size"`          // |G|
	RelevantInGroup   int `json:"relevant_in_group"`   // k
	IrrelevantInGroup int `json:"irrelevant_in_group"` // |G_irr|
	TotalIrrelevant   int `json:"total_irrelevant"`    // N_irr

	Tau          float64 `json:"tau,omitempty"`
	ExpectedRank float64 `json:"expected_rank,omitempty"` // E[L]
	WorstRank    float64 `json:"worst_rank,omitempty"`    // L_max
	BlendedRank  float64 `json:"blended_rank,omitempty"`  // E_tau[L]
	Penalty      float64 `json:"penalty,omitempty"`       // log-penalty term

	Score float64 `json:"score"`
}

// Err returns ErrNoRelevantDocument when the list held no relevant item.
func (b Breakdown) Err() error {
	if b.NoRelevant {
		return apperrors.ErrNoRelevantDocument
	}
	return nil
}

// Query is an already-ranked list of results for one information need.
type Query struct {
	ID    string       `json:"id" yaml:"id"`
	Items []RankedItem `json:"items" yaml:"items"`
}

// QueryResult holds TsRR and the glossary baselines for one query.
type QueryResult struct {
	QueryID   string    `json:"query_id"`
	TsRR      float64   `json:"tsrr"`
	RR        float64   `json:"rr"`
	PRR       float64   `json:"prr"`
	TaRR      float64   `json:"ta_rr"`
	Breakdown Breakdown `json:"breakdown"`
}

// Summary aggregates a run by arithmetic mean.
type Summary struct {
	QueryCount int     `json:"query_count"`
	MeanTsRR   float64 `json:"mean_tsrr"`
	MeanRR     float64 `json:"mean_rr"`
	MeanPRR    float64 `json:"mean_prr"`
	MeanTaRR   float64 `json:"mean_ta_rr"`
	NoRelevant int     `json:"no_relevant"` // queries scored 0 for lack of a relevant item
}

// RunReport is the outcome of evaluating a run.
type RunReport struct {
	RunID     string        `json:"run_id"`
	Variant   Variant       `json:"variant"`
	Alpha     float64       `json:"alpha,omitempty"`
	Reduction Reduction     `json:"reduction"`
	Results   []QueryResult `json:"results"`
	Summary   *Summary      `json:"summary,omitempty"`
}

// validateItems rejects empty lists and non-finite scores.
func validateItems(items []RankedItem) error {
	if len(items) == 0 {
		return apperrors.InvalidInputError("ranked list is empty")
	}
	for i, it := range items {
		if !isFinite(it.Score) {
			return apperrors.InvalidInputError("score at rank %d is not finite (%v)", i+1, it.Score).
				WithDetail("rank", fmt.Sprintf("%d", i+1))
		}
	}
	return nil
}
