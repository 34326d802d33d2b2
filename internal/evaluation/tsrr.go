package evaluation

import (
	"math"

	apperrors "github.com/ricesearch/tsrr/internal/pkg/errors"
)

// Scorer computes Tie-sensitive Reciprocal Rank for one ranked list.
// Implementations are stateless and safe for concurrent use.
type Scorer interface {
	Name() Variant
	Score(items []RankedItem) (Breakdown, error)
}

// NewScorer returns the scorer selected by opts. An empty variant selects
// the combinatorial scorer. Alpha is checked only for the log-penalty variant.
func NewScorer(opts Options) (Scorer, error) {
	if opts.Variant == "" {
		return CombinatorialScorer{}, nil
	}
	if !opts.Variant.IsValid() {
		return nil, apperrors.InvalidInputError("unknown variant %q", string(opts.Variant))
	}
	if opts.Variant == VariantLogPenalty {
		if err := validateAlpha(opts.Alpha); err != nil {
			return nil, err
		}
		return LogPenaltyScorer{Alpha: opts.Alpha}, nil
	}
	return CombinatorialScorer{}, nil
}

// Score scores items with the variant selected by opts.
// A list without relevant items scores 0 and is not an error.
func Score(items []RankedItem, opts Options) (float64, error) {
	s, err := NewScorer(opts)
	if err != nil {
		return 0, err
	}
	b, err := s.Score(items)
	if err != nil {
		return 0, err
	}
	return b.Score, nil
}

// CombinatorialScorer blends the expected rank of the first relevant item
// under random tie-breaking with its worst-case rank, weighted by the share
// of all irrelevant items that sit inside its tie group.
type CombinatorialScorer struct{}

// Name implements Scorer.
func (CombinatorialScorer) Name() Variant { return VariantCombinatorial }

// Score implements Scorer.
func (CombinatorialScorer) Score(items []RankedItem) (Breakdown, error) {
	b, fr, ok, err := prepare(VariantCombinatorial, items)
	if err != nil || !ok {
		return b, err
	}

	b.ExpectedRank = ExpectedFirstRelevantRank(fr.group.Len(), fr.relevantInGroup)
	b.WorstRank = float64(b.IrrelevantInGroup + 1)
	if b.TotalIrrelevant > 0 {
		b.Tau = float64(b.IrrelevantInGroup) / float64(b.TotalIrrelevant)
	}
	b.BlendedRank = (1-b.Tau)*b.ExpectedRank + b.Tau*b.WorstRank
	b.Score = 1 / (float64(b.RPre) + b.BlendedRank)
	return b, nil
}

// LogPenaltyScorer discounts 1/(r_pre+1) by how many of the retrieved
// irrelevant items share the first relevant item's score. Higher Alpha
// makes the metric more sensitive to ties.
type LogPenaltyScorer struct {
	Alpha float64
}

// Name implements Scorer.
func (LogPenaltyScorer) Name() Variant { return VariantLogPenalty }

// Score implements Scorer.
func (s LogPenaltyScorer) Score(items []RankedItem) (Breakdown, error) {
	if err := validateAlpha(s.Alpha); err != nil {
		return Breakdown{Variant: VariantLogPenalty}, err
	}

	b, _, ok, err := prepare(VariantLogPenalty, items)
	if err != nil || !ok {
		return b, err
	}

	if b.TotalIrrelevant == 0 {
		b.Score = 1
		return b, nil
	}

	ratio := math.Log1p(float64(b.IrrelevantInGroup)) / math.Log1p(float64(b.TotalIrrelevant))
	b.Penalty = math.Pow(ratio, 1/s.Alpha)
	b.Score = (1 - b.Penalty) / float64(b.RPre+1)
	return b, nil
}

// prepare validates items and fills the group counts shared by both variants.
// ok is false when no item is relevant; b is then the final zero-score breakdown.
func prepare(v Variant, items []RankedItem) (b Breakdown, fr firstRelevant, ok bool, err error) {
	b.Variant = v
	if err = validateItems(items); err != nil {
		return b, fr, false, err
	}

	fr, ok = locateFirstRelevant(items)
	b.TotalIrrelevant = fr.totalIrrelevant
	if !ok {
		b.NoRelevant = true
		return b, fr, false, nil
	}

	b.RPre = fr.group.Start
	b.GroupSize = fr.group.Len()
	b.RelevantInGroup = fr.relevantInGroup
	b.IrrelevantInGroup = b.GroupSize - b.RelevantInGroup
	return b, fr, true, nil
}

func validateAlpha(alpha float64) error {
	if !(alpha > 0) || math.IsInf(alpha, 1) {
		return apperrors.InvalidInputError("alpha must be a positive finite number, got %v", alpha)
	}
	return nil
}

// ExpectedFirstRelevantRank returns the expected 1-based position of the
// first relevant item when groupSize items, relevant of them relevant, are
// shuffled uniformly. The n-k irrelevant items split into k+1 gaps around the
// relevant ones, so (n-k)/(k+1) of them precede the first hit on average,
// giving (n+1)/(k+1). It returns 0 when relevant is outside [1, groupSize].
func ExpectedFirstRelevantRank(groupSize, relevant int) float64 {
	if relevant < 1 || relevant > groupSize {
		return 0
	}
	return float64(groupSize+1) / float64(relevant+1)
}
