package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ricesearch/tsrr/internal/pkg/errors"
)

func TestTieGroups(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   []TieGroup
	}{
		{"empty", nil, nil},
		{"single", []float64{1}, []TieGroup{{0, 1}}},
		{"no ties", []float64{3, 2, 1}, []TieGroup{{0, 1}, {1, 2}, {2, 3}}},
		{"all tied", []float64{5, 5, 5, 5}, []TieGroup{{0, 4}}},
		{"mixed", []float64{9, 7, 7, 7, 2, 2}, []TieGroup{{0, 1}, {1, 4}, {4, 6}}},
		{"equal values apart stay separate", []float64{1, 2, 1}, []TieGroup{{0, 1}, {1, 2}, {2, 3}}},
		{"near-equal values are not tied", []float64{0.3, 0.1 + 0.2}, []TieGroup{{0, 1}, {1, 2}}},
		{"signed zeros tie", []float64{0, math.Copysign(0, -1)}, []TieGroup{{0, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := make([]RankedItem, len(tt.scores))
			for i, s := range tt.scores {
				list[i].Score = s
			}

			got := TieGroups(list)
			assert.Equal(t, tt.want, got)

			// Groups partition the list in order.
			next := 0
			for _, g := range got {
				assert.Equal(t, next, g.Start)
				assert.Positive(t, g.Len())
				next = g.End
			}
			assert.Equal(t, len(list), next)
		})
	}
}

func TestLocateFirstRelevant(t *testing.T) {
	fr, ok := locateFirstRelevant(items(9, false, 7, false, 7, true, 7, true, 7, false, 1, true, 0, false))
	require.True(t, ok)

	assert.Equal(t, TieGroup{Start: 1, End: 5}, fr.group)
	assert.Equal(t, 2, fr.relevantInGroup)
	assert.Equal(t, 4, fr.totalIrrelevant)

	_, ok = locateFirstRelevant(items(1, false))
	assert.False(t, ok)
}

func TestBaselines(t *testing.T) {
	tests := []struct {
		name          string
		list          []RankedItem
		rr, prr, tarr float64
	}{
		{"hit first", items(3, true, 2, false), 1, 1, 1},
		{"unique hit at three", items(3, false, 2, false, 1, true), 1.0 / 3, 1.0 / 3, 1.0 / 3},
		{"hit listed first in a tie of four", items(5, true, 5, false, 5, false, 5, false), 1, 0.25, 1.0 / 2.5},
		{"two hits in a tie of four after one", items(9, false, 5, false, 5, true, 5, true, 5, false), 1.0 / 3, 1.0 / 4, 1 / (1 + 5.0/3)},
		{"no hit", items(1, false, 1, false), 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.rr, ReciprocalRank(tt.list), eps)
			assert.InDelta(t, tt.prr, PessimisticRR(tt.list), eps)
			assert.InDelta(t, tt.tarr, TieAwareRR(tt.list), eps)
		})
	}
}

func TestLabeledQuery_Ranked(t *testing.T) {
	q := LabeledQuery{
		ID:           "q1",
		Target:       "cat",
		Labels:       []string{"dog", "cat", "cow", "cat"},
		Similarities: []float64{0.8, 0.9, 0.9, 0.1},
	}

	ranked, err := q.Ranked()
	require.NoError(t, err)
	assert.Equal(t, []RankedItem{
		{Score: 0.9, Relevant: true},
		{Score: 0.9, Relevant: false},
		{Score: 0.8, Relevant: false},
		{Score: 0.1, Relevant: true},
	}, ranked)

	// Input slices are untouched.
	assert.Equal(t, []float64{0.8, 0.9, 0.9, 0.1}, q.Similarities)

	b := combinatorial(t, ranked)
	assert.Equal(t, 0, b.RPre)
	assert.Equal(t, 2, b.GroupSize)
	assert.Equal(t, 2, b.TotalIrrelevant)
}

func TestLabeledQuery_LogPenaltyMatchesLabelInterface(t *testing.T) {
	// Target ranked first with nothing tied: no penalty.
	q := LabeledQuery{Target: "label1", Labels: []string{"label2", "label1", "label3"}, Similarities: []float64{0.8, 0.9, 0.7}}
	ranked, err := q.Ranked()
	require.NoError(t, err)

	score, err := Score(ranked, Options{Variant: VariantLogPenalty, Alpha: DefaultAlpha})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	// Target second behind one irrelevant, nothing tied.
	q = LabeledQuery{Target: "label2", Labels: []string{"label2", "labelB"}, Similarities: []float64{0.85, 0.95}}
	ranked, err = q.Ranked()
	require.NoError(t, err)
	score, err = Score(ranked, Options{Variant: VariantLogPenalty, Alpha: DefaultAlpha})
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)
}

func TestLabeledQuery_LengthMismatch(t *testing.T) {
	q := LabeledQuery{ID: "bad", Target: "a", Labels: []string{"a", "b"}, Similarities: []float64{1}}

	_, err := q.Ranked()
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = q.Query()
	assert.Error(t, err)
}
