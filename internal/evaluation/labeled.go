package evaluation

import (
	"sort"

	apperrors "github.com/ricesearch/tsrr/internal/pkg/errors"
)

// LabeledQuery is an unsorted result list judged by label: a result is
// relevant when its label equals Target.
type LabeledQuery struct {
	ID           string    `json:"id" yaml:"id"`
	Target       string    `json:"target" yaml:"target"`
	Labels       []string  `json:"labels" yaml:"labels"`
	Similarities []float64 `json:"similarities" yaml:"similarities"`
}

// Ranked orders the results by similarity, highest first, and marks
// relevance. The sort is stable so equal similarities keep input order;
// TsRR does not depend on order inside a tie group.
func (q LabeledQuery) Ranked() ([]RankedItem, error) {
	if len(q.Labels) != len(q.Similarities) {
		return nil, apperrors.InvalidInputError("labels and similarities differ in length (%d != %d)",
			len(q.Labels), len(q.Similarities)).WithDetail("query_id", q.ID)
	}

	items := make([]RankedItem, len(q.Labels))
	for i, label := range q.Labels {
		items[i] = RankedItem{Score: q.Similarities[i], Relevant: label == q.Target}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	return items, nil
}

// Query converts q into an already-ranked Query.
func (q LabeledQuery) Query() (Query, error) {
	items, err := q.Ranked()
	if err != nil {
		return Query{}, err
	}
	return Query{ID: q.ID, Items: items}, nil
}
