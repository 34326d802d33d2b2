package evaluation

import "math"

// TieGroup is the half-open index range [Start, End) of a maximal run of
// consecutive items with exactly equal scores.
type TieGroup struct {
	Start int
	End   int
}

// Len returns the number of items in the group.
func (g TieGroup) Len() int {
	return g.End - g.Start
}

// TieGroups partitions items into maximal runs of equal scores.
// Equality is exact float64 comparison; no tolerance is applied.
func TieGroups(items []RankedItem) []TieGroup {
	if len(items) == 0 {
		return nil
	}

	groups := make([]TieGroup, 0, len(items))
	start := 0
	for i := 1; i < len(items); i++ {
		if items[i].Score != items[i-1].Score {
			groups = append(groups, TieGroup{Start: start, End: i})
			start = i
		}
	}
	return append(groups, TieGroup{Start: start, End: len(items)})
}

// firstRelevant locates the tie group of the first relevant item.
type firstRelevant struct {
	group           TieGroup
	relevantInGroup int
	totalIrrelevant int
}

// locateFirstRelevant scans items once. ok is false when nothing is relevant.
func locateFirstRelevant(items []RankedItem) (fr firstRelevant, ok bool) {
	first := -1
	for i, it := range items {
		if it.Relevant {
			if first < 0 {
				first = i
			}
		} else {
			fr.totalIrrelevant++
		}
	}
	if first < 0 {
		return fr, false
	}

	start := first
	for start > 0 && items[start-1].Score == items[first].Score {
		start--
	}
	end := first + 1
	for end < len(items) && items[end].Score == items[first].Score {
		end++
	}
	fr.group = TieGroup{Start: start, End: end}

	for i := start; i < end; i++ {
		if items[i].Relevant {
			fr.relevantInGroup++
		}
	}
	return fr, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
