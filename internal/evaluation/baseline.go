package evaluation

// Baselines from the tie-handling literature, reported next to TsRR.
// Items are assumed to have passed validation; each returns 0 when no item
// is relevant.

// ReciprocalRank is classical RR: ties are broken by list order.
func ReciprocalRank(items []RankedItem) float64 {
	for i, it := range items {
		if it.Relevant {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// PessimisticRR places the first relevant item after every irrelevant item
// of its tie group.
func PessimisticRR(items []RankedItem) float64 {
	fr, ok := locateFirstRelevant(items)
	if !ok {
		return 0
	}
	irr := fr.group.Len() - fr.relevantInGroup
	return 1.0 / float64(fr.group.Start+irr+1)
}

// TieAwareRR uses the expected rank of the first relevant item under
// uniformly random tie-breaking inside its group.
func TieAwareRR(items []RankedItem) float64 {
	fr, ok := locateFirstRelevant(items)
	if !ok {
		return 0
	}
	return 1.0 / (float64(fr.group.Start) + ExpectedFirstRelevantRank(fr.group.Len(), fr.relevantInGroup))
}
