package memory

import "slices"

// RecencyRanker orders items most recent first and ignores the query text.
// It is the interim ranking until a relevance ranker is plugged in.
type RecencyRanker struct{}

// Rank returns a newest-first copy of items.
func (RecencyRanker) Rank(_ string, items []Item) []Item {
	ranked := slices.Clone(items)
	slices.SortStableFunc(ranked, newerFirst)
	return ranked
}

var _ Ranker = RecencyRanker{}
