// Package memory provides the per-user long-term memory store.
// A store keeps a bounded set of importance-scored facts extracted from conversation turns.
package memory

import "time"

// Metadata keys attached to memory items.
const (
	MetaRole  = "role"
	MetaTopic = "topic"
)

// Defaults for a new Store.
const (
	DefaultCapacity            = 100
	DefaultImportanceThreshold = 0.5
	DefaultQueryLimit          = 5
)

// Item represents one retained fact.
type Item struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Importance float64           `json:"importance"` // 0-1
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// seq is the insertion sequence, used to break timestamp ties.
	seq uint64
}

// Topic returns the topic the item was recorded under.
func (i Item) Topic() string {
	return i.Metadata[MetaTopic]
}

// Role returns the role of the turn the item was extracted from.
func (i Item) Role() string {
	return i.Metadata[MetaRole]
}

// QueryOptions filters and limits a Query.
type QueryOptions struct {
	// Query is free text handed to the Ranker. The recency ranker ignores it.
	Query string
	// Topic keeps only items recorded under this topic. Empty matches all items.
	Topic string
	// MinImportance drops items scored below it when set.
	MinImportance *float64
	// Limit caps the result size (default 5).
	Limit int
}

// Ranker orders candidate items for a query, best first.
// Implementations must not modify the input slice.
type Ranker interface {
	Rank(query string, items []Item) []Item
}

// RankerFunc adapts a function to the Ranker interface.
type RankerFunc func(query string, items []Item) []Item

// Rank calls f.
func (f RankerFunc) Rank(query string, items []Item) []Item {
	return f(query, items)
}
