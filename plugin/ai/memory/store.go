package memory

import (
	"cmp"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Options configures a Store.
type Options struct {
	Capacity            int     // Maximum number of items (default: 100)
	ImportanceThreshold float64 // Items at or above it outrank recency (default: 0.5)
	Ranker              Ranker  // Query ordering (default: most recent first)
	Now                 func() time.Time
}

// Store is a capacity-bounded memory store for one user.
// Items are kept in insertion order; eviction prefers important items and,
// within each importance class, the most recent ones.
// Thread-safe for concurrent access.
type Store struct {
	mu        sync.RWMutex
	items     []Item
	capacity  int
	threshold float64
	ranker    Ranker
	now       func() time.Time
	seq       uint64
}

// NewStore creates a new memory store.
func NewStore(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.ImportanceThreshold <= 0 || opts.ImportanceThreshold > 1 {
		opts.ImportanceThreshold = DefaultImportanceThreshold
	}
	if opts.Ranker == nil {
		opts.Ranker = RecencyRanker{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Store{
		items:     make([]Item, 0, opts.Capacity),
		capacity:  opts.Capacity,
		threshold: opts.ImportanceThreshold,
		ranker:    opts.Ranker,
		now:       opts.Now,
	}
}

// Add inserts a new item timestamped now and returns it.
// Importance is clamped to [0,1]. Add never fails: when the insert would
// exceed capacity the store is evicted down to capacity, and the new item may
// itself be dropped if capacity important items already exist.
func (s *Store) Add(content string, importance float64, metadata map[string]string) Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	item := Item{
		ID:         shortuuid.New(),
		Content:    content,
		Importance: Clamp(importance),
		Timestamp:  s.now(),
		Metadata:   copyMetadata(metadata),
		seq:        s.seq,
	}

	s.items = append(s.items, item)
	if len(s.items) > s.capacity {
		before := len(s.items)
		s.items = evict(s.items, s.capacity, s.threshold)
		slog.Debug("memory store evicted items",
			"capacity", s.capacity,
			"evicted", before-len(s.items),
		)
	}

	return item
}

// Query returns up to opts.Limit items matching the filters, ordered by the ranker.
func (s *Store) Query(opts QueryOptions) []Item {
	if opts.Limit <= 0 {
		opts.Limit = DefaultQueryLimit
	}

	s.mu.RLock()
	candidates := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		if opts.MinImportance != nil && item.Importance < *opts.MinImportance {
			continue
		}
		if opts.Topic != "" && item.Topic() != opts.Topic {
			continue
		}
		candidates = append(candidates, item)
	}
	s.mu.RUnlock()

	ranked := s.ranker.Rank(opts.Query, candidates)
	if len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	return ranked
}

// AgeOut removes items older than maxAge unless their importance is at or
// above the threshold. Important items never age out.
// Returns the number of items removed.
func (s *Store) AgeOut(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	kept := s.items[:0]
	for _, item := range s.items {
		if item.Timestamp.After(cutoff) || item.Importance >= s.threshold {
			kept = append(kept, item)
		}
	}

	removed := len(s.items) - len(kept)
	// Zero the tail so dropped items can be collected.
	clear(s.items[len(kept):])
	s.items = kept
	return removed
}

// Items returns a copy of all items in insertion order.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Capacity returns the maximum number of items.
func (s *Store) Capacity() int {
	return s.capacity
}

// Threshold returns the importance threshold.
func (s *Store) Threshold() float64 {
	return s.threshold
}

// Clear removes all items.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]Item, 0, s.capacity)
}

// Clamp bounds an importance score to [0,1]. NaN becomes 0.
func Clamp(importance float64) float64 {
	if math.IsNaN(importance) {
		return 0
	}
	return math.Max(0, math.Min(1, importance))
}

// evict partitions items into important and rest and keeps at most capacity
// of them: the most recent important items first, then the most recent of
// the rest to fill the remaining slots. Survivors keep their original order.
func evict(items []Item, capacity int, threshold float64) []Item {
	var important, rest []Item
	for _, item := range items {
		if item.Importance >= threshold {
			important = append(important, item)
		} else {
			rest = append(rest, item)
		}
	}

	keep := make(map[uint64]struct{}, capacity)
	if len(important) >= capacity {
		for _, item := range mostRecent(important, capacity) {
			keep[item.seq] = struct{}{}
		}
	} else {
		for _, item := range important {
			keep[item.seq] = struct{}{}
		}
		for _, item := range mostRecent(rest, capacity-len(important)) {
			keep[item.seq] = struct{}{}
		}
	}

	kept := make([]Item, 0, capacity)
	for _, item := range items {
		if _, ok := keep[item.seq]; ok {
			kept = append(kept, item)
		}
	}
	return kept
}

// mostRecent returns the n most recent items, newest first.
func mostRecent(items []Item, n int) []Item {
	if n <= 0 {
		return nil
	}
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, newerFirst)
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func newerFirst(a, b Item) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(b.seq, a.seq)
}

func copyMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
