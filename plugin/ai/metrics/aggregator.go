package metrics

import (
	"sort"
	"sync"
	"time"
)

// Aggregator aggregates metrics in memory, bucketed by hour.
type Aggregator struct {
	mu  sync.RWMutex
	now func() time.Time

	// Message metrics: key = "hourBucket|messageType"
	messageMetrics map[string]*bucket

	// Generation metrics: key = "hourBucket|model"
	modelMetrics map[string]*bucket

	errorsByCode map[string]int64
}

type bucket struct {
	hourBucket   time.Time
	name         string
	requestCount int64
	successCount int64
	latencies    []int64 // in milliseconds
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		now:            time.Now,
		messageMetrics: make(map[string]*bucket),
		modelMetrics:   make(map[string]*bucket),
		errorsByCode:   make(map[string]int64),
	}
}

// RecordMessage records a single processed message. A non-empty code is
// counted under ErrorsByCode.
func (a *Aggregator) RecordMessage(messageType string, latency time.Duration, success bool, code string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record(a.messageMetrics, messageType, latency, success)
	if code != "" {
		a.errorsByCode[code]++
	}
}

// RecordGeneration records a single backend call.
func (a *Aggregator) RecordGeneration(model string, latency time.Duration, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record(a.modelMetrics, model, latency, success)
}

func (a *Aggregator) record(buckets map[string]*bucket, name string, latency time.Duration, success bool) {
	hourBucket := truncateToHour(a.now())
	key := makeKey(hourBucket, name)

	b, exists := buckets[key]
	if !exists {
		b = &bucket{
			hourBucket: hourBucket,
			name:       name,
			latencies:  make([]int64, 0, 16),
		}
		buckets[key] = b
	}

	b.requestCount++
	if success {
		b.successCount++
	}
	b.latencies = append(b.latencies, latency.Milliseconds())
}

// Prune drops every bucket older than beforeHour and returns how many it dropped.
func (a *Aggregator) Prune(beforeHour time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for _, buckets := range []map[string]*bucket{a.messageMetrics, a.modelMetrics} {
		for key, b := range buckets {
			if b.hourBucket.Before(beforeHour) {
				delete(buckets, key)
				removed++
			}
		}
	}
	return removed
}

// Snapshot returns aggregated stats over every retained bucket.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := &Snapshot{
		MessageStats: make(map[string]*Stat),
		ModelStats:   make(map[string]*Stat),
		ErrorsByCode: make(map[string]int64, len(a.errorsByCode)),
	}

	allLatencies := make([]int64, 0)
	for _, b := range a.messageMetrics {
		snap.RequestCount += b.requestCount
		snap.SuccessCount += b.successCount
		allLatencies = append(allLatencies, b.latencies...)
	}
	mergeStats(snap.MessageStats, a.messageMetrics)
	mergeStats(snap.ModelStats, a.modelMetrics)

	for code, n := range a.errorsByCode {
		snap.ErrorsByCode[code] = n
	}

	snap.LatencyP50 = time.Duration(percentile(allLatencies, 50)) * time.Millisecond
	snap.LatencyP95 = time.Duration(percentile(allLatencies, 95)) * time.Millisecond

	return snap
}

// mergeStats folds hourly buckets into one Stat per name.
func mergeStats(dst map[string]*Stat, buckets map[string]*bucket) {
	type total struct {
		count, success, latencySum int64
	}
	totals := make(map[string]*total)
	for _, b := range buckets {
		t, ok := totals[b.name]
		if !ok {
			t = &total{}
			totals[b.name] = t
		}
		t.count += b.requestCount
		t.success += b.successCount
		t.latencySum += sumLatencies(b.latencies)
	}

	for name, t := range totals {
		stat := &Stat{Count: t.count}
		if t.count > 0 {
			stat.SuccessRate = float32(t.success) / float32(t.count)
			stat.AvgLatency = time.Duration(t.latencySum/t.count) * time.Millisecond
		}
		dst[name] = stat
	}
}

// Helper functions

func truncateToHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func makeKey(hourBucket time.Time, name string) string {
	return hourBucket.Format(time.RFC3339) + "|" + name
}

func sumLatencies(latencies []int64) int64 {
	var sum int64
	for _, l := range latencies {
		sum += l
	}
	return sum
}

func percentile(latencies []int64, p int) int64 {
	if len(latencies) == 0 {
		return 0
	}

	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
