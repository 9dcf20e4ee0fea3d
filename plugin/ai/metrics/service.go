package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetention is how long hourly buckets are kept.
const DefaultRetention = 24 * time.Hour

// Service implements Recorder over an Aggregator and prunes old buckets in
// the background.
type Service struct {
	aggregator *Aggregator
	retention  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewService creates a metrics service and starts its pruning loop.
// A non-positive retention uses DefaultRetention.
func NewService(retention time.Duration) *Service {
	if retention <= 0 {
		retention = DefaultRetention
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		aggregator: NewAggregator(),
		retention:  retention,
		cancel:     cancel,
	}

	svc.wg.Add(1)
	go svc.pruneLoop(ctx)

	return svc
}

// Close stops the pruning loop.
func (s *Service) Close() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// RecordMessage records a processed message.
func (s *Service) RecordMessage(_ context.Context, messageType string, latency time.Duration, success bool, code string) {
	s.aggregator.RecordMessage(messageType, latency, success, code)
}

// RecordGeneration records a backend call.
func (s *Service) RecordGeneration(_ context.Context, model string, latency time.Duration, success bool) {
	s.aggregator.RecordGeneration(model, latency, success)
}

// Snapshot returns the current aggregated statistics.
func (s *Service) Snapshot() *Snapshot {
	return s.aggregator.Snapshot()
}

// Prune drops buckets outside the retention window.
func (s *Service) Prune() int {
	cutoff := truncateToHour(s.aggregator.now().Add(-s.retention))
	return s.aggregator.Prune(cutoff)
}

func (s *Service) pruneLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Prune(); removed > 0 {
				slog.Debug("metrics buckets pruned", "count", removed)
			}
		}
	}
}
