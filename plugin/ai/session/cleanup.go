package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultCleanupInterval is the default interval between sweeps.
	DefaultCleanupInterval = 5 * time.Minute
	// DefaultMemoryMaxAge is how long an unimportant memory item survives.
	DefaultMemoryMaxAge = 30 * 24 * time.Hour
)

// CleanupConfig holds configuration for the cleanup job.
type CleanupConfig struct {
	Interval     time.Duration // Interval between sweeps (default: 5m)
	MemoryMaxAge time.Duration // Memory aging cutoff (default: 30 days)
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Interval:     DefaultCleanupInterval,
		MemoryMaxAge: DefaultMemoryMaxAge,
	}
}

// CleanupResult reports what a sweep removed.
type CleanupResult struct {
	Expired      []string `json:"expired"`
	MemoriesAged int      `json:"memories_aged"`
}

// CleanupJob periodically evicts idle sessions and ages out old memories
// of the sessions that remain.
type CleanupJob struct {
	manager *Manager
	config  CleanupConfig

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewCleanupJob creates a new cleanup job.
func NewCleanupJob(manager *Manager, config CleanupConfig) *CleanupJob {
	if config.Interval <= 0 {
		config.Interval = DefaultCleanupInterval
	}
	if config.MemoryMaxAge <= 0 {
		config.MemoryMaxAge = DefaultMemoryMaxAge
	}

	return &CleanupJob{
		manager: manager,
		config:  config,
	}
}

// Start begins the periodic sweep in a goroutine. Calling Start on a running
// job does nothing.
func (j *CleanupJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}

	j.running = true
	j.stopChan = make(chan struct{})
	j.done = make(chan struct{})

	go j.run(ctx, j.stopChan, j.done)

	slog.Info("session cleanup job started",
		"interval", j.config.Interval,
		"memory_max_age", j.config.MemoryMaxAge)
}

// Stop stops the sweep and waits for an in-progress run to finish.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopChan)
	done := j.done
	j.running = false
	j.mu.Unlock()

	<-done
	slog.Info("session cleanup job stopped")
}

// RunOnce executes a single sweep immediately.
func (j *CleanupJob) RunOnce() CleanupResult {
	return CleanupResult{
		Expired:      j.manager.Cleanup(),
		MemoriesAged: j.manager.AgeOutMemories(j.config.MemoryMaxAge),
	}
}

// IsRunning returns whether the job is currently running.
func (j *CleanupJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *CleanupJob) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.mu.Lock()
			j.running = false
			j.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			result := j.RunOnce()
			if len(result.Expired) > 0 || result.MemoriesAged > 0 {
				slog.Info("session cleanup completed",
					"expired", len(result.Expired),
					"memories_aged", result.MemoriesAged)
			}
		}
	}
}
