package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hrygo/lineai/plugin/ai/conversation"
	"github.com/hrygo/lineai/plugin/ai/event"
	"github.com/hrygo/lineai/plugin/ai/memory"
)

// DefaultTimeout is the idle time after which a session expires.
const DefaultTimeout = time.Hour

// Options configures a Manager.
type Options struct {
	Generator    Generator    // Required
	Catalog      ModelCatalog // Optional; nil accepts any non-empty model id
	DefaultModel string       // Model bound to new sessions

	Timeout             time.Duration // Idle expiry (default: 1h)
	MaxHistoryLength    int           // Per-conversation compaction trigger (default: 50)
	MemoryCapacity      int           // Per-user memory capacity (default: 100)
	ImportanceThreshold float64       // Memory eviction threshold (default: 0.5)
	AssistantImportance float64       // Importance recorded for assistant replies

	Notifier event.Notifier // Optional event sink
	Now      func() time.Time
}

// Stats is a point-in-time view of the session map.
type Stats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// Manager owns the live sessions, at most one per user.
//
// Each session carries an exclusive section (a weighted semaphore of size 1).
// Acquire hands it out, and Cleanup only evicts sessions whose section it
// can take without waiting, so a session in use is never removed.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Generator == nil {
		return nil, errors.New("session manager requires a generator")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Notifier == nil {
		opts.Notifier = event.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.AssistantImportance = memory.Clamp(opts.AssistantImportance)

	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
	}, nil
}

// Timeout returns the idle expiry.
func (m *Manager) Timeout() time.Duration {
	return m.opts.Timeout
}

// Acquire returns the live session for userID, holding its exclusive section,
// and marks it active. A session idle past the timeout is replaced by a fresh
// one; a missing one is created. The caller must call release once when done;
// extra calls are no-ops.
//
// Acquire blocks while another operation holds the section and fails with
// ctx's error if ctx ends first.
func (m *Manager) Acquire(ctx context.Context, userID string) (*Session, func(), error) {
	if userID == "" {
		return nil, nil, ErrEmptyUserID
	}

	for {
		m.mu.Lock()
		s, ok := m.sessions[userID]
		if !ok {
			s = m.createLocked(userID)
			m.mu.Unlock()
			m.notify(event.SessionCreated, userID, map[string]any{"model": s.Model()})
			return s, s.releaser(), nil
		}

		if !s.sem.TryAcquire(1) {
			m.mu.Unlock()
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return nil, nil, err
			}
			m.mu.Lock()
			if m.sessions[userID] != s {
				// Cleared or replaced while we waited.
				m.mu.Unlock()
				s.sem.Release(1)
				continue
			}
		}

		if s.idle(m.opts.Now()) > m.opts.Timeout {
			m.expireLocked(userID, s)
			m.mu.Unlock()
			s.sem.Release(1)
			m.notify(event.SessionExpired, userID, nil)
			continue
		}

		m.mu.Unlock()
		s.touch()
		return s, s.releaser(), nil
	}
}

// Do runs fn inside userID's exclusive section.
func (m *Manager) Do(ctx context.Context, userID string, fn func(*Session) error) error {
	s, release, err := m.Acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()
	return fn(s)
}

// Get returns the live session for userID without creating one and without
// taking its section. An idle-expired session is reported as ErrNotFound.
func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()

	if !ok || s.idle(m.opts.Now()) > m.opts.Timeout {
		return nil, ErrNotFound
	}
	return s, nil
}

// Cleanup removes every session idle for longer than the timeout and returns
// the removed user ids in sorted order. Sessions held by an in-flight
// operation are skipped.
func (m *Manager) Cleanup() []string {
	now := m.opts.Now()

	var removed []string
	m.mu.Lock()
	for userID, s := range m.sessions {
		if !s.sem.TryAcquire(1) {
			continue
		}
		if s.idle(now) > m.opts.Timeout {
			m.expireLocked(userID, s)
			removed = append(removed, userID)
		}
		s.sem.Release(1)
	}
	m.mu.Unlock()

	slices.Sort(removed)
	for _, userID := range removed {
		m.notify(event.SessionExpired, userID, nil)
	}
	if len(removed) > 0 {
		slog.Info("expired sessions removed",
			"count", len(removed),
			"user_ids", removed,
		)
	}
	return removed
}

// AgeOutMemories drops memory items older than maxAge from every session that
// is not in use. Important items are kept. Returns the number of items removed.
func (m *Manager) AgeOutMemories(maxAge time.Duration) int {
	m.mu.Lock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	total := 0
	for _, s := range candidates {
		if !s.sem.TryAcquire(1) {
			continue
		}
		if s.State() == StateActive {
			total += s.conv.Memory().AgeOut(maxAge)
		}
		s.sem.Release(1)
	}
	return total
}

// Clear removes the session for userID. It is a no-op when none exists.
func (m *Manager) Clear(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
		s.setState(StateRemoved)
	}
	m.mu.Unlock()

	if ok {
		slog.Debug("session cleared", "user_id", userID)
		m.notify(event.SessionCleared, userID, nil)
	}
}

// Close removes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, s := range m.sessions {
		s.setState(StateRemoved)
		delete(m.sessions, userID)
	}
}

// Len returns the number of sessions in the map, expired ones included
// until they are swept.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// UserIDs returns the user ids with a session, sorted.
func (m *Manager) UserIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for userID := range m.sessions {
		ids = append(ids, userID)
	}
	m.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// Stats counts all sessions and those still within the idle timeout.
func (m *Manager) Stats() Stats {
	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{Total: len(m.sessions)}
	for _, s := range m.sessions {
		if s.idle(now) <= m.opts.Timeout {
			stats.Active++
		}
	}
	return stats
}

// createLocked builds a session, stores it, and returns it with its section
// already held. m.mu must be held.
func (m *Manager) createLocked(userID string) *Session {
	now := m.opts.Now()
	store := memory.NewStore(memory.Options{
		Capacity:            m.opts.MemoryCapacity,
		ImportanceThreshold: m.opts.ImportanceThreshold,
		Now:                 m.opts.Now,
	})

	s := &Session{
		userID:              userID,
		generator:           m.opts.Generator,
		catalog:             m.opts.Catalog,
		assistantImportance: m.opts.AssistantImportance,
		now:                 m.opts.Now,
		createdAt:           now,
		sem:                 semaphore.NewWeighted(1),
		model:               m.opts.DefaultModel,
		lastActive:          now,
	}
	s.conv = conversation.NewManager(conversation.ManagerOptions{
		MaxHistoryLength: m.opts.MaxHistoryLength,
		Memory:           store,
		Now:              m.opts.Now,
		OnCompact: func(before, after int) {
			m.notify(event.HistoryCompacted, userID, map[string]any{
				"before": before,
				"after":  after,
			})
		},
	})
	s.sem.TryAcquire(1)

	m.sessions[userID] = s
	slog.Debug("session created", "user_id", userID, "model", s.model)
	return s
}

// expireLocked moves s through Expired to Removed and drops it from the map.
// m.mu must be held.
func (m *Manager) expireLocked(userID string, s *Session) {
	s.setState(StateExpired)
	delete(m.sessions, userID)
	s.setState(StateRemoved)
}

func (m *Manager) notify(name, userID string, payload map[string]any) {
	m.opts.Notifier.Notify(context.Background(), name, userID, payload)
}
