// Package event is a small publish/subscribe bus for cross-cutting
// notifications. Publishers never wait for listeners and never see their
// errors.
package event

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event names emitted by the chat pipeline.
const (
	SessionCreated   = "session.created"
	SessionExpired   = "session.expired"
	SessionCleared   = "session.cleared"
	MessageProcessed = "message.processed"
	MessageFailed    = "message.failed"
	ModelSwitched    = "model.switched"
	HistoryCompacted = "history.compacted"
)

// DefaultListenerTimeout bounds a single listener invocation.
const DefaultListenerTimeout = 5 * time.Second

// Event is a named notification with an arbitrary payload.
type Event struct {
	Name      string         `json:"name"`
	UserID    string         `json:"user_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier accepts events fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, name string, userID string, payload map[string]any)
}

// Listener handles a delivered event.
type Listener func(ctx context.Context, e Event) error

type subscription struct {
	id       uint64
	pattern  []string
	listener Listener
}

// Bus dispatches events to listeners whose pattern matches the event name.
// Every listener runs in its own goroutine under a timeout.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscription
	nextID  uint64
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBus creates a bus. A non-positive timeout uses DefaultListenerTimeout.
func NewBus(timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = DefaultListenerTimeout
	}
	return &Bus{timeout: timeout}
}

// Subscribe registers listener for events matching pattern and returns a
// function that removes the subscription.
//
// Patterns are dot-separated. "*" matches exactly one segment and ">" as the
// last segment matches one or more trailing segments, so "session.*" matches
// "session.created" and "message.>" matches "message.processed".
func (b *Bus) Subscribe(pattern string, listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{
		id:       id,
		pattern:  strings.Split(pattern, "."),
		listener: listener,
	})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Notify delivers an event to every matching listener and returns at once.
// Listeners are detached from the caller's cancellation.
func (b *Bus) Notify(ctx context.Context, name string, userID string, payload map[string]any) {
	e := Event{
		Name:      name,
		UserID:    userID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	segments := strings.Split(name, ".")

	b.mu.RLock()
	var matched []Listener
	for _, s := range b.subs {
		if matchSegments(s.pattern, segments) {
			matched = append(matched, s.listener)
		}
	}
	b.mu.RUnlock()

	base := context.WithoutCancel(ctx)
	for _, l := range matched {
		b.wg.Add(1)
		go b.deliver(base, l, e)
	}
}

// Wait blocks until all in-flight deliveries have finished.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) deliver(ctx context.Context, l Listener, e Event) {
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("event listener panicked", "event", e.Name, "panic", r)
				done <- nil
			}
		}()
		done <- l(ctx, e)
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Warn("event listener failed", "event", e.Name, "error", err)
		}
	case <-ctx.Done():
		slog.Warn("event listener timeout", "event", e.Name, "timeout", b.timeout)
	}
}

// Match reports whether an event name matches a subscription pattern.
func Match(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "."), strings.Split(name, "."))
}

func matchSegments(pattern, name []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return i == len(pattern)-1 && len(name) > i
		}
		if i >= len(name) {
			return false
		}
		if p != "*" && p != name[i] {
			return false
		}
	}
	return len(pattern) == len(name)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) {}

var (
	_ Notifier = (*Bus)(nil)
	_ Notifier = Nop{}
)
