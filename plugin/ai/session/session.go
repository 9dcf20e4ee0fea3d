package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hrygo/lineai/plugin/ai/conversation"
)

// State is the lifecycle stage of a session.
type State int32

const (
	StateActive State = iota
	StateExpired
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session binds one user to a conversation and an active model.
//
// The conversation is only touched by the holder of the session's exclusive
// section, which the Manager hands out through Acquire. State transitions are
// made by the Manager, never by the session itself.
type Session struct {
	userID              string
	conv                *conversation.Manager
	generator           Generator
	catalog             ModelCatalog
	assistantImportance float64
	now                 func() time.Time
	createdAt           time.Time

	sem   *semaphore.Weighted
	state atomic.Int32

	mu         sync.RWMutex
	model      string
	lastActive time.Time
}

// UserID returns the owning user id.
func (s *Session) UserID() string { return s.userID }

// Conversation returns the session's conversation manager.
func (s *Session) Conversation() *conversation.Manager { return s.conv }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

// Model returns the active model id.
func (s *Session) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// LastActive returns the time of the last recorded activity.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Send records text as a user turn and returns the backend's reply.
// See SendTurn.
func (s *Session) Send(ctx context.Context, text string, importance float64) (string, error) {
	return s.SendTurn(ctx, conversation.Turn{Role: conversation.RoleUser, Content: text}, importance)
}

// SendTurn records turn, asks the generation backend for a reply over the
// whole window and records the reply as an assistant turn.
//
// The user turn stays recorded when generation fails; the failure is
// returned as a *GenerationError. The deadline of ctx bounds the backend call.
func (s *Session) SendTurn(ctx context.Context, turn conversation.Turn, importance float64) (string, error) {
	if s.State() != StateActive {
		return "", ErrNotFound
	}
	if turn.Role == "" {
		turn.Role = conversation.RoleUser
	}

	s.conv.AddTurn(turn, importance)
	s.touch()

	model := s.Model()
	reply, err := s.generator.Generate(ctx, s.conv.Context().Turns(), model)
	if err != nil {
		return "", &GenerationError{Model: model, Err: err}
	}

	s.conv.AddToHistory(conversation.RoleAssistant, reply, s.assistantImportance)
	s.touch()
	return reply, nil
}

// SwitchModel binds model as the active model. An id the catalog does not
// know leaves the current binding in place.
func (s *Session) SwitchModel(model string) error {
	if model == "" || (s.catalog != nil && !s.catalog.HasModel(model)) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
	s.touch()
	return nil
}

// touch refreshes lastActive. It never moves backwards.
func (s *Session) touch() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastActive) {
		s.lastActive = now
	}
}

func (s *Session) idle(now time.Time) time.Duration {
	return now.Sub(s.LastActive())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

// releaser returns an idempotent release for the exclusive section.
func (s *Session) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { s.sem.Release(1) })
	}
}
