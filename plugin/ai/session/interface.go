// Package session binds each user to one conversation and one active model,
// and manages the lifecycle of those bindings across concurrent requests.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/hrygo/lineai/plugin/ai/conversation"
)

// Generator produces the assistant reply for a conversation window.
// Implementations must honor ctx cancellation. Retries, if any, belong to the
// implementation; sessions never retry.
type Generator interface {
	Generate(ctx context.Context, history []conversation.Turn, model string) (string, error)
}

// ModelCatalog reports which model ids may be bound to a session.
type ModelCatalog interface {
	HasModel(model string) bool
}

var (
	// ErrNotFound is returned for a user with no live session, and by Send on
	// a session that is no longer active.
	ErrNotFound = errors.New("session not found")

	// ErrUnknownModel is returned by SwitchModel for an id the catalog rejects.
	ErrUnknownModel = errors.New("unknown model")

	// ErrEmptyUserID is returned when a lookup is attempted without a user id.
	ErrEmptyUserID = errors.New("empty user id")
)

// GenerationError wraps a failure of the generation backend.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation with model %q failed: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the backend call ran out of time.
func (e *GenerationError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
