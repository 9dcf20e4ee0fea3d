// Package llm routes generation requests to the backend serving each model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hrygo/lineai/plugin/ai/conversation"
)

// ErrUnknownModel is returned when no backend serves the requested model.
var ErrUnknownModel = errors.New("unknown model")

// Backend is a generation provider serving a fixed set of models.
type Backend interface {
	// Name identifies the provider in logs.
	Name() string
	// Models lists the model ids the backend serves.
	Models() []string
	// Generate returns the reply to history using model.
	Generate(ctx context.Context, history []conversation.Turn, model string) (string, error)
}

// Registry maps model ids to backends. It satisfies session.Generator and
// session.ModelCatalog.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	models   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds every model served by b. A model id already registered by
// another backend is an error and leaves the registry unchanged.
func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	models := b.Models()
	for _, model := range models {
		if existing, ok := r.backends[model]; ok {
			return fmt.Errorf("model %q already served by %s", model, existing.Name())
		}
	}
	for _, model := range models {
		r.backends[model] = b
		r.models = append(r.models, model)
	}
	return nil
}

// HasModel reports whether some backend serves model.
func (r *Registry) HasModel(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[model]
	return ok
}

// Models returns the registered model ids in registration order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.models)
}

// Generate dispatches to the backend serving model.
func (r *Registry) Generate(ctx context.Context, history []conversation.Turn, model string) (string, error) {
	r.mu.RLock()
	b, ok := r.backends[model]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return b.Generate(ctx, history, model)
}
