package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hrygo/lineai/plugin/ai/conversation"
)

// MockCall records one Generate invocation.
type MockCall struct {
	Model   string
	History []conversation.Turn
}

// MockGenerator is a Generator for tests. By default it echoes the last
// turn's content prefixed with "echo: ".
type MockGenerator struct {
	mu    sync.Mutex
	calls []MockCall

	Reply string        // Fixed reply; empty means echo
	Err   error         // Returned instead of a reply when set
	Delay time.Duration // Simulated latency; honors ctx
	Hold  chan struct{} // When set, Generate blocks until it is closed or ctx ends
}

// NewMockGenerator creates an echoing MockGenerator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate implements Generator.
func (g *MockGenerator) Generate(ctx context.Context, history []conversation.Turn, model string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, MockCall{Model: model, History: slices.Clone(history)})
	reply, err, delay, hold := g.Reply, g.Err, g.Delay, g.Hold
	g.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if reply != "" {
		return reply, nil
	}
	if len(history) == 0 {
		return "echo:", nil
	}
	return "echo: " + history[len(history)-1].Content, nil
}

// Calls returns the recorded invocations.
func (g *MockGenerator) Calls() []MockCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.calls)
}

// StaticCatalog is a ModelCatalog over a fixed list of model ids.
type StaticCatalog []string

// HasModel implements ModelCatalog.
func (c StaticCatalog) HasModel(model string) bool {
	return slices.Contains(c, model)
}

var (
	_ Generator    = (*MockGenerator)(nil)
	_ ModelCatalog = StaticCatalog(nil)
)
