package conversation

import (
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Context is the live, ordered window of turns for one user.
// It enforces no size bound; the Manager decides what stays in it.
type Context struct {
	mu          sync.RWMutex
	turns       []Turn
	createdAt   time.Time
	lastUpdated time.Time
	now         func() time.Time
}

// NewContext creates an empty window. A nil clock defaults to time.Now.
func NewContext(now func() time.Time) *Context {
	if now == nil {
		now = time.Now
	}
	ts := now()
	return &Context{
		createdAt:   ts,
		lastUpdated: ts,
		now:         now,
	}
}

// Append adds a text turn and returns it.
func (c *Context) Append(role Role, content string) Turn {
	return c.AppendTurn(Turn{Role: role, Content: content})
}

// AppendTurn adds a turn, filling in its ID and timestamp when unset.
func (c *Context) AppendTurn(turn Turn) Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if turn.ID == "" {
		turn.ID = shortuuid.New()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	c.turns = append(c.turns, turn)
	c.lastUpdated = now
	return turn
}

// All returns a read-only view of the turns in chronological order.
// The sequence is lazy and may be ranged over any number of times; each pass
// sees the window as it was when that pass started.
func (c *Context) All() iter.Seq[Turn] {
	return func(yield func(Turn) bool) {
		c.mu.RLock()
		turns := c.turns[:len(c.turns):len(c.turns)]
		c.mu.RUnlock()

		for _, turn := range turns {
			if !yield(turn) {
				return
			}
		}
	}
}

// Turns returns a copy of the window.
func (c *Context) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.turns)
}

// Len returns the number of turns in the window.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Last returns the most recent turn.
func (c *Context) Last() (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// Clear empties the window and refreshes both timestamps.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.turns = nil
	c.createdAt = now
	c.lastUpdated = now
}

// Age returns the time elapsed since the window was created or last cleared.
func (c *Context) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Sub(c.createdAt)
}

// CreatedAt returns when the window was created or last cleared.
func (c *Context) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// LastUpdated returns when the window last changed.
func (c *Context) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdated
}

// reset replaces the window with turns, keeping the creation time.
// Used after history compaction; turns must be an ordered subsequence of the
// current window.
func (c *Context) reset(turns []Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = slices.Clone(turns)
	c.lastUpdated = c.now()
}
