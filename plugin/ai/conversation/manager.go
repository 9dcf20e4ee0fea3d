package conversation

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hrygo/lineai/plugin/ai/memory"
)

const (
	// DefaultMaxHistoryLength is the history size that triggers compaction.
	DefaultMaxHistoryLength = 50

	// HistoryImportanceThreshold marks history entries that survive compaction
	// regardless of age.
	HistoryImportanceThreshold = 0.5

	// SummaryRecentEntries is the number of history entries in a Summary.
	SummaryRecentEntries = 5

	// SummaryMemories is the number of memory items in a Summary.
	SummaryMemories = 3
)

// HistoryEntry is a turn recorded in the history log with its importance.
type HistoryEntry struct {
	Turn
	Importance float64 `json:"importance"`
}

// Summary is a compact snapshot of a conversation.
type Summary struct {
	State    State          `json:"state"`
	Recent   []HistoryEntry `json:"recent"`
	Memories []memory.Item  `json:"memories"`
}

// CompactFunc is called after each history compaction.
type CompactFunc func(before, after int)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	MaxHistoryLength int           // Compaction trigger (default: 50)
	Memory           *memory.Store // Promotion target (default: a new store)
	Now              func() time.Time
	OnCompact        CompactFunc
}

// Manager coordinates one user's Context window, history log, State and
// memory store.
//
// The window always mirrors the history: every recorded turn is appended to
// both, and when the history is compacted the window is rebuilt from the
// surviving entries. This keeps the prompt bounded by MaxHistoryLength.
//
// The window is therefore append-only except for two mutations: ClearContext
// empties it, and compaction drops turns. Compaction never reorders or
// inserts, so the rebuilt window is an ordered subsequence of the old one.
type Manager struct {
	mu         sync.RWMutex
	state      State
	window     *Context
	history    []HistoryEntry
	maxHistory int
	memory     *memory.Store
	now        func() time.Time
	onCompact  CompactFunc
}

// NewManager creates a Manager with a fresh window and state.
func NewManager(opts ManagerOptions) *Manager {
	if opts.MaxHistoryLength <= 0 {
		opts.MaxHistoryLength = DefaultMaxHistoryLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewStore(memory.Options{Now: opts.Now})
	}

	return &Manager{
		state:      NewState(),
		window:     NewContext(opts.Now),
		maxHistory: opts.MaxHistoryLength,
		memory:     opts.Memory,
		now:        opts.Now,
		onCompact:  opts.OnCompact,
	}
}

// Context returns the live window.
func (m *Manager) Context() *Context {
	return m.window
}

// Memory returns the memory store.
func (m *Manager) Memory() *memory.Store {
	return m.memory
}

// MaxHistoryLength returns the compaction trigger.
func (m *Manager) MaxHistoryLength() int {
	return m.maxHistory
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// UpdateState applies fields to the state. See State.Update.
func (m *Manager) UpdateState(fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Update(fields)
}

// AddToHistory records a text turn. See AddTurn.
func (m *Manager) AddToHistory(role Role, content string, importance float64) HistoryEntry {
	return m.AddTurn(Turn{Role: role, Content: content}, importance)
}

// AddTurn appends turn to the window and the history log. When the history
// exceeds MaxHistoryLength it is compacted. A positive importance also
// promotes the turn's content into the memory store, tagged with its role and
// the current topic.
func (m *Manager) AddTurn(turn Turn, importance float64) HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	turn = m.window.AppendTurn(turn)
	entry := HistoryEntry{Turn: turn, Importance: memory.Clamp(importance)}
	m.history = append(m.history, entry)

	if len(m.history) > m.maxHistory {
		m.compactLocked()
	}

	if entry.Importance > 0 && turn.Content != "" {
		m.memory.Add(turn.Content, entry.Importance, map[string]string{
			memory.MetaRole:  string(turn.Role),
			memory.MetaTopic: m.state.Topic,
		})
	}

	return entry
}

// History returns a copy of the history log in chronological order.
func (m *Manager) History() []HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history)
}

// Summary returns the current state, the most recent history entries and
// the most relevant memories for the current topic.
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	state := m.state.Clone()
	start := max(0, len(m.history)-SummaryRecentEntries)
	recent := slices.Clone(m.history[start:])
	m.mu.RUnlock()

	memories := m.memory.Query(memory.QueryOptions{
		Topic: state.Topic,
		Limit: SummaryMemories,
	})

	return Summary{
		State:    state,
		Recent:   recent,
		Memories: memories,
	}
}

// ClearContext empties the window and the history log. State and memory survive.
func (m *Manager) ClearContext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.window.Clear()
}

// compactLocked keeps the union of important entries and the most recent
// maxHistory/2 entries, deduplicated by turn ID and in chronological order.
// If that union is still over maxHistory, the oldest entries are dropped.
func (m *Manager) compactLocked() {
	before := len(m.history)
	start := max(0, before-m.maxHistory/2)

	seen := make(map[string]struct{}, before)
	kept := make([]HistoryEntry, 0, m.maxHistory)
	for i, entry := range m.history {
		if i < start && entry.Importance < HistoryImportanceThreshold {
			continue
		}
		if _, dup := seen[entry.ID]; dup {
			continue
		}
		seen[entry.ID] = struct{}{}
		kept = append(kept, entry)
	}

	slices.SortStableFunc(kept, func(a, b HistoryEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if len(kept) > m.maxHistory {
		kept = kept[len(kept)-m.maxHistory:]
	}

	m.history = kept
	turns := make([]Turn, len(kept))
	for i, entry := range kept {
		turns[i] = entry.Turn
	}
	m.window.reset(turns)

	slog.Debug("conversation history compacted",
		"before", before,
		"after", len(kept),
	)
	if m.onCompact != nil {
		m.onCompact(before, len(kept))
	}
}
