// Package conversation holds per-user conversational state: the live turn
// window sent to the model, the compacted history log, and the derived state
// record (topic, mood, language).
package conversation

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Media is a binary payload attached to a turn, e.g. an image sent by the user.
type Media struct {
	URL      string `json:"url,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     []byte `json:"-"`
}

// Turn is one message in a conversation. Turns are immutable once appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Media     *Media    `json:"media,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HasMedia reports whether the turn carries a binary payload.
func (t Turn) HasMedia() bool {
	return t.Media != nil && len(t.Media.Data) > 0
}
