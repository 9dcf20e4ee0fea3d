package conversation

import (
	"fmt"
	"maps"
)

// DefaultLanguage is the language a fresh state starts with.
const DefaultLanguage = "zh-TW"

// Known state field names accepted by UpdateState.
const (
	FieldTopic    = "topic"
	FieldMood     = "mood"
	FieldLanguage = "language"
)

// State is the derived metadata describing the ongoing exchange.
type State struct {
	Topic    string         `json:"topic"`
	Mood     string         `json:"mood"`
	Language string         `json:"language"`
	Metadata map[string]any `json:"metadata"`
}

// NewState returns a state with default language and an empty metadata map.
func NewState() State {
	return State{
		Language: DefaultLanguage,
		Metadata: make(map[string]any),
	}
}

// Update applies fields: known fields overwrite their attribute, anything
// else is merged into Metadata.
func (s *State) Update(fields map[string]any) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	for key, value := range fields {
		switch key {
		case FieldTopic:
			s.Topic = asString(value)
		case FieldMood:
			s.Mood = asString(value)
		case FieldLanguage:
			if lang := asString(value); lang != "" {
				s.Language = lang
			}
		default:
			s.Metadata[key] = value
		}
	}
}

// Clone returns a deep copy of the top-level metadata map.
func (s State) Clone() State {
	s.Metadata = maps.Clone(s.Metadata)
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	return s
}

func asString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
