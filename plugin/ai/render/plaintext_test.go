package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Empty",
			input:    "  \n",
			expected: "",
		},
		{
			name:     "PlainUnchanged",
			input:    "今天天氣很好",
			expected: "今天天氣很好",
		},
		{
			name:     "Emphasis",
			input:    "Hello **world** and *you*",
			expected: "Hello world and you",
		},
		{
			name:     "SoftBreakKept",
			input:    "line one\nline two",
			expected: "line one\nline two",
		},
		{
			name:     "HeadingAndLists",
			input:    "# Title\n\nHello **world**.\n\n- one\n- two\n\n1. first\n2. second\n",
			expected: "Title\nHello world.\n\n- one\n- two\n\n1. first\n2. second",
		},
		{
			name:     "LinkTarget",
			input:    "See [docs](https://example.com) now",
			expected: "See docs (https://example.com) now",
		},
		{
			name:     "BareURL",
			input:    "visit https://example.com",
			expected: "visit https://example.com",
		},
		{
			name:     "CodeBlock",
			input:    "```go\nfmt.Println(1)\n```",
			expected: "fmt.Println(1)",
		},
		{
			name:     "InlineCode",
			input:    "run `go test` first",
			expected: "run go test first",
		},
		{
			name:     "Strikethrough",
			input:    "~~old~~ new",
			expected: "old new",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PlainText(tt.input))
		})
	}
}
