package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/lineai/plugin/ai/session"
	"github.com/hrygo/lineai/plugin/ai/timeout"
	errs "github.com/hrygo/lineai/server/internal/errors"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  command
		ok    bool
	}{
		{"/clear", command{name: CommandClear}, true},
		{"  /CLEAR  ", command{name: CommandClear}, true},
		{"/switch gemini-2.0-flash", command{name: CommandSwitch, arg: "gemini-2.0-flash"}, true},
		{"/switch", command{name: CommandSwitch}, true},
		{"/clearance", command{}, false},
		{"/help", command{}, false},
		{"please /clear", command{}, false},
		{"", command{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseCommand(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImportanceOf(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want float64
	}{
		{"Missing", nil, 0},
		{"Float", 0.7, 0.7},
		{"Int", 1, 1},
		{"JSONNumber", json.Number("0.25"), 0.25},
		{"String", "0.4", 0.4},
		{"Garbage", "high", 0},
		{"ClampHigh", 3.5, 1},
		{"ClampLow", -2.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metadata := map[string]any{}
			if tt.raw != nil {
				metadata[MetaImportance] = tt.raw
			}
			assert.Equal(t, tt.want, importanceOf(metadata))
		})
	}
}

func TestStateFields(t *testing.T) {
	fields := stateFields(map[string]any{
		"topic":        "food",
		MetaImportance: 0.9,
		MetaMediaURL:   "https://example.com",
		MetaMIMEType:   "image/png",
	})
	assert.Equal(t, map[string]any{"topic": "food"}, fields)
	assert.Empty(t, stateFields(nil))
}

func TestTextHandler(t *testing.T) {
	h := TextHandler{}

	assert.Error(t, h.Validate(&Message{Text: " \n "}))
	assert.NoError(t, h.Validate(&Message{Text: "hi"}))

	msg := &Message{Text: "  hi  "}
	assert.NoError(t, h.Preprocess(context.Background(), msg))
	assert.Equal(t, "hi", msg.Text)

	assert.Equal(t, "bold", h.Postprocess("**bold**"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errs.ErrorCode
	}{
		{"Deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), errs.ErrCodeTimeout},
		{"GenerationDeadline", &session.GenerationError{Model: "m", Err: context.DeadlineExceeded}, errs.ErrCodeTimeout},
		{"Canceled", context.Canceled, errs.ErrCodeContextCanceled},
		{"NotFound", session.ErrNotFound, errs.ErrCodeSessionNotFound},
		{"Generation", &session.GenerationError{Model: "m", Err: errors.New("500")}, errs.ErrCodeGenerationFailed},
		{"Coded", errs.ValidationFailed("bad"), errs.ErrCodeValidationFailed},
		{"Other", errors.New("?"), errs.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, classify(tt.err).Code)
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))

	long := strings.Repeat("對", timeout.MaxTruncateLength+10)
	got := preview(long)
	assert.Equal(t, timeout.MaxTruncateLength+3, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}
