package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestContext(t *testing.T) {
	rc := NewRequestContext(nil, "text", "U1")

	_, err := uuid.Parse(rc.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "U1", rc.UserID)
	assert.Equal(t, "text", rc.MessageType)
	assert.NotNil(t, rc.Logger)
	assert.GreaterOrEqual(t, rc.DurationMs(), int64(0))
}

func TestRequestContext_LogsBaseFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, false)
	rc := NewRequestContextWithID(logger, "req-1", "image", "U2")

	rc.Error("generation failed", errors.New("boom"), slog.String(LogFieldErrorCode, "TIMEOUT"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "generation failed", line["msg"])
	assert.Equal(t, "req-1", line[LogFieldRequestID])
	assert.Equal(t, "U2", line[LogFieldUserID])
	assert.Equal(t, "image", line[LogFieldMessageType])
	assert.Equal(t, "TIMEOUT", line[LogFieldErrorCode])
	assert.Equal(t, "boom", line["error"])
}

func TestNewLogger_Levels(t *testing.T) {
	var prod, dev bytes.Buffer

	NewLogger(&prod, false).Debug("hidden")
	NewLogger(&dev, true).Debug("shown")

	assert.Empty(t, prod.String())
	assert.Contains(t, dev.String(), "shown")
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, ok := FromContext(ctx)
	assert.False(t, ok)

	rc := NewRequestContext(nil, "text", "U1")
	got, ok := FromContext(WithRequestContext(ctx, rc))
	require.True(t, ok)
	assert.Same(t, rc, got)
}
