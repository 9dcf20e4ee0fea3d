package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/lineai/internal/profile"
	"github.com/hrygo/lineai/plugin/ai/session"
	"github.com/hrygo/lineai/server/chat"
)

type testBackend struct {
	*session.MockGenerator
	session.StaticCatalog
}

func newTestProfile(t *testing.T) *profile.Profile {
	t.Helper()
	p := &profile.Profile{
		Mode:                "dev",
		Addr:                "127.0.0.1",
		GeminiAPIKey:        "test-key",
		GeminiModels:        []string{"gemini-2.0-flash"},
		AssistantImportance: profile.DefaultAssistantImportance,
	}
	require.NoError(t, p.Validate())
	p.Port = 0 // any free port
	return p
}

func newTestBackend() testBackend {
	return testBackend{
		MockGenerator: session.NewMockGenerator(),
		StaticCatalog: session.StaticCatalog{"gemini-2.0-flash"},
	}
}

func TestNewServer_Wiring(t *testing.T) {
	s, err := NewServer(context.Background(), newTestProfile(t), newTestBackend())
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Shutdown(context.Background())) }()

	result := s.ChatService().ProcessMessage(context.Background(), chat.Request{
		UserID: "U1", Type: chat.MessageTypeText, Content: "hi",
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "gemini-2.0-flash", result.Model)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages",
		strings.NewReader(`{"user_id":"U2","type":"text","content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reply":"echo: hello"`)
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	p := newTestProfile(t)
	s, err := NewServer(context.Background(), p, newTestBackend())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("Dev", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, &profile.Profile{Mode: "dev"})

		logger.Debug("debug line", "user_id", "U1")
		assert.Contains(t, buf.String(), "msg=\"debug line\"")
		assert.Contains(t, buf.String(), "user_id=U1")
	})

	t.Run("Prod", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, &profile.Profile{Mode: "prod"})

		logger.Debug("hidden")
		assert.Empty(t, buf.String())

		logger.Info("visible", "user_id", "U1")
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "visible", entry["msg"])
		assert.Equal(t, "U1", entry["user_id"])
	})
}
