package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/lineai/plugin/ai/conversation"
	"github.com/hrygo/lineai/plugin/ai/event"
	"github.com/hrygo/lineai/plugin/ai/media"
	"github.com/hrygo/lineai/plugin/ai/metrics"
	"github.com/hrygo/lineai/plugin/ai/session"
	errs "github.com/hrygo/lineai/server/internal/errors"
	"github.com/hrygo/lineai/server/middleware"
)

const (
	testModel  = "gpt-4o-mini"
	otherModel = "gemini-2.0-flash"
)

type eventLog struct {
	mu    sync.Mutex
	names []string
}

func (l *eventLog) listener(_ context.Context, e event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, e.Name)
	return nil
}

func (l *eventLog) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

type fakeFetcher struct {
	img *media.Image
	err error

	mu   sync.Mutex
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*media.Image, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

func (f *fakeFetcher) Prepare(data []byte) (*media.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &media.Image{Data: data, MIMEType: "image/png"}, nil
}

type testEnv struct {
	svc      *Service
	sessions *session.Manager
	gen      *session.MockGenerator
	bus      *event.Bus
	events   *eventLog
	metrics  *metrics.Service
	fetcher  *fakeFetcher
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	gen := session.NewMockGenerator()
	bus := event.NewBus(time.Second)
	events := &eventLog{}
	bus.Subscribe(">", events.listener)

	sessions, err := session.NewManager(session.Options{
		Generator:           gen,
		Catalog:             session.StaticCatalog{testModel, otherModel},
		DefaultModel:        testModel,
		AssistantImportance: 0.5,
		Notifier:            bus,
	})
	require.NoError(t, err)
	t.Cleanup(sessions.Close)

	m := metrics.NewService(0)
	t.Cleanup(m.Close)

	fetcher := &fakeFetcher{img: &media.Image{Data: []byte("png"), MIMEType: "image/png"}}
	opts := Options{
		Sessions: sessions,
		Fetcher:  fetcher,
		Notifier: bus,
		Metrics:  m,
	}
	if mutate != nil {
		mutate(&opts)
	}

	svc, err := NewService(opts)
	require.NoError(t, err)

	return &testEnv{svc: svc, sessions: sessions, gen: gen, bus: bus, events: events, metrics: m, fetcher: fetcher}
}

func (e *testEnv) send(t *testing.T, userID, text string) Result {
	t.Helper()
	return e.svc.ProcessMessage(context.Background(), Request{UserID: userID, Type: MessageTypeText, Content: text})
}

func (e *testEnv) session(t *testing.T, userID string) *session.Session {
	t.Helper()
	s, err := e.sessions.Get(userID)
	require.NoError(t, err)
	return s
}

func TestNewService_RequiresSessions(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func TestProcessMessage_Text(t *testing.T) {
	env := newTestEnv(t, nil)

	result := env.send(t, "U1", "  hello  ")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "echo: hello", result.Response)
	assert.Equal(t, testModel, result.Model)
	assert.NotEmpty(t, result.RequestID)
	assert.Empty(t, result.Code)

	history := env.session(t, "U1").Conversation().History()
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)

	env.bus.Wait()
	assert.ElementsMatch(t, []string{event.SessionCreated, event.MessageProcessed}, env.events.Names())

	snap := env.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.SuccessCount)
	assert.Contains(t, snap.ModelStats, testModel)
}

func TestProcessMessage_StripsMarkdown(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.Reply = "# Title\n\nSome **bold** text"

	result := env.send(t, "U1", "hi")
	require.True(t, result.Success)
	assert.Equal(t, "Title\nSome bold text", result.Response)
}

func TestProcessMessage_Failures(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		code errs.ErrorCode
	}{
		{"EmptyUserID", Request{Type: MessageTypeText, Content: "hi"}, errs.ErrCodeValidationFailed},
		{"BlankText", Request{UserID: "U1", Type: MessageTypeText, Content: "   "}, errs.ErrCodeValidationFailed},
		{"UnknownType", Request{UserID: "U1", Type: "sticker", Content: "x"}, errs.ErrCodeUnknownMessageType},
		{"ImageWithoutSource", Request{UserID: "U1", Type: MessageTypeImage}, errs.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			result := env.svc.ProcessMessage(context.Background(), tt.req)
			assert.False(t, result.Success)
			assert.Equal(t, tt.code, result.Code)
			assert.NotEmpty(t, result.Error)
			assert.Equal(t, Apology, result.ReplyText(Apology))

			env.bus.Wait()
			assert.Contains(t, env.events.Names(), event.MessageFailed)
		})
	}
}

func TestProcessMessage_GenerationFailureKeepsUserTurn(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.Err = errors.New("backend down")

	result := env.send(t, "U1", "remember me")
	assert.False(t, result.Success)
	assert.Equal(t, errs.ErrCodeGenerationFailed, result.Code)
	assert.NotContains(t, result.ReplyText(Apology), "backend down")

	history := env.session(t, "U1").Conversation().History()
	require.Len(t, history, 1)
	assert.Equal(t, "remember me", history[0].Content)

	snap := env.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.ErrorsByCode[string(errs.ErrCodeGenerationFailed)])
}

func TestProcessMessage_Timeout(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.GenerationTimeout = 20 * time.Millisecond })
	env.gen.Hold = make(chan struct{})
	defer close(env.gen.Hold)

	result := env.send(t, "U1", "slow")
	assert.False(t, result.Success)
	assert.Equal(t, errs.ErrCodeTimeout, result.Code)
}

func TestProcessMessage_TimeoutWaitingForGenerationSlot(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.GenerationTimeout = 20 * time.Millisecond
		o.MaxConcurrentGenerations = 1
	})
	require.NoError(t, env.svc.generations.Acquire(context.Background(), 1))
	defer env.svc.generations.Release(1)

	start := time.Now()
	result := env.send(t, "U1", "queued")
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, result.Success)
	assert.Equal(t, errs.ErrCodeTimeout, result.Code)
	assert.Empty(t, env.gen.Calls())
}

func TestProcessMessage_Canceled(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := env.svc.ProcessMessage(ctx, Request{UserID: "U1", Type: MessageTypeText, Content: "hi"})
	assert.False(t, result.Success)
	assert.Equal(t, errs.ErrCodeContextCanceled, result.Code)
}

func TestProcessMessage_RateLimit(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.RateLimiter = middleware.NewRateLimiter(0.001, 1) })

	assert.True(t, env.send(t, "U1", "one").Success)

	result := env.send(t, "U1", "two")
	assert.False(t, result.Success)
	assert.Equal(t, errs.ErrCodeRateLimitExceeded, result.Code)

	assert.True(t, env.send(t, "U2", "one").Success)
}

func TestProcessMessage_Metadata(t *testing.T) {
	env := newTestEnv(t, nil)

	result := env.svc.ProcessMessage(context.Background(), Request{
		UserID:  "U1",
		Type:    MessageTypeText,
		Content: "my birthday is May 1",
		Metadata: map[string]any{
			"topic":      "birthday",
			"mood":       "happy",
			"importance": 0.9,
			"channel":    "line",
		},
	})
	require.True(t, result.Success)

	conv := env.session(t, "U1").Conversation()
	state := conv.State()
	assert.Equal(t, "birthday", state.Topic)
	assert.Equal(t, "happy", state.Mood)
	assert.Equal(t, conversation.DefaultLanguage, state.Language)
	assert.Equal(t, "line", state.Metadata["channel"])
	assert.NotContains(t, state.Metadata, MetaImportance)

	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, 0.9, history[0].Importance)

	var contents []string
	for _, item := range conv.Memory().Items() {
		contents = append(contents, item.Content)
	}
	assert.Contains(t, contents, "my birthday is May 1")
}

func TestProcessMessage_ClearCommand(t *testing.T) {
	env := newTestEnv(t, nil)

	env.svc.ProcessMessage(context.Background(), Request{
		UserID: "U1", Type: MessageTypeText, Content: "important", Metadata: map[string]any{"importance": 1.0},
	})

	result := env.send(t, "U1", "/clear")
	require.True(t, result.Success)
	assert.Equal(t, ReplyCleared, result.Response)

	conv := env.session(t, "U1").Conversation()
	assert.Empty(t, conv.History())
	assert.Equal(t, 0, conv.Context().Len())
	assert.NotZero(t, conv.Memory().Len())
	assert.Len(t, env.gen.Calls(), 1)
}

func TestProcessMessage_SwitchCommand(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("Known", func(t *testing.T) {
		result := env.send(t, "U1", "/switch "+otherModel)
		require.True(t, result.Success)
		assert.Equal(t, fmt.Sprintf(ReplySwitched, otherModel), result.Response)
		assert.Equal(t, otherModel, env.session(t, "U1").Model())

		env.send(t, "U1", "hi")
		calls := env.gen.Calls()
		assert.Equal(t, otherModel, calls[len(calls)-1].Model)

		env.bus.Wait()
		assert.Contains(t, env.events.Names(), event.ModelSwitched)
	})

	t.Run("Unknown", func(t *testing.T) {
		result := env.send(t, "U1", "/switch gpt-99")
		assert.False(t, result.Success)
		assert.Equal(t, errs.ErrCodeModelSwitchFailed, result.Code)
		assert.Equal(t, fmt.Sprintf(ReplySwitchFailed, "gpt-99"), result.ReplyText(Apology))
		assert.Equal(t, otherModel, env.session(t, "U1").Model())
	})

	t.Run("MissingArgument", func(t *testing.T) {
		result := env.send(t, "U1", "/switch")
		assert.False(t, result.Success)
		assert.Equal(t, errs.ErrCodeValidationFailed, result.Code)
		assert.Equal(t, ReplySwitchUsage, result.ReplyText(Apology))
	})
}

func TestProcessMessage_Image(t *testing.T) {
	t.Run("ByURLWithDefaultPrompt", func(t *testing.T) {
		env := newTestEnv(t, nil)

		result := env.svc.ProcessMessage(context.Background(), Request{
			UserID:   "U1",
			Type:     MessageTypeImage,
			Metadata: map[string]any{MetaMediaURL: "https://example.com/cat.png"},
		})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "echo: "+DefaultImagePrompt, result.Response)
		assert.Equal(t, []string{"https://example.com/cat.png"}, env.fetcher.urls)

		calls := env.gen.Calls()
		require.Len(t, calls, 1)
		last := calls[0].History[len(calls[0].History)-1]
		require.True(t, last.HasMedia())
		assert.Equal(t, "image/png", last.Media.MIMEType)
		assert.Equal(t, "https://example.com/cat.png", last.Media.URL)
	})

	t.Run("InlineWithCaption", func(t *testing.T) {
		env := newTestEnv(t, nil)

		result := env.svc.ProcessMessage(context.Background(), Request{
			UserID:  "U1",
			Type:    MessageTypeImage,
			Content: "what breed?",
			Data:    []byte{0x89, 'P', 'N', 'G'},
		})
		require.True(t, result.Success)
		assert.Equal(t, "echo: what breed?", result.Response)
		assert.Empty(t, env.fetcher.urls)
	})

	t.Run("UnusableImage", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.fetcher.err = fmt.Errorf("%w: text/plain", media.ErrUnsupportedType)

		result := env.svc.ProcessMessage(context.Background(), Request{
			UserID:   "U1",
			Type:     MessageTypeImage,
			Metadata: map[string]any{MetaMediaURL: "https://example.com/x"},
		})
		assert.False(t, result.Success)
		assert.Equal(t, errs.ErrCodeValidationFailed, result.Code)

		_, err := env.sessions.Get("U1")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("DisabledWithoutFetcher", func(t *testing.T) {
		env := newTestEnv(t, func(o *Options) { o.Fetcher = nil })

		_, ok := env.svc.Handler(MessageTypeImage)
		assert.False(t, ok)
	})
}

type panicHandler struct {
	baseHandler
}

func (panicHandler) Validate(*Message) error { return nil }

func (panicHandler) Handle(context.Context, *session.Session, *Message) (string, error) {
	panic("boom")
}

func TestProcessMessage_RecoversPanic(t *testing.T) {
	env := newTestEnv(t, nil)
	env.svc.Register("boom", panicHandler{})

	var result Result
	require.NotPanics(t, func() {
		result = env.svc.ProcessMessage(context.Background(), Request{UserID: "U1", Type: "boom"})
	})
	assert.False(t, result.Success)
	assert.Equal(t, errs.ErrCodeInternal, result.Code)
	assert.NotEmpty(t, result.RequestID)

	// The section was released.
	assert.True(t, env.send(t, "U1", "still alive").Success)
}

func TestProcessMessage_ConcurrentSameUser(t *testing.T) {
	env := newTestEnv(t, nil)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result := env.send(t, "U1", fmt.Sprintf("msg %d", i))
			assert.True(t, result.Success)
		}(i)
	}
	wg.Wait()

	assert.Len(t, env.session(t, "U1").Conversation().History(), 2*n)
	assert.Equal(t, 1, env.sessions.Len())
}

func TestGetSessionSummary(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.GetSessionSummary("U1")
	assert.True(t, errs.IsCode(err, errs.ErrCodeSessionNotFound))

	env.send(t, "U1", "hello")

	summary, err := env.svc.GetSessionSummary("U1")
	require.NoError(t, err)
	assert.Len(t, summary.Recent, 2)
	assert.Equal(t, conversation.DefaultLanguage, summary.State.Language)
}

func TestClearSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.send(t, "U1", "hello")

	env.svc.ClearSession("U1")
	env.svc.ClearSession("U1")

	_, err := env.svc.GetSessionSummary("U1")
	assert.True(t, errs.IsCode(err, errs.ErrCodeSessionNotFound))
	assert.Equal(t, session.Stats{}, env.svc.SessionStats())
}

func TestResult_ReplyText(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{"Success", Result{Success: true, Response: "hi"}, "hi"},
		{"Failure", Result{Success: false, Error: "internal detail"}, Apology},
		{"FailureWithUserText", Result{Success: false, Response: ReplySwitchUsage}, ReplySwitchUsage},
		{"EmptySuccess", Result{Success: true}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.ReplyText(Apology))
		})
	}
}
