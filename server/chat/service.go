// Package chat is the single entry point the transport layer calls with a
// decoded user message. It resolves the user's session, dispatches the message
// to its type handler, and always answers with a Result.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hrygo/lineai/plugin/ai/conversation"
	"github.com/hrygo/lineai/plugin/ai/event"
	"github.com/hrygo/lineai/plugin/ai/memory"
	"github.com/hrygo/lineai/plugin/ai/metrics"
	"github.com/hrygo/lineai/plugin/ai/session"
	"github.com/hrygo/lineai/plugin/ai/timeout"
	errs "github.com/hrygo/lineai/server/internal/errors"
	"github.com/hrygo/lineai/server/internal/observability"
	"github.com/hrygo/lineai/server/middleware"
)

// Apology is the reply shown to the user for any failed request.
const Apology = "抱歉，處理您的請求時出現錯誤。請稍後再試。"

// DefaultMaxConcurrentGenerations bounds backend calls across all users.
const DefaultMaxConcurrentGenerations = 16

// Request is a decoded inbound message.
type Request struct {
	UserID   string         `json:"user_id"`
	Type     MessageType    `json:"type"`
	Content  string         `json:"content"`
	Data     []byte         `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is the outcome of ProcessMessage. Exactly one of Response and Error
// is meaningful unless a command produced a user-facing failure string.
type Result struct {
	Success   bool           `json:"success"`
	Response  string         `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
	Code      errs.ErrorCode `json:"code,omitempty"`
	Model     string         `json:"model,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ReplyText returns the text to deliver to the user: the response when there
// is one, otherwise apology.
func (r Result) ReplyText(apology string) string {
	if r.Response != "" {
		return r.Response
	}
	if !r.Success {
		return apology
	}
	return ""
}

// Options configures a Service.
type Options struct {
	Sessions *session.Manager // Required
	Fetcher  ImageFetcher     // Enables image messages when set

	GenerationTimeout        time.Duration // default: timeout.GenerationTimeout
	MaxConcurrentGenerations int           // default: 16
	RateLimiter              *middleware.RateLimiter

	Notifier event.Notifier
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

// Service processes inbound messages.
type Service struct {
	sessions    *session.Manager
	handlers    map[MessageType]Handler
	generations *semaphore.Weighted
	genTimeout  time.Duration
	limiter     *middleware.RateLimiter
	notifier    event.Notifier
	metrics     metrics.Recorder
	logger      *slog.Logger
}

// NewService creates a Service with the text handler, and the image handler
// when a fetcher is configured.
func NewService(opts Options) (*Service, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("chat service requires a session manager")
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = timeout.GenerationTimeout
	}
	if opts.MaxConcurrentGenerations <= 0 {
		opts.MaxConcurrentGenerations = DefaultMaxConcurrentGenerations
	}
	if opts.Notifier == nil {
		opts.Notifier = event.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Service{
		sessions:    opts.Sessions,
		handlers:    make(map[MessageType]Handler),
		generations: semaphore.NewWeighted(int64(opts.MaxConcurrentGenerations)),
		genTimeout:  opts.GenerationTimeout,
		limiter:     opts.RateLimiter,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	s.Register(MessageTypeText, TextHandler{})
	if opts.Fetcher != nil {
		s.Register(MessageTypeImage, NewImageHandler(opts.Fetcher))
	}
	return s, nil
}

// Register binds h to messageType, replacing any previous handler.
// It must not be called concurrently with ProcessMessage.
func (s *Service) Register(messageType MessageType, h Handler) {
	s.handlers[messageType] = h
}

// Handler returns the handler for messageType.
func (s *Service) Handler(messageType MessageType) (Handler, bool) {
	h, ok := s.handlers[messageType]
	return h, ok
}

// ProcessMessage handles one inbound message. It never panics and never
// returns an error: failures are reported through Result.
func (s *Service) ProcessMessage(ctx context.Context, req Request) (result Result) {
	rc := observability.NewRequestContext(s.logger, string(req.Type), req.UserID)
	rc.Info("message received", slog.Int(observability.LogFieldMessageLen, len(req.Content)))
	rc.Debug("message content", slog.String("preview", preview(req.Content)))

	defer func() {
		if r := recover(); r != nil {
			rc.Error("message handler panicked", fmt.Errorf("%v", r), slog.String("stack", string(debug.Stack())))
			result = s.fail(rc, errs.Internal("message processing failed", fmt.Errorf("panic: %v", r)))
		}
		result.RequestID = rc.RequestID
		s.metrics.RecordMessage(ctx, string(req.Type), rc.Duration(), result.Success, string(result.Code))
		s.finish(ctx, rc, req, result)
	}()

	if req.UserID == "" {
		return s.fail(rc, errs.ValidationFailed("user_id is required"))
	}
	if s.limiter != nil && !s.limiter.Allow(req.UserID) {
		return s.fail(rc, errs.RateLimitExceeded("too many messages"))
	}

	if req.Type == MessageTypeText {
		if cmd, ok := parseCommand(req.Content); ok {
			return s.runCommand(ctx, rc, req.UserID, cmd)
		}
	}

	h, ok := s.Handler(req.Type)
	if !ok {
		return s.fail(rc, errs.UnknownMessageType(string(req.Type)))
	}

	msg := &Message{
		UserID:     req.UserID,
		Type:       req.Type,
		Text:       req.Content,
		Data:       req.Data,
		Metadata:   req.Metadata,
		Importance: importanceOf(req.Metadata),
	}
	if err := h.Validate(msg); err != nil {
		return s.fail(rc, h.OnError(err))
	}
	if err := h.Preprocess(ctx, msg); err != nil {
		return s.fail(rc, h.OnError(err))
	}

	sess, release, err := s.sessions.Acquire(ctx, req.UserID)
	if err != nil {
		return s.fail(rc, h.OnError(err))
	}
	defer release()

	if fields := stateFields(req.Metadata); len(fields) > 0 {
		sess.Conversation().UpdateState(fields)
	}

	reply, err := s.generate(ctx, rc, h, sess, msg)
	if err != nil {
		result = s.fail(rc, h.OnError(err))
		result.Model = sess.Model()
		return result
	}

	return Result{
		Success:  true,
		Response: h.Postprocess(reply),
		Model:    sess.Model(),
	}
}

// generate runs h.Handle under the process-wide generation bound. The
// generation timeout covers both the wait for a slot and the backend call.
func (s *Service) generate(ctx context.Context, rc *observability.RequestContext, h Handler, sess *session.Session, msg *Message) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	if err := s.generations.Acquire(genCtx, 1); err != nil {
		return "", err
	}
	defer s.generations.Release(1)

	model := sess.Model()
	start := time.Now()
	reply, err := h.Handle(genCtx, sess, msg)
	latency := time.Since(start)
	s.metrics.RecordGeneration(ctx, model, latency, err == nil)

	rc.Debug("generation finished",
		slog.String(observability.LogFieldModel, model),
		slog.Int64(observability.LogFieldDuration, latency.Milliseconds()),
		slog.Bool("success", err == nil),
	)
	return reply, err
}

// GetSessionSummary returns the conversation summary of userID's live session.
func (s *Service) GetSessionSummary(userID string) (*conversation.Summary, error) {
	sess, err := s.sessions.Get(userID)
	if err != nil {
		return nil, errs.SessionNotFound(userID)
	}
	summary := sess.Conversation().Summary()
	return &summary, nil
}

// ClearSession removes userID's session. Clearing a missing session is a no-op.
func (s *Service) ClearSession(userID string) {
	s.sessions.Clear(userID)
}

// SessionStats returns session counts.
func (s *Service) SessionStats() session.Stats {
	return s.sessions.Stats()
}

func (s *Service) fail(rc *observability.RequestContext, aiErr *errs.AIError) Result {
	rc.Warn("message failed",
		slog.String(observability.LogFieldErrorCode, string(aiErr.Code)),
		slog.String("error", aiErr.Error()),
	)
	return Result{Success: false, Error: aiErr.Message, Code: aiErr.Code}
}

func (s *Service) finish(ctx context.Context, rc *observability.RequestContext, req Request, result Result) {
	payload := map[string]any{
		"request_id":   rc.RequestID,
		"message_type": string(req.Type),
		"duration_ms":  rc.DurationMs(),
	}
	name := event.MessageProcessed
	if !result.Success {
		name = event.MessageFailed
		payload["code"] = string(result.Code)
	}
	s.notifier.Notify(ctx, name, req.UserID, payload)

	rc.Info("message finished",
		slog.Bool("success", result.Success),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
	)
}

// preview cuts text to timeout.MaxTruncateLength runes for logging.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= timeout.MaxTruncateLength {
		return text
	}
	return string(runes[:timeout.MaxTruncateLength]) + "..."
}

// importanceOf reads metadata["importance"], defaulting to 0 and clamping to [0, 1].
func importanceOf(metadata map[string]any) float64 {
	var v float64
	switch raw := metadata[MetaImportance].(type) {
	case float64:
		v = raw
	case float32:
		v = float64(raw)
	case int:
		v = float64(raw)
	case json.Number:
		v, _ = raw.Float64()
	case string:
		v, _ = strconv.ParseFloat(raw, 64)
	}
	return memory.Clamp(v)
}

// stateFields returns metadata without the reserved keys.
func stateFields(metadata map[string]any) map[string]any {
	fields := maps.Clone(metadata)
	delete(fields, MetaImportance)
	delete(fields, MetaMediaURL)
	delete(fields, MetaMIMEType)
	return fields
}
