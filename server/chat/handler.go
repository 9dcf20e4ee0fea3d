package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/hrygo/lineai/plugin/ai/conversation"
	"github.com/hrygo/lineai/plugin/ai/media"
	"github.com/hrygo/lineai/plugin/ai/render"
	"github.com/hrygo/lineai/plugin/ai/session"
	errs "github.com/hrygo/lineai/server/internal/errors"
)

// MessageType tags an inbound message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// Reserved metadata keys. Every other key is folded into the conversation state.
const (
	MetaImportance = "importance"
	MetaMediaURL   = "media_url"
	MetaMIMEType   = "mime_type"
)

// DefaultImagePrompt is sent with an image that has no caption.
const DefaultImagePrompt = "請描述這張圖片"

// Message is an inbound message moving through a Handler.
type Message struct {
	UserID     string
	Type       MessageType
	Text       string
	Data       []byte
	Metadata   map[string]any
	Importance float64

	// Media is filled by Preprocess for message types that carry one.
	Media *conversation.Media
}

// Turn returns the user turn recorded for m.
func (m *Message) Turn() conversation.Turn {
	return conversation.Turn{
		Role:    conversation.RoleUser,
		Content: m.Text,
		Media:   m.Media,
	}
}

// Handler processes one message type. The service calls Validate and
// Preprocess outside the user's session section, then Handle and Postprocess
// inside it. OnError turns any failure along the way into a coded error.
type Handler interface {
	Validate(msg *Message) error
	Preprocess(ctx context.Context, msg *Message) error
	Handle(ctx context.Context, s *session.Session, msg *Message) (string, error)
	Postprocess(reply string) string
	OnError(err error) *errs.AIError
}

// baseHandler supplies the default hooks.
type baseHandler struct{}

func (baseHandler) Preprocess(context.Context, *Message) error { return nil }

func (baseHandler) Handle(ctx context.Context, s *session.Session, msg *Message) (string, error) {
	return s.SendTurn(ctx, msg.Turn(), msg.Importance)
}

// Postprocess strips markdown, which chat clients show verbatim.
func (baseHandler) Postprocess(reply string) string {
	return render.PlainText(reply)
}

func (baseHandler) OnError(err error) *errs.AIError {
	return classify(err)
}

// TextHandler handles plain text messages.
type TextHandler struct {
	baseHandler
}

// Validate rejects blank text.
func (TextHandler) Validate(msg *Message) error {
	if strings.TrimSpace(msg.Text) == "" {
		return errs.ValidationFailed("text message is empty")
	}
	return nil
}

// Preprocess trims surrounding whitespace.
func (TextHandler) Preprocess(_ context.Context, msg *Message) error {
	msg.Text = strings.TrimSpace(msg.Text)
	return nil
}

// ImageFetcher downloads and prepares images.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (*media.Image, error)
	Prepare(data []byte) (*media.Image, error)
}

// ImageHandler handles image messages, given by URL or inline bytes.
type ImageHandler struct {
	baseHandler
	fetcher ImageFetcher
}

// NewImageHandler creates an ImageHandler.
func NewImageHandler(fetcher ImageFetcher) *ImageHandler {
	return &ImageHandler{fetcher: fetcher}
}

// Validate requires a media URL or inline bytes.
func (h *ImageHandler) Validate(msg *Message) error {
	if len(msg.Data) == 0 && mediaURL(msg) == "" {
		return errs.ValidationFailed("image message requires media_url or data")
	}
	return nil
}

// Preprocess loads, validates and downsizes the image and defaults the prompt.
func (h *ImageHandler) Preprocess(ctx context.Context, msg *Message) error {
	url := mediaURL(msg)

	var (
		img *media.Image
		err error
	)
	if len(msg.Data) > 0 {
		img, err = h.fetcher.Prepare(msg.Data)
	} else {
		img, err = h.fetcher.Fetch(ctx, url)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return errs.Wrap(err, errs.ErrCodeValidationFailed, "cannot load image")
	}

	msg.Media = &conversation.Media{URL: url, MIMEType: img.MIMEType, Data: img.Data}
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		msg.Text = DefaultImagePrompt
	}
	return nil
}

func mediaURL(msg *Message) string {
	url, _ := msg.Metadata[MetaMediaURL].(string)
	return strings.TrimSpace(url)
}

// classify maps an error to its code.
func classify(err error) *errs.AIError {
	var aiErr *errs.AIError
	if errors.As(err, &aiErr) {
		return aiErr
	}

	var genErr *session.GenerationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Timeout("operation timed out", err)
	case errors.Is(err, context.Canceled):
		return errs.ContextCanceled(err)
	case errors.Is(err, session.ErrNotFound):
		return errs.Wrap(err, errs.ErrCodeSessionNotFound, "session not found")
	case errors.As(err, &genErr):
		return errs.GenerationFailed("generation failed", err)
	default:
		return errs.Internal("message processing failed", err)
	}
}

var (
	_ Handler = TextHandler{}
	_ Handler = (*ImageHandler)(nil)
)
