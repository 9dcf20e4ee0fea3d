package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/lineai/plugin/ai/conversation"
)

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string   // Empty uses the public OpenAI endpoint
	Models      []string // Model ids served
	MaxTokens   int
	Temperature float32
	MaxRetries  int // Attempts per request (default: 3)
}

// OpenAIBackend talks to any OpenAI-compatible chat completion API.
type OpenAIBackend struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIBackend creates a backend.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai backend requires an API key")
	}
	if len(cfg.Models) == 0 {
		return nil, errors.New("openai backend requires at least one model")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Models() []string { return slices.Clone(b.config.Models) }

// Generate performs a chat completion over history.
func (b *OpenAIBackend) Generate(ctx context.Context, history []conversation.Turn, model string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(history),
		MaxTokens:   b.config.MaxTokens,
		Temperature: b.config.Temperature,
	}

	var result string
	err := b.doWithRetry(ctx, func() error {
		resp, err := b.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}
	return result, nil
}

// doWithRetry executes fn with exponential backoff between attempts.
func (b *OpenAIBackend) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < b.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(lastErr) {
			return lastErr
		}
		if attempt < b.config.MaxRetries-1 {
			waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			slog.Debug("openai request failed, retrying",
				"attempt", attempt+1,
				"wait_time", waitTime,
				"error", lastErr)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// retryable reports whether err may succeed on a later attempt. Client errors
// other than 429 are final.
func retryable(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return true
	}
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

func toOpenAIMessages(history []conversation.Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, turn := range history {
		msg := openai.ChatCompletionMessage{Role: openAIRole(turn.Role)}
		if turn.HasMedia() {
			if turn.Content != "" {
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: turn.Content,
				})
			}
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL(turn.Media),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		} else {
			msg.Content = turn.Content
		}
		messages = append(messages, msg)
	}
	return messages
}

func openAIRole(role conversation.Role) string {
	switch role {
	case conversation.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case conversation.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

func dataURL(media *conversation.Media) string {
	mimeType := media.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(media.Data)
}

var _ Backend = (*OpenAIBackend)(nil)
