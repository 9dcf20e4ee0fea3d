package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"google.golang.org/genai"

	"github.com/hrygo/lineai/plugin/ai/conversation"
)

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey      string
	Models      []string
	MaxTokens   int
	Temperature float32
}

// GeminiBackend talks to the Gemini API through the genai SDK.
type GeminiBackend struct {
	client *genai.Client
	config GeminiConfig
}

// NewGeminiBackend creates a backend.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini backend requires an API key")
	}
	if len(cfg.Models) == 0 {
		return nil, errors.New("gemini backend requires at least one model")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiBackend{client: client, config: cfg}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Models() []string { return slices.Clone(b.config.Models) }

// Generate sends history as a multi-turn request. System turns become the
// system instruction.
func (b *GeminiBackend) Generate(ctx context.Context, history []conversation.Turn, model string) (string, error) {
	system, contents := toGeminiContents(history)
	if len(contents) == 0 {
		return "", errors.New("no content to send")
	}

	config := &genai.GenerateContentConfig{SystemInstruction: system}
	if b.config.MaxTokens > 0 {
		config.MaxOutputTokens = int32(b.config.MaxTokens)
	}
	if b.config.Temperature > 0 {
		config.Temperature = genai.Ptr(b.config.Temperature)
	}

	resp, err := b.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("empty gemini response")
	}
	return text, nil
}

func toGeminiContents(history []conversation.Turn) (*genai.Content, []*genai.Content) {
	var systemParts []*genai.Part
	contents := make([]*genai.Content, 0, len(history))

	for _, turn := range history {
		if turn.Role == conversation.RoleSystem {
			if turn.Content != "" {
				systemParts = append(systemParts, genai.NewPartFromText(turn.Content))
			}
			continue
		}

		var parts []*genai.Part
		if turn.Content != "" {
			parts = append(parts, genai.NewPartFromText(turn.Content))
		}
		if turn.HasMedia() {
			parts = append(parts, genai.NewPartFromBytes(turn.Media.Data, turn.Media.MIMEType))
		}
		if len(parts) == 0 {
			continue
		}

		var role genai.Role = genai.RoleUser
		if turn.Role == conversation.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = genai.NewContentFromParts(systemParts, genai.RoleUser)
	}
	return system, contents
}

var _ Backend = (*GeminiBackend)(nil)
