package llm

import (
	"context"
	"log/slog"

	"github.com/hrygo/lineai/internal/profile"
)

// Config represents the generation backend configuration.
type Config struct {
	OpenAI *OpenAIConfig
	Gemini *GeminiConfig
}

// NewConfigFromProfile creates backend config from profile. Backends without
// an API key are left nil.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{}

	if p.OpenAIAPIKey != "" && len(p.OpenAIModels) > 0 {
		cfg.OpenAI = &OpenAIConfig{
			APIKey:      p.OpenAIAPIKey,
			BaseURL:     p.OpenAIBaseURL,
			Models:      p.OpenAIModels,
			MaxTokens:   p.LLMMaxTokens,
			Temperature: float32(p.LLMTemperature),
			MaxRetries:  p.LLMMaxRetries,
		}
	}

	if p.GeminiAPIKey != "" && len(p.GeminiModels) > 0 {
		cfg.Gemini = &GeminiConfig{
			APIKey:      p.GeminiAPIKey,
			Models:      p.GeminiModels,
			MaxTokens:   p.LLMMaxTokens,
			Temperature: float32(p.LLMTemperature),
		}
	}

	return cfg
}

// NewRegistryFromConfig builds a registry with every configured backend.
func NewRegistryFromConfig(ctx context.Context, cfg *Config) (*Registry, error) {
	registry := NewRegistry()

	if cfg.OpenAI != nil {
		backend, err := NewOpenAIBackend(*cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(backend); err != nil {
			return nil, err
		}
		slog.Info("generation backend registered", "backend", backend.Name(), "models", backend.Models())
	}

	if cfg.Gemini != nil {
		backend, err := NewGeminiBackend(ctx, *cfg.Gemini)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(backend); err != nil {
			return nil, err
		}
		slog.Info("generation backend registered", "backend", backend.Name(), "models", backend.Models())
	}

	return registry, nil
}
