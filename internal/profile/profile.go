package profile

import (
	"log/slog"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/lineai/plugin/ai/timeout"
)

// Defaults applied by Validate to unset fields.
const (
	DefaultAddr                     = ""
	DefaultPort                     = 8081
	DefaultModel                    = "gemini-2.0-flash"
	DefaultMaxHistoryLength         = 50
	DefaultMemoryCapacity           = 100
	DefaultImportanceThreshold      = 0.5
	DefaultAssistantImportance      = 0.5
	DefaultMaxConcurrentGenerations = 16
	DefaultRateLimitPerSecond       = 1.0
	DefaultRateLimitBurst           = 5
	DefaultMediaMaxBytes            = 10 << 20
	DefaultMediaMaxDimension        = 1568
	DefaultMediaCacheSize           = 128
	DefaultMediaCacheTTL            = 10 * time.Minute
	DefaultLLMMaxRetries            = 3
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Version is the current version of server
	Version string

	// Generation backends
	DefaultModel   string   // LINEAI_DEFAULT_MODEL
	OpenAIAPIKey   string   // LINEAI_OPENAI_API_KEY
	OpenAIBaseURL  string   // LINEAI_OPENAI_BASE_URL (empty: public endpoint)
	OpenAIModels   []string // LINEAI_OPENAI_MODELS
	GeminiAPIKey   string   // LINEAI_GEMINI_API_KEY
	GeminiModels   []string // LINEAI_GEMINI_MODELS
	LLMMaxTokens   int      // LINEAI_LLM_MAX_TOKENS (0: backend default)
	LLMTemperature float64  // LINEAI_LLM_TEMPERATURE (0: backend default)
	LLMMaxRetries  int      // LINEAI_LLM_MAX_RETRIES (default: 3)

	GenerationTimeout        time.Duration // LINEAI_GENERATION_TIMEOUT (default: 60s)
	MaxConcurrentGenerations int           // LINEAI_MAX_CONCURRENT_GENERATIONS (default: 16)

	// Sessions and memory
	SessionTimeout      time.Duration // LINEAI_SESSION_TIMEOUT (default: 1h)
	CleanupInterval     time.Duration // LINEAI_CLEANUP_INTERVAL (default: 5m)
	MaxHistoryLength    int           // LINEAI_MAX_HISTORY_LENGTH (default: 50)
	MemoryCapacity      int           // LINEAI_MEMORY_CAPACITY (default: 100)
	ImportanceThreshold float64       // LINEAI_IMPORTANCE_THRESHOLD (default: 0.5)
	MemoryMaxAge        time.Duration // LINEAI_MEMORY_MAX_AGE (default: 720h)
	AssistantImportance float64       // LINEAI_ASSISTANT_IMPORTANCE (default: 0.5)

	// Transport
	RateLimitPerSecond   float64       // LINEAI_RATE_LIMIT_PER_SECOND (default: 1)
	RateLimitBurst       int           // LINEAI_RATE_LIMIT_BURST (default: 5)
	MediaMaxBytes        int64         // LINEAI_MEDIA_MAX_BYTES (default: 10MiB)
	MediaMaxDimension    int           // LINEAI_MEDIA_MAX_DIMENSION (default: 1568)
	MediaCacheSize       int           // LINEAI_MEDIA_CACHE_SIZE (default: 128)
	MediaCacheTTL        time.Duration // LINEAI_MEDIA_CACHE_TTL (default: 10m)
	EventListenerTimeout time.Duration // LINEAI_EVENT_LISTENER_TIMEOUT (default: 5s)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// HasBackend returns true if at least one generation backend is configured.
func (p *Profile) HasBackend() bool {
	return (p.OpenAIAPIKey != "" && len(p.OpenAIModels) > 0) ||
		(p.GeminiAPIKey != "" && len(p.GeminiModels) > 0)
}

// Models returns every model id served by a configured backend.
func (p *Profile) Models() []string {
	var models []string
	if p.OpenAIAPIKey != "" {
		models = append(models, p.OpenAIModels...)
	}
	if p.GeminiAPIKey != "" {
		models = append(models, p.GeminiModels...)
	}
	return models
}

// Validate applies defaults to unset fields and rejects inconsistent settings.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	if p.Port < 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}

	p.applyDefaults()

	if p.ImportanceThreshold > 1 {
		return errors.Errorf("importance threshold %v is outside (0,1]", p.ImportanceThreshold)
	}
	if p.AssistantImportance < 0 || p.AssistantImportance > 1 {
		return errors.Errorf("assistant importance %v is outside [0,1]", p.AssistantImportance)
	}
	if p.RateLimitPerSecond < 0 {
		return errors.Errorf("invalid rate limit %v", p.RateLimitPerSecond)
	}

	if !p.HasBackend() {
		err := errors.New("no generation backend configured")
		slog.Error("failed to validate profile", slog.String("error", err.Error()))
		return errors.Wrapf(err, "set LINEAI_OPENAI_API_KEY or LINEAI_GEMINI_API_KEY")
	}
	models := p.Models()
	if p.DefaultModel == "" {
		p.DefaultModel = models[0]
	}
	if !slices.Contains(models, p.DefaultModel) {
		return errors.Wrapf(errors.New("default model is not served by any backend"),
			"model %q, available %v", p.DefaultModel, models)
	}

	return nil
}

func (p *Profile) applyDefaults() {
	if p.LLMMaxRetries <= 0 {
		p.LLMMaxRetries = DefaultLLMMaxRetries
	}
	if p.GenerationTimeout <= 0 {
		p.GenerationTimeout = timeout.GenerationTimeout
	}
	if p.MaxConcurrentGenerations <= 0 {
		p.MaxConcurrentGenerations = DefaultMaxConcurrentGenerations
	}
	if p.SessionTimeout <= 0 {
		p.SessionTimeout = timeout.SessionIdleTimeout
	}
	if p.CleanupInterval <= 0 {
		p.CleanupInterval = timeout.CleanupInterval
	}
	if p.MaxHistoryLength <= 0 {
		p.MaxHistoryLength = DefaultMaxHistoryLength
	}
	if p.MemoryCapacity <= 0 {
		p.MemoryCapacity = DefaultMemoryCapacity
	}
	if p.ImportanceThreshold <= 0 {
		p.ImportanceThreshold = DefaultImportanceThreshold
	}
	if p.MemoryMaxAge <= 0 {
		p.MemoryMaxAge = timeout.MemoryMaxAge
	}
	if p.RateLimitPerSecond == 0 {
		p.RateLimitPerSecond = DefaultRateLimitPerSecond
	}
	if p.RateLimitBurst <= 0 {
		p.RateLimitBurst = DefaultRateLimitBurst
	}
	if p.MediaMaxBytes <= 0 {
		p.MediaMaxBytes = DefaultMediaMaxBytes
	}
	if p.MediaMaxDimension <= 0 {
		p.MediaMaxDimension = DefaultMediaMaxDimension
	}
	if p.MediaCacheSize <= 0 {
		p.MediaCacheSize = DefaultMediaCacheSize
	}
	if p.MediaCacheTTL <= 0 {
		p.MediaCacheTTL = DefaultMediaCacheTTL
	}
	if p.EventListenerTimeout <= 0 {
		p.EventListenerTimeout = timeout.ListenerTimeout
	}
}
