package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/lineai/internal/profile"
	"github.com/hrygo/lineai/plugin/ai/llm"
	"github.com/hrygo/lineai/plugin/ai/timeout"
	"github.com/hrygo/lineai/server"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "lineai",
	Short: "Conversational state service for chat bots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		instanceProfile := loadProfile()

		slog.SetDefault(server.NewLogger(os.Stderr, instanceProfile))

		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		registry, err := llm.NewRegistryFromConfig(ctx, llm.NewConfigFromProfile(instanceProfile))
		if err != nil {
			return fmt.Errorf("failed to create generation backends: %w", err)
		}

		s, err := server.NewServer(ctx, instanceProfile, registry)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		printGreetings(instanceProfile, registry.Models())
		return s.Start(ctx)
	},
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("port", profile.DefaultPort)

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	flags.String("addr", profile.DefaultAddr, "address of server")
	flags.Int("port", profile.DefaultPort, "port of server")

	flags.String("default-model", "", "model bound to new sessions (default: first served model)")
	flags.String("openai-api-key", "", "OpenAI-compatible API key")
	flags.String("openai-base-url", "", "OpenAI-compatible base URL")
	flags.StringSlice("openai-models", []string{"gpt-4o-mini"}, "models served by the OpenAI backend")
	flags.String("gemini-api-key", "", "Gemini API key")
	flags.StringSlice("gemini-models", []string{profile.DefaultModel}, "models served by the Gemini backend")
	flags.Int("llm-max-tokens", 0, "max tokens per reply (0: backend default)")
	flags.Float64("llm-temperature", 0, "sampling temperature (0: backend default)")
	flags.Int("llm-max-retries", profile.DefaultLLMMaxRetries, "retries for transient backend errors")
	flags.Duration("generation-timeout", timeout.GenerationTimeout, "timeout of one backend call")
	flags.Int("max-concurrent-generations", profile.DefaultMaxConcurrentGenerations, "max backend calls in flight")

	flags.Duration("session-timeout", timeout.SessionIdleTimeout, "idle time before a session expires")
	flags.Duration("cleanup-interval", timeout.CleanupInterval, "interval of the idle session sweep")
	flags.Int("max-history-length", profile.DefaultMaxHistoryLength, "history length that triggers compaction")
	flags.Int("memory-capacity", profile.DefaultMemoryCapacity, "memory items kept per user")
	flags.Float64("importance-threshold", profile.DefaultImportanceThreshold, "importance at which a memory is protected from eviction")
	flags.Duration("memory-max-age", timeout.MemoryMaxAge, "age after which unimportant memories are dropped")
	flags.Float64("assistant-importance", profile.DefaultAssistantImportance, "importance recorded for assistant replies")

	flags.Float64("rate-limit-per-second", profile.DefaultRateLimitPerSecond, "messages per second per user")
	flags.Int("rate-limit-burst", profile.DefaultRateLimitBurst, "message burst per user")
	flags.Int64("media-max-bytes", profile.DefaultMediaMaxBytes, "max size of a downloaded image")
	flags.Int("media-max-dimension", profile.DefaultMediaMaxDimension, "longest image side sent to the backend")
	flags.Int("media-cache-size", profile.DefaultMediaCacheSize, "images kept in the media cache")
	flags.Duration("media-cache-ttl", profile.DefaultMediaCacheTTL, "lifetime of a cached image")
	flags.Duration("event-listener-timeout", timeout.ListenerTimeout, "timeout of one event listener")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("lineai")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func loadProfile() *profile.Profile {
	return &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Version: version,

		DefaultModel:   viper.GetString("default-model"),
		OpenAIAPIKey:   viper.GetString("openai-api-key"),
		OpenAIBaseURL:  viper.GetString("openai-base-url"),
		OpenAIModels:   viper.GetStringSlice("openai-models"),
		GeminiAPIKey:   viper.GetString("gemini-api-key"),
		GeminiModels:   viper.GetStringSlice("gemini-models"),
		LLMMaxTokens:   viper.GetInt("llm-max-tokens"),
		LLMTemperature: viper.GetFloat64("llm-temperature"),
		LLMMaxRetries:  viper.GetInt("llm-max-retries"),

		GenerationTimeout:        viper.GetDuration("generation-timeout"),
		MaxConcurrentGenerations: viper.GetInt("max-concurrent-generations"),

		SessionTimeout:      viper.GetDuration("session-timeout"),
		CleanupInterval:     viper.GetDuration("cleanup-interval"),
		MaxHistoryLength:    viper.GetInt("max-history-length"),
		MemoryCapacity:      viper.GetInt("memory-capacity"),
		ImportanceThreshold: viper.GetFloat64("importance-threshold"),
		MemoryMaxAge:        viper.GetDuration("memory-max-age"),
		AssistantImportance: viper.GetFloat64("assistant-importance"),

		RateLimitPerSecond:   viper.GetFloat64("rate-limit-per-second"),
		RateLimitBurst:       viper.GetInt("rate-limit-burst"),
		MediaMaxBytes:        viper.GetInt64("media-max-bytes"),
		MediaMaxDimension:    viper.GetInt("media-max-dimension"),
		MediaCacheSize:       viper.GetInt("media-cache-size"),
		MediaCacheTTL:        viper.GetDuration("media-cache-ttl"),
		EventListenerTimeout: viper.GetDuration("event-listener-timeout"),
	}
}

func printGreetings(p *profile.Profile, models []string) {
	fmt.Printf("lineai %s started successfully!\n", p.Version)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Listening on %s:%d\n", p.Addr, p.Port)
	fmt.Printf("Models: %s (default %s)\n", strings.Join(models, ", "), p.DefaultModel)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("lineai exited with error", "error", err)
		os.Exit(1)
	}
}
