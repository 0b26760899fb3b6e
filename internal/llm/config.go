package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/abhisek/notebrief/internal/resilient"
)

// Config holds all LLM provider configuration.
type Config struct {
	// Provider selects which LLM provider to use.
	// Values: "anthropic", "openai", "gemini", "openrouter", "mock"
	Provider string `koanf:"provider" validate:"required,oneof=anthropic openai gemini openrouter mock"`

	Anthropic  AnthropicConfig  `koanf:"anthropic"`
	OpenAI     OpenAIConfig     `koanf:"openai"`
	Gemini     GeminiConfig     `koanf:"gemini"`
	OpenRouter OpenRouterConfig `koanf:"openrouter"`
	Retry      RetryConfig      `koanf:"retry"`
	Breaker    BreakerConfig    `koanf:"breaker"`

	// GenerationTimeout bounds one briefing generation attempt.
	GenerationTimeout time.Duration `koanf:"generation_timeout" validate:"gt=0"`

	// ScoringTimeout bounds one quiz scoring attempt.
	ScoringTimeout time.Duration `koanf:"scoring_timeout" validate:"gt=0"`

	// MaxTokens caps the generated response size.
	MaxTokens int `koanf:"max_tokens" validate:"gt=0"`
}

// AnthropicConfig holds Anthropic-specific configuration.
type AnthropicConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"` // Default: "claude-sonnet"
}

// OpenAIConfig holds OpenAI-specific configuration.
type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`    // Default: "gpt-4o-mini"
	BaseURL string `koanf:"base_url"` // Optional. Override for compatible APIs.
}

// GeminiConfig holds Gemini-specific configuration.
type GeminiConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`    // Default: "gemini-flash"
	BaseURL string `koanf:"base_url"` // Optional. Proxy or test endpoint.
}

// OpenRouterConfig holds OpenRouter-specific configuration.
type OpenRouterConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`    // Default: "google/gemini-2.0-flash-exp"
	BaseURL string `koanf:"base_url"` // Default: "https://openrouter.ai/api/v1"
}

// RetryConfig configures the resilient wrapper around every request.
type RetryConfig struct {
	// Backoff is the wait before each retry. Attempts = len(Backoff)+1.
	Backoff []time.Duration `koanf:"backoff"`

	// Timeout is the per-attempt bound used when the context does not
	// carry one (see WithTimeout).
	Timeout time.Duration `koanf:"timeout"`
}

// BreakerConfig configures the circuit breaker that sits in front of the
// retry layer. A zero FailureThreshold disables it.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider: "anthropic",
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet",
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Gemini: GeminiConfig{
			Model: "gemini-flash",
		},
		OpenRouter: OpenRouterConfig{
			Model: "google/gemini-2.0-flash-exp",
		},
		Retry: RetryConfig{
			Backoff: append([]time.Duration(nil), resilient.DefaultBackoff...),
			Timeout: 120 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			OpenTimeout:      30 * time.Minute,
		},
		GenerationTimeout: 120 * time.Second,
		ScoringTimeout:    30 * time.Second,
		MaxTokens:         8192,
	}
}

// DiscoverConfig checks standard API key env vars in priority order
// (Anthropic → OpenAI → Gemini → OpenRouter) and fills the first one found
// into cfg. Returns false if none was found.
func DiscoverConfig(cfg Config) (Config, bool) {
	if k := os.Getenv("ANTHROPIC_API_KEY"); k != "" {
		cfg.Provider = "anthropic"
		cfg.Anthropic.APIKey = k
		return cfg, true
	}
	if k := os.Getenv("OPENAI_API_KEY"); k != "" {
		cfg.Provider = "openai"
		cfg.OpenAI.APIKey = k
		return cfg, true
	}
	if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		cfg.Provider = "gemini"
		cfg.Gemini.APIKey = k
		return cfg, true
	}
	if k := os.Getenv("OPENROUTER_API_KEY"); k != "" {
		cfg.Provider = "openrouter"
		cfg.OpenRouter.APIKey = k
		return cfg, true
	}
	return cfg, false
}

// HasKey reports whether the selected provider has credentials.
func (c Config) HasKey() bool {
	switch c.Provider {
	case "anthropic":
		return c.Anthropic.APIKey != ""
	case "openai":
		return c.OpenAI.APIKey != ""
	case "gemini":
		return c.Gemini.APIKey != ""
	case "openrouter":
		return c.OpenRouter.APIKey != ""
	case "mock":
		return true
	}
	return false
}

// Validate checks that the selected provider has its required API key set.
func (c Config) Validate() error {
	switch c.Provider {
	case "anthropic", "openai", "gemini", "openrouter":
		if !c.HasKey() {
			return fmt.Errorf("an API key is required for the %s provider (llm.%s.api_key)", c.Provider, c.Provider)
		}
	case "mock":
		// No API key needed.
	default:
		return fmt.Errorf("unknown LLM provider: %q", c.Provider)
	}
	if c.GenerationTimeout <= 0 || c.ScoringTimeout <= 0 {
		return fmt.Errorf("llm timeouts must be positive")
	}
	for _, d := range c.Retry.Backoff {
		if d < 0 {
			return fmt.Errorf("llm backoff entries must not be negative")
		}
	}
	return nil
}
