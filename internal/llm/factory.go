package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/abhisek/notebrief/internal/store"
)

// NewProvider creates a Provider from configuration.
// It returns the provider wrapped with breaker, retry and logging middleware.
func NewProvider(ctx context.Context, cfg Config, eventRepo store.EventRepo, logger zerolog.Logger) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	case "mock":
		base = NewMockProvider()
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	return Wrap(base, cfg, eventRepo, logger), nil
}

// Wrap applies the middleware stack: caller → breaker → retry → logging → base.
func Wrap(base Provider, cfg Config, eventRepo store.EventRepo, logger zerolog.Logger, opts ...RetryOption) Provider {
	logged := WithLogging(base, cfg.Provider, eventRepo, logger)
	opts = append([]RetryOption{WithRetryLogger(logger)}, opts...)
	retried := WithRetry(logged, cfg.Retry, opts...)
	return WithBreaker(retried, cfg.Breaker, logger)
}
