package llm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_ServesQueueInOrder(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"a":1}`), Usage: newUsage(10, 5)},
		MockResponse{Content: json.RawMessage(`{"b":2}`)},
	)

	first, err := mock.Generate(context.Background(), NewRequest("", "first", nil, 10))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(first.Content))
	assert.Equal(t, Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, first.Usage)
	assert.Equal(t, StopEnd, first.StopReason)

	second, err := mock.Generate(context.Background(), NewRequest("", "second", nil, 10))
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(second.Content))

	last, ok := mock.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "second", last.Prompt)
	assert.Equal(t, 2, mock.CallCount())
}

func TestMockProvider_EmptyQueue(t *testing.T) {
	mock := NewMockProvider()
	_, ok := mock.LastRequest()
	assert.False(t, ok)

	_, err := mock.Generate(context.Background(), Request{})
	var unavail *ErrProviderUnavailable
	assert.ErrorAs(t, err, &unavail)
	assert.Equal(t, "mock", mock.ModelID())
}

func TestMockProvider_DelayHonorsContext(t *testing.T) {
	mock := NewMockProvider(MockResponse{Content: json.RawMessage(`{}`), Delay: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mock.Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequest(t *testing.T) {
	schema := testSchema()
	req := NewRequest("sys", "user", schema, 512)
	assert.Equal(t, "sys", req.System)
	assert.Equal(t, "user", req.Prompt)
	assert.Same(t, schema, req.Schema)
	assert.Equal(t, 512, req.MaxTokens)
	assert.Zero(t, req.Temperature)
}

func TestSerializeRequest(t *testing.T) {
	out := serializeRequest(NewRequest("be brief", "notes here", testSchema(), 10))
	assert.Equal(t, "[system]\nbe brief\n\n[user]\nnotes here\n\n[schema: test-object]\n", out)
	assert.Equal(t, "[user]\nhi\n", serializeRequest(NewRequest("", "hi", nil, 10)))
}

func TestPurposeContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "unknown", PurposeFrom(ctx))
	assert.Equal(t, PurposeScoring, PurposeFrom(WithPurpose(ctx, PurposeScoring)))

	_, ok := timeoutFrom(ctx)
	assert.False(t, ok)
	d, ok := timeoutFrom(WithTimeout(ctx, 30*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)
}

func TestResolveModel(t *testing.T) {
	assert.Equal(t, "claude-haiku-4-5-20251001", resolveModel("claude-haiku", anthropicModels))
	assert.Equal(t, "gpt-4.1-mini", resolveModel("gpt-mini", openaiModels))
	assert.Equal(t, "gemini-2.5-pro", resolveModel("gemini-pro", geminiModels))
	assert.Equal(t, "claude-3-7-sonnet-latest", resolveModel("claude-3-7-sonnet-latest", anthropicModels))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"anthropic without key", Config{Provider: "anthropic"}, true},
		{"anthropic with key", Config{Provider: "anthropic", Anthropic: AnthropicConfig{APIKey: "sk-test"}}, false},
		{"gemini with key", Config{Provider: "gemini", Gemini: GeminiConfig{APIKey: "g-test"}}, false},
		{"openrouter without key", Config{Provider: "openrouter"}, true},
		{"mock needs no key", Config{Provider: "mock"}, false},
		{"unknown provider", Config{Provider: "unknown"}, true},
		{"negative backoff", Config{Provider: "mock", Retry: RetryConfig{Backoff: []time.Duration{-time.Second}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.GenerationTimeout = 2 * time.Minute
			cfg.ScoringTimeout = 30 * time.Second
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateTimeoutsAndDefaults(t *testing.T) {
	assert.Error(t, Config{Provider: "mock"}.Validate(), "zero timeouts")
	assert.Error(t, DefaultConfig().Validate(), "default anthropic config has no key")

	mock := DefaultConfig()
	mock.Provider = "mock"
	assert.NoError(t, mock.Validate())
}

func TestDiscoverConfig(t *testing.T) {
	for _, k := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY"} {
		t.Setenv(k, "")
	}
	_, ok := DiscoverConfig(DefaultConfig())
	assert.False(t, ok)

	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	cfg, ok := DiscoverConfig(DefaultConfig())
	require.True(t, ok)
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Equal(t, "g-key", cfg.Gemini.APIKey)
	assert.True(t, cfg.HasKey())
}

func TestNewProvider_SelectsBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = "mock"
	p, err := NewProvider(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "mock", p.ModelID())

	cfg.Provider = "openrouter"
	cfg.OpenRouter.APIKey = "sk-or"
	p, err = NewProvider(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-2.0-flash-exp", p.ModelID())

	cfg.Provider = "nope"
	_, err = NewProvider(context.Background(), cfg, nil, zerolog.Nop())
	assert.Error(t, err)
}
