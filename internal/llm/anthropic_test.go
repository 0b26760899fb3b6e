package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// anthropicServer serves one canned Messages API reply and captures the
// request body.
func anthropicServer(t *testing.T, status int, reply any) (*AnthropicProvider, *map[string]any) {
	t.Helper()
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", Model: "claude-sonnet"}, option.WithBaseURL(srv.URL))
	require.NoError(t, err)
	return p, &body
}

func anthropicMessage(text, stop string) map[string]any {
	return map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": stop,
		"usage":       map[string]any{"input_tokens": 50, "output_tokens": 30},
	}
}

func anthropicError(kind, msg string) map[string]any {
	return map[string]any{"type": "error", "error": map[string]any{"type": kind, "message": msg}}
}

func TestAnthropicProvider_StructuredBriefing(t *testing.T) {
	p, body := anthropicServer(t, http.StatusOK, anthropicMessage(`{"name":"Three notes touch on retries.","age":1}`, "end_turn"))

	resp, err := p.Generate(context.Background(), NewRequest("You write a morning briefing.", "Summarize these notes.", testSchema(), 256))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Three notes touch on retries.","age":1}`, string(resp.Content))
	assert.Equal(t, Usage{InputTokens: 50, OutputTokens: 30, TotalTokens: 80}, resp.Usage)
	assert.Equal(t, StopEnd, resp.StopReason)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)

	sent := *body
	assert.Equal(t, "claude-sonnet-4-5-20250929", sent["model"])
	assert.EqualValues(t, 256, sent["max_tokens"])
	assert.NotContains(t, sent, "temperature")
	msgs := sent["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
	assert.Contains(t, sent, "output_config")
}

func TestAnthropicProvider_PlainText(t *testing.T) {
	p, _ := anthropicServer(t, http.StatusOK, anthropicMessage("just prose", "end_turn"))

	resp, err := p.Generate(context.Background(), NewRequest("", "hi", nil, 64))
	require.NoError(t, err)
	assert.JSONEq(t, `"just prose"`, string(resp.Content))
}

func TestAnthropicProvider_Truncated(t *testing.T) {
	p, _ := anthropicServer(t, http.StatusOK, anthropicMessage(`{"name":"cut`, "max_tokens"))

	_, err := p.Generate(context.Background(), NewRequest("", "hi", testSchema(), 8))
	var mt *ErrMaxTokensExceeded
	assert.ErrorAs(t, err, &mt)
}

func TestAnthropicProvider_SchemaMismatch(t *testing.T) {
	p, _ := anthropicServer(t, http.StatusOK, anthropicMessage(`{"name":"no age"}`, "end_turn"))

	_, err := p.Generate(context.Background(), NewRequest("", "hi", testSchema(), 64))
	var inv *ErrInvalidResponse
	assert.ErrorAs(t, err, &inv)
}

func TestAnthropicProvider_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		kind   string
		check  func(error) bool
	}{
		{"rate limit", http.StatusTooManyRequests, "rate_limit_error", func(err error) bool { var e *ErrRateLimit; return errors.As(err, &e) }},
		{"server error", http.StatusInternalServerError, "api_error", func(err error) bool { var e *ErrProviderUnavailable; return errors.As(err, &e) }},
		{"unauthorized", http.StatusUnauthorized, "authentication_error", func(err error) bool {
			var e *ErrUnauthorized
			return errors.As(err, &e) && e.StatusCode == http.StatusUnauthorized
		}},
		{"bad request", http.StatusBadRequest, "invalid_request_error", func(err error) bool { var e *ErrBadRequest; return errors.As(err, &e) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := anthropicServer(t, tc.status, anthropicError(tc.kind, tc.name))
			_, err := p.Generate(context.Background(), NewRequest("", "test", nil, 100))
			require.Error(t, err)
			assert.True(t, tc.check(err), "got %T (%v)", err, err)
		})
	}
}

func TestNewAnthropicProvider(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{})
	assert.Error(t, err)

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", Model: "claude-opus"})
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-1-20250805", p.ModelID())
}
