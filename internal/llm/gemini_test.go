package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiServer(t *testing.T, status int, reply any) (*GeminiProvider, *map[string]any, *string) {
	t.Helper()
	var (
		body map[string]any
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{APIKey: "g-key", Model: "gemini-flash", BaseURL: srv.URL})
	require.NoError(t, err)
	return p, &body, &path
}

func geminiReply(text, finish string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}},
			"finishReason": finish,
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 12, "candidatesTokenCount": 7, "totalTokenCount": 19},
		"modelVersion":  "gemini-2.5-flash-001",
	}
}

func TestGeminiProvider_Structured(t *testing.T) {
	p, body, path := geminiServer(t, http.StatusOK, geminiReply(`{"name":"x","age":4}`, "STOP"))

	resp, err := p.Generate(context.Background(), NewRequest("be terse", "notes", testSchema(), 128))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","age":4}`, string(resp.Content))
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 7, TotalTokens: 19}, resp.Usage)
	assert.Equal(t, "gemini-2.5-flash-001", resp.Model)
	assert.True(t, strings.HasSuffix(*path, "models/gemini-2.5-flash:generateContent"), *path)

	sent := *body
	gen := sent["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", gen["responseMimeType"])
	assert.Contains(t, gen, "responseJsonSchema")
	assert.Contains(t, sent, "systemInstruction")
}

func TestGeminiProvider_Truncated(t *testing.T) {
	p, _, _ := geminiServer(t, http.StatusOK, geminiReply(`{"name":`, "MAX_TOKENS"))

	_, err := p.Generate(context.Background(), NewRequest("", "notes", testSchema(), 4))
	var mt *ErrMaxTokensExceeded
	assert.ErrorAs(t, err, &mt)
}

func TestGeminiProvider_StatusMapping(t *testing.T) {
	p, _, _ := geminiServer(t, http.StatusServiceUnavailable, map[string]any{
		"error": map[string]any{"code": 503, "message": "overloaded", "status": "UNAVAILABLE"},
	})
	_, err := p.Generate(context.Background(), NewRequest("", "notes", nil, 4))
	var unavail *ErrProviderUnavailable
	assert.True(t, errors.As(err, &unavail), "got %T (%v)", err, err)

	p, _, _ = geminiServer(t, http.StatusForbidden, map[string]any{
		"error": map[string]any{"code": 403, "message": "bad key", "status": "PERMISSION_DENIED"},
	})
	_, err = p.Generate(context.Background(), NewRequest("", "notes", nil, 4))
	var unauth *ErrUnauthorized
	assert.True(t, errors.As(err, &unauth), "got %T (%v)", err, err)
}

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), GeminiConfig{Model: "gemini-pro"})
	assert.Error(t, err)
}
