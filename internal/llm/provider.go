package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Provider turns one prompt into one structured completion.
type Provider interface {
	// Generate sends req and returns the completion. When req.Schema is set
	// the returned Content has been validated against it.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the configured model identifier.
	ModelID() string
}

// Request is a single-turn prompt. Briefings and scoring never carry
// conversation history, so there is one system and one user text.
type Request struct {
	System string
	Prompt string

	// Schema, when set, selects the provider's native structured output
	// mode. Without it the completion text comes back as a JSON string.
	Schema *Schema

	MaxTokens int

	// Temperature is sent only when positive.
	Temperature float64
}

// NewRequest builds a Request.
func NewRequest(system, prompt string, schema *Schema, maxTokens int) Request {
	return Request{
		System:    system,
		Prompt:    prompt,
		Schema:    schema,
		MaxTokens: maxTokens,
	}
}

// Schema is a named JSON Schema for structured output. It is compiled
// once, on first use. Declare schemas as package-level pointers.
type Schema struct {
	// Name is sent as the OpenAI schema name. Kebab-case.
	Name        string
	Description string
	Definition  map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// Stop reasons, normalized across providers.
const (
	StopEnd       = "end"
	StopMaxTokens = "max_tokens"
)

// Response holds one completion.
type Response struct {
	Content    json.RawMessage
	Usage      Usage
	Model      string // model that served the request
	StopReason string
}

// Usage is the token count of one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

func newUsage(in, out int) Usage {
	return Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

// finish turns completion text into Response content. Truncated output is
// rejected before anything else since it can never be complete JSON.
func finish(req Request, text, stop string) (json.RawMessage, error) {
	if stop == StopMaxTokens {
		return nil, &ErrMaxTokensExceeded{Content: json.RawMessage(text)}
	}
	if req.Schema == nil {
		b, err := json.Marshal(text)
		if err != nil {
			return nil, &ErrInvalidResponse{Err: err}
		}
		return b, nil
	}
	raw := json.RawMessage(unfence(text))
	if err := req.Schema.Validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// resolveModel maps a friendly model name to a provider model ID. Unknown
// names pass through so full IDs work too.
func resolveModel(name string, models map[string]string) string {
	if id, ok := models[name]; ok {
		return id
	}
	return name
}
