package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhisek/notebrief/internal/metrics"
	"github.com/abhisek/notebrief/internal/store"
)

// LoggingProvider is a decorator that records every LLM request as an event.
// It sits below the retry layer, so each attempt is recorded separately.
type LoggingProvider struct {
	inner     Provider
	provider  string
	eventRepo store.EventRepo
	log       zerolog.Logger
}

// WithLogging wraps a Provider with event logging. provider names the
// backend in recorded events. repo may be nil.
func WithLogging(p Provider, provider string, repo store.EventRepo, logger zerolog.Logger) Provider {
	return &LoggingProvider{inner: p, provider: provider, eventRepo: repo, log: logger}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	purpose := PurposeFrom(ctx)

	resp, err := l.inner.Generate(ctx, req)

	latency := time.Since(start)
	metrics.RecordLLMRequest(purpose, latency, err)

	data := store.LLMRequestEventData{
		Provider:    l.provider,
		Model:       l.inner.ModelID(),
		Purpose:     purpose,
		LatencyMs:   latency.Milliseconds(),
		Success:     err == nil,
		RequestBody: serializeRequest(req),
	}

	if resp != nil {
		data.InputTokens = resp.Usage.InputTokens
		data.OutputTokens = resp.Usage.OutputTokens
		data.Model = resp.Model
		data.ResponseBody = string(resp.Content)
	}

	ev := l.log.Debug()
	if err != nil {
		data.ErrorMessage = err.Error()
		ev = l.log.Warn().Err(err)
	}
	ev.Str("purpose", purpose).
		Str("model", data.Model).
		Dur("latency", latency).
		Int("input_tokens", data.InputTokens).
		Int("output_tokens", data.OutputTokens).
		Msg("llm request")

	if l.eventRepo == nil {
		return resp, err
	}
	// A lost event must not fail the request.
	if logErr := l.eventRepo.AppendLLMRequest(context.WithoutCancel(ctx), data); logErr != nil {
		l.log.Warn().Err(logErr).Msg("failed to record llm request event")
	}

	return resp, err
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}

// serializeRequest renders the request for the event log.
func serializeRequest(req Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString("[system]\n")
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	b.WriteString("[user]\n")
	b.WriteString(req.Prompt)
	b.WriteString("\n")
	if req.Schema != nil {
		fmt.Fprintf(&b, "\n[schema: %s]\n", req.Schema.Name)
	}
	return b.String()
}
