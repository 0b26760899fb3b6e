package llm

import (
	"context"
	"time"
)

type contextKey string

const (
	purposeKey contextKey = "llm_purpose"
	timeoutKey contextKey = "llm_timeout"
)

// Purposes used for event logging and timeout selection.
const (
	PurposeBriefing = "briefing"
	PurposeQuiz     = "quiz"
	PurposeScoring  = "scoring"
)

// WithPurpose attaches a purpose label to the context for event logging.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey, purpose)
}

// PurposeFrom extracts the purpose label from the context.
func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey).(string); ok {
		return v
	}
	return "unknown"
}

// WithTimeout overrides the per-attempt timeout used by the retry layer.
func WithTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey, d)
}

func timeoutFrom(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(timeoutKey).(time.Duration)
	return d, ok && d > 0
}
