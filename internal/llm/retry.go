package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhisek/notebrief/internal/metrics"
	"github.com/abhisek/notebrief/internal/resilient"
)

// RetryProvider is a decorator that runs every Generate call through the
// resilient wrapper: a per-attempt timeout and a fixed backoff schedule.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
	sleep  resilient.Sleeper
	log    zerolog.Logger
}

// RetryOption customizes a RetryProvider.
type RetryOption func(*RetryProvider)

// WithSleeper replaces the wait between attempts. Tests use it to observe
// the backoff schedule without sleeping.
func WithSleeper(s resilient.Sleeper) RetryOption {
	return func(r *RetryProvider) { r.sleep = s }
}

// WithRetryLogger sets the logger used for retry warnings.
func WithRetryLogger(l zerolog.Logger) RetryOption {
	return func(r *RetryProvider) { r.log = l }
}

// WithRetry wraps a Provider with retry logic.
func WithRetry(p Provider, cfg RetryConfig, opts ...RetryOption) Provider {
	r := &RetryProvider{inner: p, config: cfg, log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *RetryProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	purpose := PurposeFrom(ctx)
	policy := resilient.Policy{
		Timeout:  r.timeoutFor(ctx),
		Backoff:  r.config.Backoff,
		Classify: Classify,
		Sleep:    r.sleep,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			metrics.LLMRetries.WithLabelValues(purpose).Inc()
			r.log.Warn().
				Err(err).
				Str("purpose", purpose).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("llm call failed, retrying")
		},
	}

	resp, err := resilient.Call(ctx, policy, func(ctx context.Context) (*Response, error) {
		return r.inner.Generate(ctx, req)
	})
	if err != nil {
		metrics.LLMFailures.WithLabelValues(purpose, failureKind(err)).Inc()
		return nil, err
	}
	return resp, nil
}

func (r *RetryProvider) ModelID() string {
	return r.inner.ModelID()
}

func (r *RetryProvider) timeoutFor(ctx context.Context) time.Duration {
	if d, ok := timeoutFrom(ctx); ok {
		return d
	}
	return r.config.Timeout
}

// failureKind labels a terminal failure for metrics.
func failureKind(err error) string {
	var (
		rl     *ErrRateLimit
		unauth *ErrUnauthorized
		bad    *ErrBadRequest
		inv    *ErrInvalidResponse
	)
	switch {
	case errors.Is(err, resilient.ErrAttemptTimeout):
		return "timeout"
	case errors.As(err, &rl):
		return "rate_limit"
	case errors.As(err, &unauth):
		return "unauthorized"
	case errors.As(err, &bad):
		return "bad_request"
	case errors.As(err, &inv):
		return "invalid_response"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "unavailable"
}
