package llm

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/abhisek/notebrief/internal/metrics"
	"github.com/abhisek/notebrief/internal/resilient"
)

// BreakerProvider stops calling a provider that keeps failing terminally.
// It wraps the retry layer, so one trip counts a whole exhausted retry
// schedule, not a single attempt.
type BreakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker[*Response]
}

// WithBreaker wraps p with a circuit breaker. A zero threshold returns p.
func WithBreaker(p Provider, cfg BreakerConfig, logger zerolog.Logger) Provider {
	if cfg.FailureThreshold == 0 {
		return p
	}
	settings := gobreaker.Settings{
		Name:        "llm-" + p.ModelID(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerOpen(to == gobreaker.StateOpen)
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("llm circuit breaker state change")
		},
		IsExcluded: func(err error) bool {
			return err != nil && !countsAsOutage(err)
		},
	}
	return &BreakerProvider{
		inner: p,
		cb:    gobreaker.NewCircuitBreaker[*Response](settings),
	}
}

func (b *BreakerProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := b.cb.Execute(func() (*Response, error) {
		return b.inner.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &resilient.TerminalError{Err: &ErrProviderUnavailable{Err: err}}
	}
	return resp, err
}

func (b *BreakerProvider) ModelID() string {
	return b.inner.ModelID()
}

// State exposes the breaker state for status output.
func (b *BreakerProvider) State() string {
	return b.cb.State().String()
}

// countsAsOutage reports whether err says the provider itself is unhealthy.
// Bad requests and malformed output are our problem, not the provider's.
func countsAsOutage(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var (
		bad *ErrBadRequest
		inv *ErrInvalidResponse
		mt  *ErrMaxTokensExceeded
	)
	if errors.As(err, &bad) || errors.As(err, &inv) || errors.As(err, &mt) {
		return false
	}
	return true
}
