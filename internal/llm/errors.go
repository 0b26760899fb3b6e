package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/notebrief/internal/resilient"
)

// ErrRateLimit indicates the provider returned a rate limit error (429).
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrInvalidResponse indicates the LLM returned content that does not
// conform to the requested schema.
type ErrInvalidResponse struct {
	Content json.RawMessage
	Err     error
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("invalid LLM response: %v", e.Err)
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }

// ErrProviderUnavailable indicates the provider is down or unreachable.
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LLM provider unavailable: %v", e.Err)
	}
	return "LLM provider unavailable"
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrUnauthorized indicates the credentials were rejected (401/403).
type ErrUnauthorized struct {
	StatusCode int
	Err        error
}

func (e *ErrUnauthorized) Error() string {
	return fmt.Sprintf("LLM provider rejected credentials (%d): %v", e.StatusCode, e.Err)
}

func (e *ErrUnauthorized) Unwrap() error { return e.Err }

// ErrBadRequest indicates the provider refused the request as malformed (4xx).
type ErrBadRequest struct {
	StatusCode int
	Err        error
}

func (e *ErrBadRequest) Error() string {
	return fmt.Sprintf("LLM request rejected (%d): %v", e.StatusCode, e.Err)
}

func (e *ErrBadRequest) Unwrap() error { return e.Err }

// ErrMaxTokensExceeded indicates the response was truncated because it
// hit the MaxTokens limit.
type ErrMaxTokensExceeded struct {
	Content json.RawMessage
}

func (e *ErrMaxTokensExceeded) Error() string {
	return "LLM response truncated: max tokens exceeded"
}

// Classify sorts provider errors into retryable and permanent failures.
// Rate limits, outages, network errors and timeouts are retried. Rejected
// credentials, malformed requests and malformed or truncated output are not.
func Classify(err error) resilient.Class {
	if errors.Is(err, context.Canceled) {
		return resilient.Permanent
	}

	var (
		unauth *ErrUnauthorized
		bad    *ErrBadRequest
		inv    *ErrInvalidResponse
		maxTok *ErrMaxTokensExceeded
	)
	switch {
	case errors.As(err, &unauth), errors.As(err, &bad),
		errors.As(err, &inv), errors.As(err, &maxTok):
		return resilient.Permanent
	}
	return resilient.DefaultClassify(err)
}

// statusError maps an HTTP status from a provider SDK error to the typed
// errors above.
func statusError(status int, err error) error {
	switch {
	case status == 429:
		return &ErrRateLimit{Err: err}
	case status == 401 || status == 403:
		return &ErrUnauthorized{StatusCode: status, Err: err}
	case status == 408 || status >= 500:
		return &ErrProviderUnavailable{Err: err}
	case status >= 400:
		return &ErrBadRequest{StatusCode: status, Err: err}
	}
	return &ErrProviderUnavailable{Err: err}
}
