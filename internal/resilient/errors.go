package resilient

import (
	"errors"
	"fmt"
)

// ErrAttemptTimeout is recorded when a single attempt outlives its timeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

// TransientError is a retryable failure of a single attempt. It never
// escapes Call on its own; after exhaustion it becomes the cause of a
// TerminalError.
type TransientError struct {
	Attempt int
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError is returned when retries are exhausted or the failure was
// classified as permanent. Err carries the last cause.
type TerminalError struct {
	Attempts int
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// MarkPermanent marks err as non-retryable for DefaultClassify.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTerminal reports whether err is, or wraps, a TerminalError.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
