// Package resilient wraps calls to unreliable dependencies with a per-attempt
// timeout and a fixed backoff schedule.
package resilient

import (
	"context"
	"errors"
	"time"
)

// DefaultBackoff is the wait between attempts: four attempts in total.
var DefaultBackoff = []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}

// Class is the retry classification of an error.
type Class int

const (
	Retryable Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "retryable"
}

// Classifier decides whether a failed attempt may be retried.
type Classifier func(error) Class

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy configures Call.
type Policy struct {
	// Timeout bounds each attempt. Zero means no per-attempt bound.
	Timeout time.Duration

	// Backoff lists the waits between attempts. Total attempts is
	// len(Backoff)+1.
	Backoff []time.Duration

	// Classify defaults to DefaultClassify.
	Classify Classifier

	// Sleep defaults to a context-aware timer.
	Sleep Sleeper

	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy returns a policy with DefaultBackoff and the given timeout.
func DefaultPolicy(timeout time.Duration) Policy {
	return Policy{
		Timeout: timeout,
		Backoff: append([]time.Duration(nil), DefaultBackoff...),
	}
}

// Budget is the longest Call can run: every attempt hitting its timeout
// plus every wait. It is zero without a per-attempt timeout.
func (p Policy) Budget() time.Duration {
	if p.Timeout <= 0 {
		return 0
	}
	total := p.Timeout * time.Duration(len(p.Backoff)+1)
	for _, w := range p.Backoff {
		total += w
	}
	return total
}

// DefaultClassify treats errors wrapped with MarkPermanent as permanent and
// everything else, attempt timeouts included, as retryable.
func DefaultClassify(err error) Class {
	var perm *permanentError
	if errors.As(err, &perm) {
		return Permanent
	}
	return Retryable
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type result[T any] struct {
	val T
	err error
}

// Call invokes fn until it succeeds, fails permanently, or the backoff
// schedule is exhausted. fn may be invoked several times and must not
// commit side effects.
func Call[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	classify := p.Classify
	if classify == nil {
		classify = DefaultClassify
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	attempts := len(p.Backoff) + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &TerminalError{Attempts: attempt - 1, Err: err}
		}

		val, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			return val, nil
		}

		// The caller gave up; the attempt error is only a symptom.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, &TerminalError{Attempts: attempt, Err: ctxErr}
		}

		if !errors.Is(err, ErrAttemptTimeout) && classify(err) == Permanent {
			return zero, &TerminalError{Attempts: attempt, Err: err}
		}
		lastErr = &TransientError{Attempt: attempt, Err: err}

		if attempt == attempts {
			break
		}

		wait := p.Backoff[attempt-1]
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, &TerminalError{Attempts: attempt, Err: err}
		}
	}

	return zero, &TerminalError{Attempts: attempts, Err: lastErr}
}

// runAttempt runs fn bounded by timeout. fn runs on its own goroutine so an
// implementation that ignores its context still cannot hold the caller past
// the deadline.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(attemptCtx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return r.val, errors.Join(ErrAttemptTimeout, r.err)
		}
		return r.val, r.err
	case <-attemptCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrAttemptTimeout
	}
}
