package dispatcher

import (
	"context"
	"sync"
)

// Lock is the single mutex every state mutation runs under. It remembers
// who holds it so conflicts can be logged.
type Lock struct {
	mu       sync.Mutex
	busy     bool
	holder   string
	released chan struct{}
}

// NewLock returns an unlocked Lock.
func NewLock() *Lock {
	return &Lock{released: make(chan struct{})}
}

// TryAcquire takes the lock if it is free.
func (l *Lock) TryAcquire(holder string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return false
	}
	l.busy = true
	l.holder = holder
	return true
}

// Acquire waits for the lock until ctx ends.
func (l *Lock) Acquire(ctx context.Context, holder string) error {
	for {
		l.mu.Lock()
		if !l.busy {
			l.busy = true
			l.holder = holder
			l.mu.Unlock()
			return nil
		}
		wait := l.released
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release frees the lock. Releasing a lock held by someone else is a no-op.
func (l *Lock) Release(holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.busy || l.holder != holder {
		return
	}
	l.busy = false
	l.holder = ""
	close(l.released)
	l.released = make(chan struct{})
}

// Holder reports the current holder.
func (l *Lock) Holder() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, l.busy
}
