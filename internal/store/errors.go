package store

import (
	"errors"
	"fmt"
)

// ErrStaleState is returned by Save when another writer committed a newer
// revision after the document was loaded.
var ErrStaleState = errors.New("state changed by another writer")

// PersistenceError reports a failed read or write of the state document.
type PersistenceError struct {
	Op  string // "load" or "save"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("state %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
