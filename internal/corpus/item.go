// Package corpus scans note folders into an immutable list of items.
package corpus

import "time"

// Priority is the frontmatter priority of a note.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Item is one candidate note. Items are snapshots taken at scan time and
// are never mutated afterwards.
type Item struct {
	// ID is the slash-separated path relative to the input folder.
	ID             string
	Path           string
	Root           string
	ModifiedAt     time.Time
	Size           int64
	Tags           []string
	Priority       Priority
	Deadline       time.Time // zero when unset
	UncheckedCount int
	CheckedCount   int
}

// HasDeadline reports whether the note declares a deadline.
func (it Item) HasDeadline() bool {
	return !it.Deadline.IsZero()
}
