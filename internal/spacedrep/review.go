package spacedrep

import (
	"fmt"
	"strings"
	"time"
)

// Grade is the evaluation of the free-text question.
type Grade string

const (
	GradeGood    Grade = "good"
	GradePartial Grade = "partial"
	GradePoor    Grade = "poor"
)

// ParseGrade accepts good, partial or poor in any case.
func ParseGrade(s string) (Grade, error) {
	switch g := Grade(strings.ToLower(strings.TrimSpace(s))); g {
	case GradeGood, GradePartial, GradePoor:
		return g, nil
	}
	return "", fmt.Errorf("unknown grade %q", s)
}

// LevelChange reports the direction a scored quiz moved a topic.
type LevelChange string

const (
	LevelUpgrade   LevelChange = "upgrade"
	LevelDowngrade LevelChange = "downgrade"
	LevelSame      LevelChange = "same"
)

func compareLevels(before, after int) LevelChange {
	switch {
	case after > before:
		return LevelUpgrade
	case after < before:
		return LevelDowngrade
	}
	return LevelSame
}

// Outcome is one scored (or expired) quiz for a topic.
type Outcome struct {
	At          time.Time `json:"at"`
	Q1Correct   bool      `json:"q1_correct"`
	Grade       Grade     `json:"grade"`
	Expired     bool      `json:"expired,omitempty"`
	LevelBefore int       `json:"level_before"`
	LevelAfter  int       `json:"level_after"`
}

// TopicState holds the spaced repetition state for a single topic.
// NextDueAt is only ever derived from the last outcome through Apply.
type TopicState struct {
	TopicKey    string    `json:"topic_key"`
	Level       int       `json:"level"`
	LastOutcome *Outcome  `json:"last_outcome,omitempty"`
	NextDueAt   time.Time `json:"next_due_at"`
	History     []Outcome `json:"history,omitempty"`
}

// IsDue returns true if the topic is due at now (at or past NextDueAt).
func (ts TopicState) IsDue(now time.Time) bool {
	return !now.Before(ts.NextDueAt)
}

// OverdueDays returns how many days past due the topic is. Returns 0 if
// not yet due.
func (ts TopicState) OverdueDays(now time.Time) float64 {
	if now.Before(ts.NextDueAt) {
		return 0
	}
	return now.Sub(ts.NextDueAt).Hours() / 24.0
}

// LastGrade returns the grade of the last outcome, or "" if never quizzed.
func (ts TopicState) LastGrade() Grade {
	if ts.LastOutcome == nil {
		return ""
	}
	return ts.LastOutcome.Grade
}

// Apply folds an outcome into a topic. The input is not modified.
func Apply(topic TopicState, o Outcome) (TopicState, LevelChange) {
	before := ClampLevel(topic.Level)
	after := NextLevel(before, o.Q1Correct, o.Grade)

	o.LevelBefore = before
	o.LevelAfter = after

	next := topic
	next.Level = after
	next.NextDueAt = NextDueAt(after, o.At)
	next.History = append(append(make([]Outcome, 0, len(topic.History)+1), topic.History...), o)
	last := o
	next.LastOutcome = &last

	return next, compareLevels(before, after)
}
