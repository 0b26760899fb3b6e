package spacedrep

import (
	"math"
	"sort"
	"time"
)

// DueTopics returns topics with NextDueAt <= now, most overdue first and
// ties broken by TopicKey ascending.
func DueTopics(topics map[string]TopicState, now time.Time) []TopicState {
	due := make([]TopicState, 0, len(topics))
	for _, ts := range topics {
		if ts.IsDue(now) {
			due = append(due, ts)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextDueAt.Equal(due[j].NextDueAt) {
			return due[i].NextDueAt.Before(due[j].NextDueAt)
		}
		return due[i].TopicKey < due[j].TopicKey
	})
	return due
}

// DueTopic is one entry of a ScheduleSummary.
type DueTopic struct {
	TopicKey     string  `json:"topic_key"`
	Level        int     `json:"level"`
	IntervalDays int     `json:"interval_days"`
	OverdueDays  float64 `json:"overdue_days"`
	LastGrade    Grade   `json:"last_grade,omitempty"`
	LastQ1       *bool   `json:"last_q1_correct,omitempty"`
}

// ScheduleSummary describes the due topics handed to the quiz prompt.
type ScheduleSummary struct {
	Count  int        `json:"count"`
	Topics []DueTopic `json:"topics"`
}

// BuildScheduleSummary turns the output of DueTopics into prompt data.
// Order is preserved. OverdueDays is rounded to one decimal.
func BuildScheduleSummary(due []TopicState, now time.Time) ScheduleSummary {
	sum := ScheduleSummary{Count: len(due), Topics: make([]DueTopic, 0, len(due))}
	for _, ts := range due {
		dt := DueTopic{
			TopicKey:     ts.TopicKey,
			Level:        ClampLevel(ts.Level),
			IntervalDays: IntervalDays(ts.Level),
			OverdueDays:  math.Round(ts.OverdueDays(now)*10) / 10,
			LastGrade:    ts.LastGrade(),
		}
		if ts.LastOutcome != nil {
			q1 := ts.LastOutcome.Q1Correct
			dt.LastQ1 = &q1
		}
		sum.Topics = append(sum.Topics, dt)
	}
	return sum
}
