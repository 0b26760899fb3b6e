package spacedrep

import "time"

// Intervals maps a level to the number of days until the topic is due again.
var Intervals = [6]int{1, 3, 7, 14, 30, 60}

// MaxLevel is the highest level index in Intervals.
const MaxLevel = len(Intervals) - 1

// ClampLevel forces level into [0, MaxLevel].
func ClampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// IntervalDays returns the interval for level after clamping.
func IntervalDays(level int) int {
	return Intervals[ClampLevel(level)]
}

// NextDueAt returns when a topic at level becomes due, counting from the
// outcome time. Calendar days are used so the wall-clock hour is kept
// across DST changes.
func NextDueAt(level int, from time.Time) time.Time {
	return from.AddDate(0, 0, IntervalDays(level))
}

// NextLevel computes the level after a scored quiz.
//
//	Q1 correct and grade good  -> level+1, capped at MaxLevel
//	Q1 wrong or grade poor     -> 0
//	anything else (partial)    -> unchanged
func NextLevel(level int, q1Correct bool, grade Grade) int {
	level = ClampLevel(level)
	switch {
	case !q1Correct || grade == GradePoor:
		return 0
	case grade == GradeGood:
		return min(level+1, MaxLevel)
	}
	return level
}
