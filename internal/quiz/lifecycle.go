// Package quiz manages pending quizzes, from creation in a briefing to
// resolution by an answer or by expiry.
package quiz

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/notebrief/internal/spacedrep"
	"github.com/abhisek/notebrief/internal/state"
)

// Resolution describes how a quiz was closed.
type Resolution struct {
	Quiz        state.PendingQuiz
	Topic       spacedrep.TopicState
	LevelChange spacedrep.LevelChange
}

// Create opens a quiz for topicKey. It fails with *ConflictError when the
// topic already has an open quiz; the existing quiz is left untouched.
func Create(st *state.State, topicKey, artifactRef string, pattern state.Pattern, createdAt, deadline time.Time) (state.PendingQuiz, error) {
	topicKey = strings.TrimSpace(topicKey)
	if open, _, ok := st.OpenQuiz(topicKey); ok {
		return state.PendingQuiz{}, &ConflictError{TopicKey: topicKey, OpenID: open.ID}
	}

	q := state.PendingQuiz{
		ID:          uuid.NewString(),
		TopicKey:    topicKey,
		CreatedAt:   createdAt,
		ArtifactRef: artifactRef,
		Pattern:     pattern,
		Status:      state.QuizOpen,
		Deadline:    deadline,
	}
	st.Pending = append(st.Pending, q)
	return q, nil
}

// ResolveAnswered applies a scored answer to the topic's open quiz.
func ResolveAnswered(st *state.State, topicKey string, q1Correct bool, grade spacedrep.Grade, at time.Time) (Resolution, error) {
	_, idx, ok := st.OpenQuiz(topicKey)
	if !ok {
		return Resolution{}, &NotFoundError{TopicKey: topicKey}
	}
	return resolve(st, idx, spacedrep.Outcome{At: at, Q1Correct: q1Correct, Grade: grade}, state.QuizScored), nil
}

// ExpireOverdue resolves every open quiz whose deadline has passed as a
// wrong answer graded poor. Running it twice changes nothing the second time.
func ExpireOverdue(st *state.State, now time.Time) []Resolution {
	var out []Resolution
	for i := 0; i < len(st.Pending); {
		q := st.Pending[i]
		if q.Status != state.QuizOpen || q.Deadline.After(now) {
			i++
			continue
		}
		// resolve removes index i, so the next quiz slides into place.
		out = append(out, resolve(st, i, spacedrep.Outcome{
			At:        now,
			Q1Correct: false,
			Grade:     spacedrep.GradePoor,
			Expired:   true,
		}, state.QuizExpired))
	}
	return out
}

// resolve folds the outcome into the topic and drops the quiz from the
// pending list.
func resolve(st *state.State, idx int, o spacedrep.Outcome, status state.QuizStatus) Resolution {
	q := st.Pending[idx]
	q.Status = status

	topic, ok := st.Topics[q.TopicKey]
	if !ok {
		topic = spacedrep.TopicState{TopicKey: q.TopicKey}
	}
	next, change := spacedrep.Apply(topic, o)
	st.Topics[q.TopicKey] = next

	st.Pending = append(st.Pending[:idx:idx], st.Pending[idx+1:]...)

	return Resolution{Quiz: q, Topic: next, LevelChange: change}
}

// OpenQuizzes returns the open quizzes in creation order.
func OpenQuizzes(st *state.State) []state.PendingQuiz {
	out := make([]state.PendingQuiz, 0, len(st.Pending))
	for _, q := range st.Pending {
		if q.Status == state.QuizOpen {
			out = append(out, q)
		}
	}
	return out
}
