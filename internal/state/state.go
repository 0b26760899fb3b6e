// Package state defines the persisted document shared by every job.
package state

import (
	"time"

	"github.com/abhisek/notebrief/internal/spacedrep"
)

// CurrentVersion is the schema version written by this build.
const CurrentVersion = 1

// Feature identifies one of the scheduled jobs.
type Feature string

const (
	FeatureA Feature = "feature_a" // news briefing
	FeatureB Feature = "feature_b" // review quiz
)

// Features lists the scheduled features in run order.
var Features = []Feature{FeatureA, FeatureB}

// SelectionRecord tracks how often a corpus item was selected.
type SelectionRecord struct {
	ItemID                string    `json:"item_id"`
	PickCount             int       `json:"pick_count"`
	LastPickedAt          time.Time `json:"last_picked_at"`
	LastDiscoveryPickedAt time.Time `json:"last_discovery_picked_at"`
}

// RunCounters counts committed runs of a feature.
type RunCounters struct {
	Feature   Feature   `json:"feature"`
	RunCount  int       `json:"run_count"`
	LastRunAt time.Time `json:"last_run_at"`
}

// QuizStatus is the lifecycle state of a pending quiz.
type QuizStatus string

const (
	QuizOpen    QuizStatus = "open"
	QuizScored  QuizStatus = "scored"
	QuizExpired QuizStatus = "expired"
)

// Pattern says whether a quiz covers new material or due topics.
type Pattern string

const (
	PatternLearning Pattern = "learning"
	PatternReview   Pattern = "review"
)

// PendingQuiz is a quiz question set awaiting an answer.
type PendingQuiz struct {
	ID          string     `json:"id"`
	TopicKey    string     `json:"topic_key"`
	CreatedAt   time.Time  `json:"created_at"`
	ArtifactRef string     `json:"artifact_ref"`
	Pattern     Pattern    `json:"pattern"`
	Status      QuizStatus `json:"status"`
	Deadline    time.Time  `json:"deadline"`
}

// State is the root document. Jobs receive a private clone and the
// dispatcher persists it only when the job succeeds.
type State struct {
	Version   int                                    `json:"version"`
	UpdatedAt time.Time                              `json:"updated_at"`
	Selection map[Feature]map[string]SelectionRecord `json:"selection"`
	Counters  map[Feature]RunCounters                `json:"counters"`
	Topics    map[string]spacedrep.TopicState        `json:"topics"`
	Pending   []PendingQuiz                          `json:"pending"`

	// Revision is the stored revision this document was loaded from. It is
	// not serialized; the store uses it to reject saves over a newer head.
	Revision int64 `json:"-"`
}

// Default returns an empty state with every map allocated.
func Default() *State {
	st := &State{
		Version:   CurrentVersion,
		Selection: make(map[Feature]map[string]SelectionRecord),
		Counters:  make(map[Feature]RunCounters),
		Topics:    make(map[string]spacedrep.TopicState),
		Pending:   []PendingQuiz{},
	}
	for _, f := range Features {
		st.Selection[f] = make(map[string]SelectionRecord)
		st.Counters[f] = RunCounters{Feature: f}
	}
	return st
}

// Normalize fills in maps a decoded document may lack.
func (s *State) Normalize() {
	if s.Version == 0 {
		s.Version = CurrentVersion
	}
	if s.Selection == nil {
		s.Selection = make(map[Feature]map[string]SelectionRecord)
	}
	if s.Counters == nil {
		s.Counters = make(map[Feature]RunCounters)
	}
	if s.Topics == nil {
		s.Topics = make(map[string]spacedrep.TopicState)
	}
	if s.Pending == nil {
		s.Pending = []PendingQuiz{}
	}
	for _, f := range Features {
		if s.Selection[f] == nil {
			s.Selection[f] = make(map[string]SelectionRecord)
		}
		if _, ok := s.Counters[f]; !ok {
			s.Counters[f] = RunCounters{Feature: f}
		}
	}
}

// History returns the selection history of a feature.
func (s *State) History(f Feature) map[string]SelectionRecord {
	h := s.Selection[f]
	if h == nil {
		h = make(map[string]SelectionRecord)
		s.Selection[f] = h
	}
	return h
}

// RecordRun increments a feature's run counter.
func (s *State) RecordRun(f Feature, at time.Time) RunCounters {
	c := s.Counters[f]
	c.Feature = f
	c.RunCount++
	c.LastRunAt = at
	s.Counters[f] = c
	return c
}

// OpenQuiz returns the open quiz for a topic.
func (s *State) OpenQuiz(topicKey string) (PendingQuiz, int, bool) {
	for i, q := range s.Pending {
		if q.TopicKey == topicKey && q.Status == QuizOpen {
			return q, i, true
		}
	}
	return PendingQuiz{}, -1, false
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := &State{
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
		Selection: make(map[Feature]map[string]SelectionRecord, len(s.Selection)),
		Counters:  make(map[Feature]RunCounters, len(s.Counters)),
		Topics:    make(map[string]spacedrep.TopicState, len(s.Topics)),
		Pending:   append([]PendingQuiz{}, s.Pending...),
		Revision:  s.Revision,
	}
	for f, h := range s.Selection {
		cp := make(map[string]SelectionRecord, len(h))
		for k, v := range h {
			cp[k] = v
		}
		out.Selection[f] = cp
	}
	for f, c := range s.Counters {
		out.Counters[f] = c
	}
	for k, ts := range s.Topics {
		ts.History = append([]spacedrep.Outcome(nil), ts.History...)
		if ts.LastOutcome != nil {
			lo := *ts.LastOutcome
			ts.LastOutcome = &lo
		}
		out.Topics[k] = ts
	}
	return out
}
