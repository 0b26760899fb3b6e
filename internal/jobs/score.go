package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhisek/notebrief/internal/dispatcher"
	"github.com/abhisek/notebrief/internal/metrics"
	"github.com/abhisek/notebrief/internal/quiz"
	"github.com/abhisek/notebrief/internal/spacedrep"
	"github.com/abhisek/notebrief/internal/state"
)

// Submitter runs reads and mutations under the dispatcher lock.
type Submitter interface {
	Submit(ctx context.Context, name string, job dispatcher.Job) error
	View(ctx context.Context, fn func(st *state.State) error) error
}

// Grader scores a submission against the briefing it answers.
type Grader interface {
	Score(ctx context.Context, sub quiz.Submission, briefingRef string) (quiz.Evaluation, error)
}

// ScoreResult is the scored evaluation plus the topic's new schedule.
type ScoreResult struct {
	quiz.Evaluation
	NewLevel        int                   `json:"new_level"`
	NewIntervalDays int                   `json:"new_interval_days"`
	NextQuizAt      time.Time             `json:"next_quiz_at"`
	LevelChange     spacedrep.LevelChange `json:"level_change"`
}

// ScoreService grades answers outside the lock and applies the result
// through the dispatcher.
type ScoreService struct {
	submitter Submitter
	grader    Grader
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
}

// NewScoreService creates a ScoreService.
func NewScoreService(s Submitter, g Grader, logger zerolog.Logger) *ScoreService {
	return &ScoreService{
		submitter: s,
		grader:    g,
		logger:    logger,
		now:       time.Now,
		inflight:  make(map[string]bool),
	}
}

// Submit scores sub and folds the outcome into the topic's schedule.
// Errors: *quiz.ConflictError while the same topic is being scored,
// *quiz.NotFoundError without an open quiz, and the grader's error when
// scoring fails. dispatcher.ErrBusy means the lock stayed held and nothing
// was committed.
func (s *ScoreService) Submit(ctx context.Context, sub quiz.Submission) (ScoreResult, error) {
	if !s.claim(sub.TopicKey) {
		return ScoreResult{}, &quiz.ConflictError{TopicKey: sub.TopicKey}
	}
	defer s.release(sub.TopicKey)

	var open state.PendingQuiz
	err := s.submitter.View(ctx, func(st *state.State) error {
		q, _, ok := st.OpenQuiz(sub.TopicKey)
		if !ok {
			return &quiz.NotFoundError{TopicKey: sub.TopicKey}
		}
		open = q
		return nil
	})
	if err != nil {
		return ScoreResult{}, err
	}

	ev, err := s.grader.Score(ctx, sub, open.ArtifactRef)
	if err != nil {
		return ScoreResult{}, err
	}

	var res ScoreResult
	err = s.submitter.Submit(ctx, "quiz-score", func(_ context.Context, run *dispatcher.Run) error {
		r, err := quiz.ResolveAnswered(run.State, sub.TopicKey, ev.Q1Correct, ev.Q2Evaluation, s.now())
		if err != nil {
			return err
		}
		run.Artifact = r.Quiz.ArtifactRef
		res = ScoreResult{
			Evaluation:      ev,
			NewLevel:        r.Topic.Level,
			NewIntervalDays: spacedrep.IntervalDays(r.Topic.Level),
			NextQuizAt:      r.Topic.NextDueAt,
			LevelChange:     r.LevelChange,
		}
		return nil
	})
	if err != nil {
		return ScoreResult{}, err
	}

	metrics.QuizOutcomes.WithLabelValues(string(state.QuizScored), string(res.LevelChange)).Inc()
	s.logger.Info().
		Str("topic_key", sub.TopicKey).
		Bool("q1_correct", ev.Q1Correct).
		Str("q2_grade", string(ev.Q2Evaluation)).
		Int("level", res.NewLevel).
		Str("level_change", string(res.LevelChange)).
		Msg("quiz scored")
	return res, nil
}

// Pending lists the open quizzes.
func (s *ScoreService) Pending(ctx context.Context) ([]state.PendingQuiz, error) {
	var open []state.PendingQuiz
	err := s.submitter.View(ctx, func(st *state.State) error {
		open = quiz.OpenQuizzes(st)
		return nil
	})
	return open, err
}

func (s *ScoreService) claim(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[topic] {
		return false
	}
	s.inflight[topic] = true
	return true
}

func (s *ScoreService) release(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, topic)
}
