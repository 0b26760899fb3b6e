package quiz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/abhisek/notebrief/internal/llm"
	"github.com/abhisek/notebrief/internal/spacedrep"
)

// Submission is a user's answer to one topic's quiz.
type Submission struct {
	TopicKey     string `json:"topic_key" validate:"required"`
	Q1Choice     string `json:"q1_choice" validate:"required,max=200"`
	Q2Answer     string `json:"q2_answer" validate:"max=10000"`
	BriefingFile string `json:"briefing_file"`
}

// Evaluation is the LLM's verdict on a submission.
type Evaluation struct {
	Q1Correct       bool            `json:"q1_correct"`
	Q1CorrectAnswer string          `json:"q1_correct_answer"`
	Q1Explanation   string          `json:"q1_explanation"`
	Q2Evaluation    spacedrep.Grade `json:"q2_evaluation"`
	Q2Feedback      string          `json:"q2_feedback"`
}

// ScoreSchema constrains the scoring response.
var ScoreSchema = &llm.Schema{
	Name:        "quiz-score",
	Description: "Scores a two-question quiz against the source note",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"q1_correct":        map[string]any{"type": "boolean"},
			"q1_correct_answer": map[string]any{"type": "string"},
			"q1_explanation":    map[string]any{"type": "string"},
			"q2_evaluation":     map[string]any{"type": "string", "enum": []any{"good", "partial", "poor"}},
			"q2_feedback":       map[string]any{"type": "string"},
		},
		"required":             []any{"q1_correct", "q1_correct_answer", "q1_explanation", "q2_evaluation", "q2_feedback"},
		"additionalProperties": false,
	},
}

const scoringSystemPrompt = `You grade short quizzes built from the user's own notes.
Judge only against the source material and the questions given.
Q1 is multiple choice: decide whether the chosen option is correct, name the correct option and explain briefly.
Q2 is free text. Grade it:
- good: explains the core points correctly
- partial: on the right track but misses important elements
- poor: fundamentally wrong or not an answer
Respond with JSON only.`

const missingText = "(not available)"

// Resolver maps a topic key to the note it was generated from.
type Resolver interface {
	Resolve(key string) (string, bool)
}

// ScorerConfig configures a Scorer.
type ScorerConfig struct {
	Timeout   time.Duration
	MaxTokens int
	Logger    zerolog.Logger
}

// Scorer grades submissions through the LLM. It only reads files; applying
// the result to state is the caller's job.
type Scorer struct {
	provider llm.Provider
	fs       afero.Fs
	sources  Resolver
	cfg      ScorerConfig
}

// NewScorer creates a Scorer. Timeout defaults to 30s.
func NewScorer(provider llm.Provider, fsys afero.Fs, sources Resolver, cfg ScorerConfig) *Scorer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Scorer{provider: provider, fs: fsys, sources: sources, cfg: cfg}
}

// Score grades sub. briefingRef locates the briefing the quiz came from and
// overrides sub.BriefingFile when set.
func (s *Scorer) Score(ctx context.Context, sub Submission, briefingRef string) (Evaluation, error) {
	if strings.TrimSpace(sub.TopicKey) == "" {
		return Evaluation{}, fmt.Errorf("score quiz: topic key is required")
	}
	if briefingRef == "" {
		briefingRef = sub.BriefingFile
	}

	source := s.readSource(sub.TopicKey)
	q1, q2 := missingText, missingText
	if briefing, err := afero.ReadFile(s.fs, briefingRef); err != nil {
		s.cfg.Logger.Warn().Err(err).Str("briefing", briefingRef).Msg("briefing unreadable, scoring without questions")
	} else if eq1, eq2, ok := ExtractQuestions(string(briefing), sub.TopicKey); ok {
		if eq1 != "" {
			q1 = eq1
		}
		if eq2 != "" {
			q2 = eq2
		}
	}

	ctx = llm.WithPurpose(ctx, llm.PurposeScoring)
	ctx = llm.WithTimeout(ctx, s.cfg.Timeout)

	req := llm.NewRequest(scoringSystemPrompt, buildScoringPrompt(source, q1, q2, sub), ScoreSchema, s.cfg.MaxTokens)
	resp, err := s.provider.Generate(ctx, req)
	if err != nil {
		return Evaluation{}, fmt.Errorf("score quiz %s: %w", sub.TopicKey, err)
	}

	ev, err := llm.Decode[Evaluation](ScoreSchema, resp.Content)
	if err != nil {
		return Evaluation{}, fmt.Errorf("score quiz %s: %w", sub.TopicKey, err)
	}
	grade, err := spacedrep.ParseGrade(string(ev.Q2Evaluation))
	if err != nil {
		return Evaluation{}, fmt.Errorf("score quiz %s: %w", sub.TopicKey, err)
	}
	ev.Q2Evaluation = grade
	return ev, nil
}

func (s *Scorer) readSource(topicKey string) string {
	if s.sources == nil {
		return missingText
	}
	p, ok := s.sources.Resolve(topicKey)
	if !ok {
		s.cfg.Logger.Warn().Str("topic_key", topicKey).Msg("source note not found")
		return missingText
	}
	raw, err := afero.ReadFile(s.fs, p)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Str("path", p).Msg("source note unreadable")
		return missingText
	}
	return string(raw)
}

func buildScoringPrompt(source, q1, q2 string, sub Submission) string {
	var b strings.Builder
	b.WriteString("## Source material\n")
	b.WriteString(source)
	b.WriteString("\n\n## Q1\n")
	b.WriteString(q1)
	b.WriteString("\n\nUser's choice: ")
	b.WriteString(sub.Q1Choice)
	b.WriteString("\n\n## Q2\n")
	b.WriteString(q2)
	b.WriteString("\n\nUser's answer:\n")
	b.WriteString(sub.Q2Answer)
	b.WriteString("\n")
	return b.String()
}
