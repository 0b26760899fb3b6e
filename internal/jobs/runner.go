// Package jobs implements the briefing jobs and quiz scoring on top of the
// dispatcher.
package jobs

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhisek/notebrief/internal/corpus"
	"github.com/abhisek/notebrief/internal/dispatcher"
	"github.com/abhisek/notebrief/internal/llm"
	"github.com/abhisek/notebrief/internal/metrics"
	"github.com/abhisek/notebrief/internal/output"
	"github.com/abhisek/notebrief/internal/quiz"
	"github.com/abhisek/notebrief/internal/selector"
	"github.com/abhisek/notebrief/internal/spacedrep"
	"github.com/abhisek/notebrief/internal/state"
)

// Corpus lists and reads candidate notes.
type Corpus interface {
	Scan(ctx context.Context) ([]corpus.Item, error)
	ReadContent(it corpus.Item) (string, error)
}

// Sink stores finished briefings.
type Sink interface {
	Write(ctx context.Context, a output.Artifact) (string, error)
}

// Config tunes the briefing jobs.
type Config struct {
	InputFolders      []string
	Selection         selector.Options
	MaxContextTokens  int           // default 100000
	MaxTokens         int           // default 8192
	GenerationTimeout time.Duration // default 120s
	AnswerWindow      time.Duration // default 24h
	Logger            zerolog.Logger
}

// Runner builds the feature A and B jobs.
type Runner struct {
	cfg      Config
	corpus   Corpus
	provider llm.Provider
	sink     Sink
	notifier output.Notifier

	// Now and Rand are replaceable for tests.
	Now  func() time.Time
	Rand func() *rand.Rand
}

// NewRunner creates a Runner. notifier may be nil.
func NewRunner(cfg Config, c Corpus, provider llm.Provider, sink Sink, notifier output.Notifier) *Runner {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 100_000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 120 * time.Second
	}
	if cfg.AnswerWindow <= 0 {
		cfg.AnswerWindow = 24 * time.Hour
	}
	return &Runner{
		cfg:      cfg,
		corpus:   c,
		provider: provider,
		sink:     sink,
		notifier: notifier,
		Now:      time.Now,
		Rand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
	}
}

// Jobs returns the scheduled job for each feature.
func (r *Runner) Jobs() map[state.Feature]dispatcher.Job {
	return map[state.Feature]dispatcher.Job{
		state.FeatureA: r.News,
		state.FeatureB: r.Quiz,
	}
}

// BriefingSchema is the structured output of both briefing kinds.
var BriefingSchema = &llm.Schema{
	Name:        "briefing",
	Description: "A Markdown briefing generated from the user's notes",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"markdown": map[string]any{"type": "string"},
		},
		"required":             []any{"markdown"},
		"additionalProperties": false,
	},
}

type briefing struct {
	Markdown string `json:"markdown"`
}

// News is feature A: a news briefing over recently touched notes.
func (r *Runner) News(ctx context.Context, run *dispatcher.Run) error {
	now := r.Now()
	log := r.cfg.Logger.With().Str("run_id", run.ID).Str("feature", string(state.FeatureA)).Logger()

	sel, notes, err := r.selectNotes(ctx, run.State, state.FeatureA, now)
	if err != nil {
		return err
	}

	user, err := buildUserPrompt(promptInput{
		Now:     now,
		Folders: r.cfg.InputFolders,
		Notes:   notes,
		Budget:  r.cfg.MaxContextTokens,
	})
	if err != nil {
		return err
	}
	md, err := r.generate(ctx, llm.PurposeBriefing, systemPrompt(newsSystemPrompt, sel.IsDiscovery), user)
	if err != nil {
		return err
	}

	ref, err := r.sink.Write(ctx, output.Artifact{Kind: output.KindNews, Content: md, CreatedAt: now})
	if err != nil {
		return fmt.Errorf("write briefing: %w", err)
	}

	selector.Record(run.State.History(state.FeatureA), sel, now)
	run.State.RecordRun(state.FeatureA, now)
	run.Artifact = ref

	log.Info().Int("notes", len(notes)).Bool("discovery", sel.IsDiscovery).Str("path", ref).Msg("news briefing done")
	r.notify(ctx, output.Delivery{Kind: output.KindNews, Path: ref, Title: "Daily briefing"})
	return nil
}

// Quiz is feature B: a review quiz driven by the spaced-repetition state.
func (r *Runner) Quiz(ctx context.Context, run *dispatcher.Run) error {
	now := r.Now()
	log := r.cfg.Logger.With().Str("run_id", run.ID).Str("feature", string(state.FeatureB)).Logger()

	for _, res := range quiz.ExpireOverdue(run.State, now) {
		metrics.QuizOutcomes.WithLabelValues(string(state.QuizExpired), string(res.LevelChange)).Inc()
		log.Info().Str("topic_key", res.Quiz.TopicKey).Int("level", res.Topic.Level).Msg("quiz expired unanswered")
	}

	sel, notes, err := r.selectNotes(ctx, run.State, state.FeatureB, now)
	if err != nil {
		return err
	}

	pattern := PatternFor(sel.RunIndex)
	summary := spacedrep.BuildScheduleSummary(spacedrep.DueTopics(run.State.Topics, now), now)

	user, err := buildUserPrompt(promptInput{
		Now:      now,
		Folders:  r.cfg.InputFolders,
		Notes:    notes,
		Budget:   r.cfg.MaxContextTokens,
		Schedule: &summary,
	})
	if err != nil {
		return err
	}
	md, err := r.generate(ctx, llm.PurposeQuiz, systemPrompt(quizSystemPrompt(pattern), sel.IsDiscovery), user)
	if err != nil {
		return err
	}

	ref, err := r.sink.Write(ctx, output.Artifact{Kind: output.KindQuiz, Content: md, CreatedAt: now})
	if err != nil {
		return fmt.Errorf("write quiz: %w", err)
	}

	topics := quiz.ExtractTopics(md, pattern)
	if len(topics) == 0 {
		log.Warn().Str("path", ref).Msg("quiz has no topic_key markers, nothing to track")
	}
	var created []string
	for _, t := range topics {
		q, err := quiz.Create(run.State, t.Key, ref, t.Pattern, now, now.Add(r.cfg.AnswerWindow))
		if err != nil {
			log.Warn().Err(err).Str("topic_key", t.Key).Msg("quiz not registered")
			continue
		}
		created = append(created, q.TopicKey)
		log.Info().Str("topic_key", q.TopicKey).Str("pattern", string(q.Pattern)).Time("deadline", q.Deadline).Msg("quiz registered")
	}

	selector.Record(run.State.History(state.FeatureB), sel, now)
	run.State.RecordRun(state.FeatureB, now)
	run.Artifact = ref

	log.Info().Int("notes", len(notes)).Int("due_topics", summary.Count).Str("pattern", string(pattern)).Str("path", ref).Msg("quiz briefing done")
	r.notify(ctx, output.Delivery{Kind: output.KindQuiz, Path: ref, Title: "Review quiz", Topics: created})
	return nil
}

// selectNotes scans the corpus, picks this run's notes and reads them.
func (r *Runner) selectNotes(ctx context.Context, st *state.State, f state.Feature, now time.Time) (selector.Result, []Note, error) {
	items, err := r.corpus.Scan(ctx)
	if err != nil {
		return selector.Result{}, nil, fmt.Errorf("scan corpus: %w", err)
	}
	if len(items) == 0 {
		return selector.Result{}, nil, fmt.Errorf("%w: corpus is empty", dispatcher.ErrSkipped)
	}

	runIndex := st.Counters[f].RunCount + 1
	sel := selector.Select(items, st.History(f), r.cfg.Selection, runIndex, now, r.Rand())

	notes := make([]Note, 0, len(sel.Items))
	for _, it := range sel.Items {
		body, err := r.corpus.ReadContent(it)
		if err != nil {
			r.cfg.Logger.Warn().Err(err).Str("item", it.ID).Msg("note unreadable, leaving it out")
			continue
		}
		notes = append(notes, Note{Item: it, Content: body})
	}
	if len(notes) == 0 {
		return selector.Result{}, nil, fmt.Errorf("%w: no readable notes selected", dispatcher.ErrSkipped)
	}
	return sel, notes, nil
}

func (r *Runner) generate(ctx context.Context, purpose, system, user string) (string, error) {
	ctx = llm.WithPurpose(ctx, purpose)
	ctx = llm.WithTimeout(ctx, r.cfg.GenerationTimeout)

	resp, err := r.provider.Generate(ctx, llm.NewRequest(system, user, BriefingSchema, r.cfg.MaxTokens))
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", purpose, err)
	}
	out, err := llm.Decode[briefing](BriefingSchema, resp.Content)
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", purpose, err)
	}
	if strings.TrimSpace(out.Markdown) == "" {
		return "", fmt.Errorf("%w: empty %s output", dispatcher.ErrSkipped, purpose)
	}
	return out.Markdown, nil
}

func (r *Runner) notify(ctx context.Context, d output.Delivery) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, d); err != nil {
		r.cfg.Logger.Warn().Err(err).Str("path", d.Path).Msg("notification failed")
	}
}
