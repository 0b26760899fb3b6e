// Package app wires configuration, storage, the LLM provider and the jobs
// into a runnable daemon.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/abhisek/notebrief/internal/config"
	"github.com/abhisek/notebrief/internal/corpus"
	"github.com/abhisek/notebrief/internal/dispatcher"
	"github.com/abhisek/notebrief/internal/jobs"
	"github.com/abhisek/notebrief/internal/llm"
	"github.com/abhisek/notebrief/internal/output"
	"github.com/abhisek/notebrief/internal/quiz"
	"github.com/abhisek/notebrief/internal/server"
	"github.com/abhisek/notebrief/internal/state"
	"github.com/abhisek/notebrief/internal/store"
	"github.com/abhisek/notebrief/internal/supervisor"
)

// Options are the inputs to New. Only Config and DBPath are required.
type Options struct {
	Config     *config.Config
	ConfigPath string // watched for schedule changes when set
	DBPath     string
	Logger     zerolog.Logger

	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Provider replaces the configured LLM provider.
	Provider llm.Provider
	// Clock defaults to the real clock.
	Clock dispatcher.Clock
}

// App owns every long-lived component.
type App struct {
	opts       Options
	store      *store.Store
	scanner    *corpus.Scanner
	sink       *output.FileSink
	runner     *jobs.Runner
	dispatcher *dispatcher.Dispatcher
	scorer     *jobs.ScoreService
}

// New opens the store and builds the components.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("app: config is required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	cfg := opts.Config
	log := opts.Logger

	st, err := store.Open(opts.DBPath, store.WithLogger(log.With().Str("component", "store").Logger()))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	provider := opts.Provider
	if provider == nil {
		provider, err = llm.NewProvider(ctx, cfg.LLM, st.EventRepo(), log.With().Str("component", "llm").Logger())
		if err != nil {
			st.Close()
			return nil, err
		}
	} else {
		provider = llm.Wrap(provider, cfg.LLM, st.EventRepo(), log.With().Str("component", "llm").Logger())
	}

	schedules, err := cfg.BuildSchedules()
	if err != nil {
		st.Close()
		return nil, err
	}

	scanner := corpus.NewScanner(opts.Fs, corpus.Config{
		Folders:      cfg.InputFolders,
		Extensions:   cfg.TargetExtensions,
		OutputFolder: cfg.OutputFolderName,
		Logger:       log.With().Str("component", "corpus").Logger(),
	})
	sink := output.NewFileSink(opts.Fs, cfg.ResolveOutputDir(), log.With().Str("component", "output").Logger())
	notifier := output.LogNotifier{Logger: log.With().Str("component", "notify").Logger()}

	runner := jobs.NewRunner(jobs.Config{
		InputFolders:      cfg.InputFolders,
		Selection:         cfg.Selection,
		MaxContextTokens:  cfg.MaxContextTokens,
		MaxTokens:         cfg.LLM.MaxTokens,
		GenerationTimeout: cfg.LLM.GenerationTimeout,
		AnswerWindow:      cfg.Quiz.AnswerWindow,
		Logger:            log.With().Str("component", "jobs").Logger(),
	}, scanner, provider, sink, notifier)

	states := st.StateRepo()
	disp := dispatcher.New(states, runner.Jobs(), schedules, dispatcher.Config{
		DeferDelay:   cfg.Dispatcher.DeferDelay,
		MisfireGrace: cfg.Dispatcher.MisfireGrace,
		SubmitWait:   cfg.Dispatcher.SubmitWait,
		Clock:        opts.Clock,
		Recorder:     st.EventRepo(),
		Logger:       log.With().Str("component", "dispatcher").Logger(),
	})

	grader := quiz.NewScorer(provider, opts.Fs, scanner, quiz.ScorerConfig{
		Timeout: cfg.LLM.ScoringTimeout,
		Logger:  log.With().Str("component", "scorer").Logger(),
	})
	scorer := jobs.NewScoreService(disp, grader, log.With().Str("component", "scoring").Logger())

	return &App{
		opts:       opts,
		store:      st,
		scanner:    scanner,
		sink:       sink,
		runner:     runner,
		dispatcher: disp,
		scorer:     scorer,
	}, nil
}

// Store returns the underlying store.
func (a *App) Store() *store.Store { return a.store }

// Dispatcher returns the job dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Scorer returns the answer scoring service.
func (a *App) Scorer() *jobs.ScoreService { return a.scorer }

// RunManual runs the given features once, in order.
func (a *App) RunManual(ctx context.Context, features ...state.Feature) error {
	return a.dispatcher.RunManual(ctx, features...)
}

// Serve runs the dispatcher, the answer endpoint and the config watcher
// under a supervisor until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.opts.Config
	tree := supervisor.NewTree(a.opts.Logger.With().Str("component", "supervisor").Logger(), supervisor.TreeConfig{})

	tree.AddScheduler(a.dispatcher)
	tree.AddAPI(server.New(server.Config{
		Addr:            cfg.Server.Addr,
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: cfg.Server.RateLimitWindow,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.HTTPWriteTimeout(),
		Logger:          a.opts.Logger.With().Str("component", "server").Logger(),
	}, a.scorer, a.dispatcher))
	if a.opts.ConfigPath != "" {
		tree.AddAPI(config.NewWatcher(a.opts.ConfigPath, a.ApplyConfig, a.opts.Logger.With().Str("component", "config").Logger()))
	}

	a.opts.Logger.Info().Str("addr", cfg.Server.Addr).Strs("input_folders", cfg.InputFolders).Msg("notebrief running")
	err := tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ApplyConfig hot-swaps the schedules from a reloaded configuration.
// Other settings take effect on restart.
func (a *App) ApplyConfig(cfg *config.Config) {
	schedules, err := cfg.BuildSchedules()
	if err != nil {
		a.opts.Logger.Warn().Err(err).Msg("reloaded schedules rejected")
		return
	}
	for _, f := range state.Features {
		a.dispatcher.UpdateSchedule(f, schedules[f])
	}
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}
