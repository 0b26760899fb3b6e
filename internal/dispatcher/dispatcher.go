// Package dispatcher runs the scheduled jobs and every other state mutation
// under one lock. Each run loads the state, hands a private copy to the job
// and persists it only when the job succeeds.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abhisek/notebrief/internal/metrics"
	"github.com/abhisek/notebrief/internal/quiz"
	"github.com/abhisek/notebrief/internal/state"
	"github.com/abhisek/notebrief/internal/store"
)

// Defaults for Config.
const (
	DefaultDeferDelay   = 3 * time.Minute
	DefaultMisfireGrace = 3 * time.Hour
	DefaultSubmitWait   = 30 * time.Second
)

// ErrSkipped tells the dispatcher a job had nothing to do. Its state changes
// are still committed, and the run is recorded as skipped.
var ErrSkipped = errors.New("nothing to do")

// ErrBusy is returned by Submit and View when the lock stays held longer
// than Config.SubmitWait. Nothing has been committed.
var ErrBusy = errors.New("dispatcher busy")

// Trigger says what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerDeferred  Trigger = "deferred"
	TriggerManual    Trigger = "manual"
	TriggerSubmit    Trigger = "submit"
)

// Run is handed to a job. State is a private copy; it is committed only if
// the job returns nil or ErrSkipped.
type Run struct {
	ID        string
	Name      string
	Feature   state.Feature // empty for submitted mutations
	Trigger   Trigger
	StartedAt time.Time
	State     *state.State

	// Artifact is set by the job to the path of what it produced.
	Artifact string
}

// Job is one unit of work executed under the lock.
type Job func(ctx context.Context, run *Run) error

// StateStore is the persistence substrate.
type StateStore interface {
	Load(ctx context.Context) (*state.State, error)
	Save(ctx context.Context, st *state.State) error
}

// RunRecorder stores finished runs. It may be nil.
type RunRecorder interface {
	AppendJobRun(ctx context.Context, data store.JobRunData) error
}

// Config configures a Dispatcher.
type Config struct {
	DeferDelay   time.Duration
	MisfireGrace time.Duration

	// SubmitWait bounds how long Submit and View wait for the lock.
	SubmitWait time.Duration
	Clock      Clock
	Recorder   RunRecorder
	Logger     zerolog.Logger
}

// Dispatcher owns the schedules and the lock.
type Dispatcher struct {
	cfg   Config
	store StateStore
	lock  *Lock
	jobs  map[state.Feature]Job

	mu        sync.Mutex
	schedules map[state.Feature]Schedule
	nextFire  map[state.Feature]time.Time
	deferred  map[state.Feature]time.Time
	wake      chan struct{}
	running   bool
	cancel    context.CancelFunc
	loopDone  chan struct{}

	// active counts runs holding or waiting for the lock; idle is
	// signalled on d.mu when it drops to zero.
	active int
	idle   *sync.Cond
}

// New creates a dispatcher. jobs maps each scheduled feature to its job.
func New(st StateStore, jobs map[state.Feature]Job, schedules map[state.Feature]Schedule, cfg Config) *Dispatcher {
	if cfg.DeferDelay <= 0 {
		cfg.DeferDelay = DefaultDeferDelay
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = DefaultMisfireGrace
	}
	if cfg.SubmitWait <= 0 {
		cfg.SubmitWait = DefaultSubmitWait
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}

	d := &Dispatcher{
		cfg:       cfg,
		store:     st,
		lock:      NewLock(),
		jobs:      jobs,
		schedules: make(map[state.Feature]Schedule),
		nextFire:  make(map[state.Feature]time.Time),
		deferred:  make(map[state.Feature]time.Time),
		wake:      make(chan struct{}, 1),
	}
	d.idle = sync.NewCond(&d.mu)
	for f, s := range schedules {
		d.schedules[f] = s
	}
	return d
}

// Lock exposes the dispatcher's mutex.
func (d *Dispatcher) Lock() *Lock { return d.lock }

// Start launches the scheduling loop. It returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	now := d.cfg.Clock.Now()
	for f, s := range d.schedules {
		d.nextFire[f] = s.Next(now)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.loopDone = make(chan struct{})
	// Runs get ctx, not loopCtx, so Stop leaves them alone.
	go d.loop(loopCtx, ctx, d.loopDone)
	d.cfg.Logger.Info().Msg("dispatcher started")
}

// Stop ends the loop. In-flight runs continue; use Wait for them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel, done := d.cancel, d.loopDone
	d.mu.Unlock()

	cancel()
	<-done
	d.cfg.Logger.Info().Msg("dispatcher stopped")
}

// Wait blocks until every in-flight run has finished.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.active > 0 {
		d.idle.Wait()
	}
}

func (d *Dispatcher) track() {
	d.mu.Lock()
	d.active++
	d.mu.Unlock()
}

func (d *Dispatcher) untrack() {
	d.mu.Lock()
	d.active--
	if d.active == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

// Serve runs the loop until ctx ends, then waits for in-flight runs.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.Start(ctx)
	<-ctx.Done()
	d.Stop()
	d.Wait()
	return ctx.Err()
}

func (d *Dispatcher) String() string { return "dispatcher" }

// UpdateSchedule swaps a feature's schedule. The loop picks it up before
// its next tick; runs already in progress are unaffected.
func (d *Dispatcher) UpdateSchedule(f state.Feature, s Schedule) {
	d.mu.Lock()
	d.schedules[f] = s
	if d.running {
		d.nextFire[f] = s.Next(d.cfg.Clock.Now())
	}
	d.mu.Unlock()

	d.cfg.Logger.Info().Str("feature", string(f)).Int("rules", len(s.rules)).Msg("schedule updated")
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop(ctx, runCtx context.Context, done chan struct{}) {
	defer close(done)
	for {
		var (
			timer Timer
			fire  <-chan time.Time
		)
		if wait, ok := d.untilNext(); ok {
			timer = d.cfg.Clock.NewTimer(wait)
			fire = timer.C()
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-d.wake:
			stopTimer(timer)
			continue
		case <-fire:
			d.fireDue(runCtx)
		}
	}
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}

// untilNext returns the wait until the next rule fire or deferred retry.
func (d *Dispatcher) untilNext() (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var next time.Time
	consider := func(t time.Time) {
		if !t.IsZero() && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	for _, t := range d.nextFire {
		consider(t)
	}
	for _, t := range d.deferred {
		consider(t)
	}
	if next.IsZero() {
		return 0, false
	}
	return next.Sub(d.cfg.Clock.Now()), true
}

type trigger struct {
	feature state.Feature
	kind    Trigger
}

func (d *Dispatcher) fireDue(ctx context.Context) {
	now := d.cfg.Clock.Now()
	var due []trigger

	d.mu.Lock()
	for f, at := range d.deferred {
		if !at.After(now) {
			delete(d.deferred, f)
			due = append(due, trigger{f, TriggerDeferred})
		}
	}
	for f, nf := range d.nextFire {
		if nf.IsZero() || nf.After(now) {
			continue
		}
		sched := d.schedules[f]
		// Coalesce every fire missed since nf into the latest one.
		latest := nf
		for n := sched.Next(latest); !n.IsZero() && !n.After(now); n = sched.Next(latest) {
			latest = n
		}
		d.nextFire[f] = sched.Next(now)

		if late := now.Sub(latest); late > d.cfg.MisfireGrace {
			metrics.JobMisfires.WithLabelValues(string(f)).Inc()
			d.cfg.Logger.Warn().Str("feature", string(f)).Time("due", latest).Dur("late", late).Msg("misfire, skipping run")
			continue
		}
		if _, pending := d.deferred[f]; pending {
			continue
		}
		due = append(due, trigger{f, TriggerScheduled})
	}
	d.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].feature < due[j].feature })
	for _, t := range due {
		d.tryRun(ctx, t)
	}
}

// tryRun starts a scheduled run if the lock is free and defers it otherwise.
func (d *Dispatcher) tryRun(ctx context.Context, t trigger) {
	job, ok := d.jobs[t.feature]
	if !ok {
		d.cfg.Logger.Warn().Str("feature", string(t.feature)).Msg("no job registered")
		return
	}

	runID := uuid.NewString()
	if !d.lock.TryAcquire(runID) {
		holder, _ := d.lock.Holder()
		retryAt := d.cfg.Clock.Now().Add(d.cfg.DeferDelay)

		d.mu.Lock()
		d.deferred[t.feature] = retryAt
		d.mu.Unlock()

		metrics.JobDeferrals.WithLabelValues(string(t.feature)).Inc()
		d.cfg.Logger.Info().
			Str("feature", string(t.feature)).
			Str("holder", holder).
			Time("retry_at", retryAt).
			Msg("lock busy, deferring run")
		return
	}

	d.track()
	go func() {
		defer d.untrack()
		defer d.lock.Release(runID)
		run := &Run{ID: runID, Name: string(t.feature), Feature: t.feature, Trigger: t.kind}
		_ = d.runLocked(ctx, run, job)
	}()
}

// Execute runs job for feature, waiting for the lock.
func (d *Dispatcher) Execute(ctx context.Context, f state.Feature, job Job) error {
	return d.execute(ctx, &Run{Name: string(f), Feature: f, Trigger: TriggerManual}, job, 0)
}

// RunManual runs the given features in order, each to completion, waiting
// on the lock. A failure does not stop the following features.
func (d *Dispatcher) RunManual(ctx context.Context, features ...state.Feature) error {
	var errs []error
	for _, f := range features {
		job, ok := d.jobs[f]
		if !ok {
			errs = append(errs, fmt.Errorf("no job registered for %s", f))
			continue
		}
		if err := d.Execute(ctx, f, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
		}
	}
	return errors.Join(errs...)
}

// Submit runs an externally triggered mutation through the same path as
// scheduled jobs. It gives up with ErrBusy after Config.SubmitWait.
func (d *Dispatcher) Submit(ctx context.Context, name string, job Job) error {
	return d.execute(ctx, &Run{Name: name, Trigger: TriggerSubmit}, job, d.cfg.SubmitWait)
}

// View runs fn on the committed state under the lock. Nothing is saved.
// It gives up with ErrBusy after Config.SubmitWait.
func (d *Dispatcher) View(ctx context.Context, fn func(st *state.State) error) error {
	holder := "view-" + uuid.NewString()
	d.track()
	defer d.untrack()
	if err := d.acquire(ctx, holder, d.cfg.SubmitWait); err != nil {
		return err
	}
	defer d.lock.Release(holder)

	st, err := d.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	return fn(st)
}

// execute waits for the lock, at most wait when wait is positive.
func (d *Dispatcher) execute(ctx context.Context, run *Run, job Job, wait time.Duration) error {
	run.ID = uuid.NewString()
	d.track()
	defer d.untrack()
	if err := d.acquire(ctx, run.ID, wait); err != nil {
		return err
	}
	defer d.lock.Release(run.ID)
	return d.runLocked(ctx, run, job)
}

func (d *Dispatcher) acquire(ctx context.Context, holder string, wait time.Duration) error {
	if wait <= 0 {
		if err := d.lock.Acquire(ctx, holder); err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := d.lock.Acquire(waitCtx, holder); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("acquire lock: %w", ctx.Err())
		}
		current, _ := d.lock.Holder()
		d.cfg.Logger.Info().Str("holder", current).Dur("wait", wait).Msg("lock busy, rejecting request")
		return fmt.Errorf("%w: lock held by %s", ErrBusy, current)
	}
	return nil
}

// runLocked is load, clone, job, save. The caller holds the lock.
func (d *Dispatcher) runLocked(ctx context.Context, run *Run, job Job) error {
	log := d.cfg.Logger.With().Str("run_id", run.ID).Str("job", run.Name).Str("trigger", string(run.Trigger)).Logger()
	run.StartedAt = d.cfg.Clock.Now()
	start := time.Now()

	loaded, err := d.store.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("state load failed, using default state")
		loaded = state.Default()
	}
	run.State = loaded.Clone()

	log.Info().Msg("run started")
	jobErr := job(ctx, run)
	skipped := errors.Is(jobErr, ErrSkipped)

	runErr := jobErr
	if jobErr == nil || skipped {
		runErr = nil
		if err := d.store.Save(context.WithoutCancel(ctx), run.State); err != nil {
			metrics.StateSaveFailures.Inc()
			runErr = fmt.Errorf("commit state: %w", err)
		} else {
			metrics.PendingQuizzes.Set(float64(len(quiz.OpenQuizzes(run.State))))
		}
	}

	if run.Feature != "" {
		metrics.RecordJob(string(run.Feature), time.Since(start), runErr)
	}
	outcome := "ok"
	switch {
	case runErr != nil:
		outcome = "failed"
		log.Error().Err(runErr).Dur("elapsed", time.Since(start)).Msg("run failed, nothing committed")
	case skipped:
		outcome = "skipped"
		log.Info().Str("reason", jobErr.Error()).Msg("run skipped")
	default:
		log.Info().Str("artifact", run.Artifact).Dur("elapsed", time.Since(start)).Msg("run committed")
	}
	d.record(ctx, run, outcome, runErr)
	return runErr
}

func (d *Dispatcher) record(ctx context.Context, run *Run, outcome string, err error) {
	if d.cfg.Recorder == nil {
		return
	}
	data := store.JobRunData{
		RunID:      run.ID,
		Feature:    run.Name,
		Trigger:    string(run.Trigger),
		StartedAt:  run.StartedAt,
		FinishedAt: d.cfg.Clock.Now(),
		Outcome:    outcome,
		Artifact:   run.Artifact,
	}
	if err != nil {
		data.ErrorMessage = err.Error()
	}
	if recErr := d.cfg.Recorder.AppendJobRun(context.WithoutCancel(ctx), data); recErr != nil {
		d.cfg.Logger.Warn().Err(recErr).Msg("failed to record job run")
	}
}

// FeatureStatus describes one scheduled feature.
type FeatureStatus struct {
	Feature  state.Feature `json:"feature"`
	NextFire time.Time     `json:"next_fire"`
	Deferred time.Time     `json:"deferred_until"`
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	Running  bool            `json:"running"`
	Holder   string          `json:"holder,omitempty"`
	Features []FeatureStatus `json:"features"`
}

// Snapshot reports schedules, deferrals and the lock holder.
func (d *Dispatcher) Snapshot() Status {
	holder, _ := d.lock.Holder()

	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{Running: d.running, Holder: holder}
	for _, f := range state.Features {
		st.Features = append(st.Features, FeatureStatus{
			Feature:  f,
			NextFire: d.nextFire[f],
			Deferred: d.deferred[f],
		})
	}
	return st
}
