package dispatcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/notebrief/internal/state"
	"github.com/abhisek/notebrief/internal/store"
)

type memStore struct {
	mu      sync.Mutex
	st      *state.State
	saves   int
	loadErr error
	saveErr error
}

func newMemStore() *memStore { return &memStore{st: state.Default()} }

func (m *memStore) Load(context.Context) (*state.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.st.Clone(), nil
}

func (m *memStore) Save(_ context.Context, st *state.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.st = st.Clone()
	m.saves++
	return nil
}

func (m *memStore) current() *state.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone()
}

type runLog struct {
	mu   sync.Mutex
	runs []store.JobRunData
}

func (r *runLog) AppendJobRun(_ context.Context, data store.JobRunData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, data)
	return nil
}

func (r *runLog) all() []store.JobRunData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.JobRunData(nil), r.runs...)
}

// countingJob records a run for feature f and counts invocations.
func countingJob(f state.Feature, n *atomic.Int32) Job {
	return func(_ context.Context, run *Run) error {
		n.Add(1)
		run.State.RecordRun(f, run.StartedAt)
		return nil
	}
}

func dailyAt(t *testing.T, hour int) Schedule {
	t.Helper()
	s, err := NewSchedule(time.UTC, Rule{Hour: hour})
	require.NoError(t, err)
	return s
}

type fixture struct {
	d     *Dispatcher
	clock *ManualClock
	store *memStore
	runs  *runLog
	a, b  atomic.Int32
}

func newFixture(t *testing.T, schedules map[state.Feature]Schedule) *fixture {
	t.Helper()
	fx := &fixture{
		clock: NewManualClock(monday.Add(8*time.Hour + 59*time.Minute)),
		store: newMemStore(),
		runs:  &runLog{},
	}
	jobs := map[state.Feature]Job{
		state.FeatureA: countingJob(state.FeatureA, &fx.a),
		state.FeatureB: countingJob(state.FeatureB, &fx.b),
	}
	fx.d = New(fx.store, jobs, schedules, Config{
		Clock:    fx.clock,
		Recorder: fx.runs,
		Logger:   zerolog.Nop(),
	})
	return fx
}

func (fx *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	fx.d.Start(ctx)
	t.Cleanup(func() {
		cancel()
		fx.d.Stop()
		fx.d.Wait()
	})
}

// stepUntil advances the clock in small steps until cond holds.
func (fx *fixture) stepUntil(t *testing.T, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		fx.clock.Advance(step)
		return false
	}, 2*time.Second, time.Millisecond)
}

func TestExecute_CommitsOnSuccess(t *testing.T) {
	fx := newFixture(t, nil)

	err := fx.d.Execute(context.Background(), state.FeatureA, func(_ context.Context, run *Run) error {
		run.State.RecordRun(state.FeatureA, run.StartedAt)
		run.Artifact = "/out/briefing.md"
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, fx.store.current().Counters[state.FeatureA].RunCount)
	runs := fx.runs.all()
	require.Len(t, runs, 1)
	assert.Equal(t, "ok", runs[0].Outcome)
	assert.Equal(t, "manual", runs[0].Trigger)
	assert.Equal(t, "/out/briefing.md", runs[0].Artifact)

	_, busy := fx.d.Lock().Holder()
	assert.False(t, busy, "lock released")
}

func TestExecute_JobErrorCommitsNothing(t *testing.T) {
	fx := newFixture(t, nil)
	boom := errors.New("llm down")

	err := fx.d.Execute(context.Background(), state.FeatureB, func(_ context.Context, run *Run) error {
		run.State.RecordRun(state.FeatureB, run.StartedAt)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, fx.store.saves)
	assert.Equal(t, 0, fx.store.current().Counters[state.FeatureB].RunCount)

	runs := fx.runs.all()
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Outcome)
	assert.Equal(t, "llm down", runs[0].ErrorMessage)
}

func TestExecute_SkippedStillCommits(t *testing.T) {
	fx := newFixture(t, nil)

	err := fx.d.Execute(context.Background(), state.FeatureB, func(_ context.Context, run *Run) error {
		run.State.Pending = append(run.State.Pending, state.PendingQuiz{ID: "x", TopicKey: "a.md#b", Status: state.QuizOpen})
		return ErrSkipped
	})
	require.NoError(t, err)
	assert.Len(t, fx.store.current().Pending, 1)
	assert.Equal(t, "skipped", fx.runs.all()[0].Outcome)
}

func TestExecute_SaveFailureFailsRun(t *testing.T) {
	fx := newFixture(t, nil)
	fx.store.saveErr = &store.PersistenceError{Op: "save", Err: errors.New("disk full")}

	err := fx.d.Execute(context.Background(), state.FeatureA, countingJob(state.FeatureA, &fx.a))
	var pe *store.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "failed", fx.runs.all()[0].Outcome)
}

func TestExecute_LoadFailureFallsBackToDefault(t *testing.T) {
	fx := newFixture(t, nil)
	fx.store.st.RecordRun(state.FeatureA, monday)
	fx.store.loadErr = errors.New("io error")

	var seen int
	err := fx.d.Execute(context.Background(), state.FeatureA, func(_ context.Context, run *Run) error {
		seen = run.State.Counters[state.FeatureA].RunCount
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, seen)
}

func TestExecute_JobSeesPrivateCopy(t *testing.T) {
	fx := newFixture(t, nil)
	var leaked *state.State
	_ = fx.d.Execute(context.Background(), state.FeatureA, func(_ context.Context, run *Run) error {
		leaked = run.State
		run.State.RecordRun(state.FeatureA, run.StartedAt)
		return errors.New("fail")
	})
	leaked.RecordRun(state.FeatureA, monday)
	assert.Equal(t, 0, fx.store.current().Counters[state.FeatureA].RunCount)
}

func TestRunManual_RunsInOrderAndContinuesAfterFailure(t *testing.T) {
	ms := newMemStore()
	var order []state.Feature
	jobs := map[state.Feature]Job{
		state.FeatureA: func(context.Context, *Run) error {
			order = append(order, state.FeatureA)
			return errors.New("a failed")
		},
		state.FeatureB: func(context.Context, *Run) error {
			order = append(order, state.FeatureB)
			return nil
		},
	}
	d := New(ms, jobs, nil, Config{Clock: NewManualClock(monday), Logger: zerolog.Nop()})

	err := d.RunManual(context.Background(), state.FeatureA, state.FeatureB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Equal(t, []state.Feature{state.FeatureA, state.FeatureB}, order)
	assert.Equal(t, 1, ms.saves)
}

func TestSubmit_WaitsForLock(t *testing.T) {
	fx := newFixture(t, nil)
	require.True(t, fx.d.Lock().TryAcquire("briefing"))

	done := make(chan error, 1)
	go func() {
		done <- fx.d.Submit(context.Background(), "quiz-score", func(_ context.Context, run *Run) error {
			run.State.RecordRun(state.FeatureB, run.StartedAt)
			return nil
		})
	}()

	select {
	case <-done:
		t.Fatal("submit ran while lock was held")
	case <-time.After(20 * time.Millisecond):
	}

	fx.d.Lock().Release("briefing")
	require.NoError(t, <-done)
	runs := fx.runs.all()
	require.Len(t, runs, 1)
	assert.Equal(t, "submit", runs[0].Trigger)
	assert.Equal(t, "quiz-score", runs[0].Feature)
}

func TestLoop_FiresOnSchedule(t *testing.T) {
	fx := newFixture(t, map[state.Feature]Schedule{state.FeatureA: dailyAt(t, 9)})
	fx.start(t)

	fx.stepUntil(t, 15*time.Second, func() bool { return fx.a.Load() == 1 })
	fx.d.Wait()

	runs := fx.runs.all()
	require.Len(t, runs, 1)
	assert.Equal(t, "scheduled", runs[0].Trigger)
	assert.Equal(t, int32(0), fx.b.Load())

	snap := fx.d.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, monday.AddDate(0, 0, 1).Add(9*time.Hour), snap.Features[0].NextFire)
}

func TestLoop_DefersOnConflictUntilItRuns(t *testing.T) {
	fx := newFixture(t, map[state.Feature]Schedule{state.FeatureA: dailyAt(t, 9)})
	require.True(t, fx.d.Lock().TryAcquire("manual-run"))
	fx.start(t)

	fx.stepUntil(t, 15*time.Second, func() bool {
		return !fx.d.Snapshot().Features[0].Deferred.IsZero()
	})
	assert.Equal(t, int32(0), fx.a.Load())

	// Still busy at the first retry: deferred again.
	first := fx.d.Snapshot().Features[0].Deferred
	fx.stepUntil(t, 30*time.Second, func() bool {
		d := fx.d.Snapshot().Features[0].Deferred
		return d.After(first)
	})
	assert.Equal(t, int32(0), fx.a.Load())

	fx.d.Lock().Release("manual-run")
	fx.stepUntil(t, 30*time.Second, func() bool { return fx.a.Load() == 1 })
	fx.d.Wait()

	runs := fx.runs.all()
	require.Len(t, runs, 1)
	assert.Equal(t, "deferred", runs[0].Trigger)
	assert.True(t, fx.d.Snapshot().Features[0].Deferred.IsZero())
}

func TestLoop_MisfireBeyondGraceIsSkipped(t *testing.T) {
	fx := newFixture(t, map[state.Feature]Schedule{state.FeatureA: dailyAt(t, 9)})
	fx.start(t)

	fx.clock.Set(monday.Add(13 * time.Hour))
	require.Eventually(t, func() bool {
		return fx.d.Snapshot().Features[0].NextFire.Equal(monday.AddDate(0, 0, 1).Add(9 * time.Hour))
	}, 2*time.Second, time.Millisecond)

	fx.d.Wait()
	assert.Equal(t, int32(0), fx.a.Load())
}

func TestLoop_MissedFiresCoalesce(t *testing.T) {
	fx := newFixture(t, map[state.Feature]Schedule{state.FeatureA: dailyAt(t, 9)})
	fx.start(t)

	// Three fires missed; the latest is an hour old.
	fx.clock.Set(monday.AddDate(0, 0, 2).Add(10 * time.Hour))
	require.Eventually(t, func() bool { return fx.a.Load() == 1 }, 2*time.Second, time.Millisecond)
	fx.d.Wait()

	assert.Equal(t, int32(1), fx.a.Load())
	assert.Equal(t, monday.AddDate(0, 0, 3).Add(9*time.Hour), fx.d.Snapshot().Features[0].NextFire)
}

func TestUpdateSchedule_WakesLoop(t *testing.T) {
	fx := newFixture(t, nil)
	fx.start(t)

	fx.d.UpdateSchedule(state.FeatureB, dailyAt(t, 9))
	require.Eventually(t, func() bool {
		return !fx.d.Snapshot().Features[1].NextFire.IsZero()
	}, time.Second, time.Millisecond)

	fx.stepUntil(t, 15*time.Second, func() bool { return fx.b.Load() == 1 })
	fx.d.Wait()
	assert.Equal(t, 1, fx.store.current().Counters[state.FeatureB].RunCount)
}

func TestServe_StopsOnCancel(t *testing.T) {
	fx := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- fx.d.Serve(ctx) }()

	require.Eventually(t, func() bool { return fx.d.Snapshot().Running }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.False(t, fx.d.Snapshot().Running)
}

func TestSubmit_GivesUpWhenLockStaysBusy(t *testing.T) {
	ms := newMemStore()
	d := New(ms, nil, nil, Config{SubmitWait: 20 * time.Millisecond, Clock: NewManualClock(monday), Logger: zerolog.Nop()})
	require.True(t, d.Lock().TryAcquire("briefing"))

	called := false
	err := d.Submit(context.Background(), "quiz-score", func(context.Context, *Run) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrBusy)
	assert.Contains(t, err.Error(), "briefing")
	assert.False(t, called)
	assert.Equal(t, 0, ms.saves)

	holder, busy := d.Lock().Holder()
	assert.True(t, busy)
	assert.Equal(t, "briefing", holder, "the holder keeps the lock")
}

func TestSubmit_CallerCancellationIsNotBusy(t *testing.T) {
	fx := newFixture(t, nil)
	require.True(t, fx.d.Lock().TryAcquire("briefing"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fx.d.Submit(ctx, "quiz-score", func(context.Context, *Run) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrBusy)
}

func TestView_ReadsUnderLockWithoutSaving(t *testing.T) {
	fx := newFixture(t, nil)
	fx.store.st.RecordRun(state.FeatureA, monday)

	var holder string
	err := fx.d.View(context.Background(), func(st *state.State) error {
		holder, _ = fx.d.Lock().Holder()
		assert.Equal(t, 1, st.Counters[state.FeatureA].RunCount)
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, holder, "view runs with the lock held")
	assert.Equal(t, 0, fx.store.saves)
	assert.Empty(t, fx.runs.all())

	_, busy := fx.d.Lock().Holder()
	assert.False(t, busy)
}

func TestView_BusyLock(t *testing.T) {
	d := New(newMemStore(), nil, nil, Config{SubmitWait: 10 * time.Millisecond, Clock: NewManualClock(monday), Logger: zerolog.Nop()})
	require.True(t, d.Lock().TryAcquire("quiz"))

	err := d.View(context.Background(), func(*state.State) error {
		t.Fatal("view ran while lock was held")
		return nil
	})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestWait_CoversRunsWaitingForLock(t *testing.T) {
	fx := newFixture(t, nil)
	require.True(t, fx.d.Lock().TryAcquire("briefing"))

	go func() {
		_ = fx.d.Execute(context.Background(), state.FeatureA, countingJob(state.FeatureA, &fx.a))
	}()
	require.Eventually(t, func() bool {
		fx.d.mu.Lock()
		defer fx.d.mu.Unlock()
		return fx.d.active == 1
	}, time.Second, time.Millisecond)

	waited := make(chan struct{})
	go func() {
		fx.d.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a run was queued")
	case <-time.After(20 * time.Millisecond):
	}

	fx.d.Lock().Release("briefing")
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the run finished")
	}
	assert.Equal(t, int32(1), fx.a.Load())
}

func TestLoop_WakeReleasesPendingTimer(t *testing.T) {
	fx := newFixture(t, map[state.Feature]Schedule{state.FeatureA: dailyAt(t, 9)})
	fx.start(t)

	for i := 0; i < 20; i++ {
		fx.d.UpdateSchedule(state.FeatureA, dailyAt(t, 9+i%3))
	}
	require.Eventually(t, func() bool { return fx.clock.Pending() <= 1 }, time.Second, time.Millisecond)
}

func TestExecute_ConcurrentWriterIsNotOverwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notebrief.db")
	mine, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { mine.Close() })
	other, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })

	runs := &runLog{}
	d := New(mine.StateRepo(), nil, nil, Config{
		Clock:    NewManualClock(monday),
		Recorder: runs,
		Logger:   zerolog.Nop(),
	})

	ctx := context.Background()
	err = d.Execute(ctx, state.FeatureA, func(ctx context.Context, run *Run) error {
		// A second process commits while this run is in flight.
		st, err := other.StateRepo().Load(ctx)
		if err != nil {
			return err
		}
		st.RecordRun(state.FeatureB, run.StartedAt)
		if err := other.StateRepo().Save(ctx, st); err != nil {
			return err
		}
		run.State.RecordRun(state.FeatureA, run.StartedAt)
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStaleState)

	got, err := mine.StateRepo().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Counters[state.FeatureB].RunCount)
	assert.Equal(t, 0, got.Counters[state.FeatureA].RunCount)

	recorded := runs.all()
	require.Len(t, recorded, 1)
	assert.Equal(t, "failed", recorded[0].Outcome)
}
