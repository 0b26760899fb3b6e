package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/notebrief/internal/dispatcher"
	"github.com/abhisek/notebrief/internal/jobs"
	"github.com/abhisek/notebrief/internal/quiz"
	"github.com/abhisek/notebrief/internal/resilient"
	"github.com/abhisek/notebrief/internal/spacedrep"
	"github.com/abhisek/notebrief/internal/state"
)

type fakeScorer struct {
	result  jobs.ScoreResult
	err     error
	pending []state.PendingQuiz
	got     []quiz.Submission
}

func (f *fakeScorer) Submit(_ context.Context, sub quiz.Submission) (jobs.ScoreResult, error) {
	f.got = append(f.got, sub)
	return f.result, f.err
}

func (f *fakeScorer) Pending(context.Context) ([]state.PendingQuiz, error) {
	return f.pending, nil
}

type memStore struct {
	mu    sync.Mutex
	st    *state.State
	saves int
}

func (m *memStore) Load(context.Context) (*state.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone(), nil
}

func (m *memStore) Save(_ context.Context, st *state.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st.Clone()
	m.saves++
	return nil
}

func (m *memStore) current() *state.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone()
}

type gradeFunc func(ctx context.Context, sub quiz.Submission, ref string) (quiz.Evaluation, error)

func (g gradeFunc) Score(ctx context.Context, sub quiz.Submission, ref string) (quiz.Evaluation, error) {
	return g(ctx, sub, ref)
}

type fixedStatus dispatcher.Status

func (s fixedStatus) Snapshot() dispatcher.Status { return dispatcher.Status(s) }

func newTestServer(scorer Scorer) *Server {
	return New(Config{Logger: zerolog.Nop()}, scorer, fixedStatus{Running: true})
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/quiz/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "null")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmit_OK(t *testing.T) {
	next := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	scorer := &fakeScorer{result: jobs.ScoreResult{
		Evaluation: quiz.Evaluation{
			Q1Correct:       true,
			Q1CorrectAnswer: "B",
			Q1Explanation:   "writes block",
			Q2Evaluation:    spacedrep.GradeGood,
			Q2Feedback:      "clear",
		},
		NewLevel:        1,
		NewIntervalDays: 3,
		NextQuizAt:      next,
		LevelChange:     spacedrep.LevelUpgrade,
	}}
	srv := newTestServer(scorer)

	rec := post(t, srv.Handler(), `{"topic_key":" notes/go.md#channels ","q1_choice":"B","q2_answer":"queues","briefing_file":"x.md"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["q1_correct"])
	assert.Equal(t, "B", body["q1_correct_answer"])
	assert.Equal(t, "good", body["q2_evaluation"])
	assert.Equal(t, float64(1), body["new_level"])
	assert.Equal(t, float64(3), body["new_interval_days"])
	assert.Equal(t, "upgrade", body["level_change"])
	assert.Equal(t, "2026-03-05T09:00:00Z", body["next_quiz_at"])

	require.Len(t, scorer.got, 1)
	assert.Equal(t, "notes/go.md#channels", scorer.got[0].TopicKey)
	assert.Equal(t, "x.md", scorer.got[0].BriefingFile)
}

func TestSubmit_BadRequests(t *testing.T) {
	cases := map[string]string{
		"malformed json":    `{"topic_key":`,
		"missing topic key": `{"q1_choice":"A"}`,
		"blank topic key":   `{"topic_key":"   ","q1_choice":"A"}`,
		"missing choice":    `{"topic_key":"a.md#x"}`,
		"oversized answer":  `{"topic_key":"a.md#x","q1_choice":"A","q2_answer":"` + strings.Repeat("x", 10001) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			scorer := &fakeScorer{}
			rec := post(t, newTestServer(scorer).Handler(), body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, scorer.got)
		})
	}

	rec := post(t, newTestServer(&fakeScorer{}).Handler(), `{"q1_choice":"A"}`)
	assert.Contains(t, rec.Body.String(), "topic_key is required")
}

func TestSubmit_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&quiz.ConflictError{TopicKey: "a.md#x"}, http.StatusConflict, "conflict"},
		{&quiz.NotFoundError{TopicKey: "a.md#x"}, http.StatusNotFound, "not_found"},
		{errors.Join(errors.New("score quiz"), &resilient.TerminalError{Attempts: 4, Err: errors.New("503")}), http.StatusBadGateway, "llm_failure"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{fmt.Errorf("%w: lock held by x", dispatcher.ErrBusy), http.StatusServiceUnavailable, "busy"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		rec := post(t, newTestServer(&fakeScorer{err: tc.err}).Handler(), `{"topic_key":"a.md#x","q1_choice":"A"}`)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		if tc.status == http.StatusServiceUnavailable {
			assert.Equal(t, retryAfter, rec.Header().Get("Retry-After"))
		}

		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.code, body.Code)
		assert.NotEmpty(t, body.Error)
	}
}

func TestPending(t *testing.T) {
	scorer := &fakeScorer{pending: []state.PendingQuiz{{ID: "q1", TopicKey: "a.md#x", Status: state.QuizOpen}}}
	rec := httptest.NewRecorder()
	newTestServer(scorer).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quiz/pending", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body pendingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "a.md#x", body.Quizzes[0].TopicKey)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(&fakeScorer{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.Dispatcher.Running)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "notebrief_http_requests_total")
}

func TestPreflight(t *testing.T) {
	scorer := &fakeScorer{}
	h := newTestServer(scorer).Handler()
	for _, path := range []string{"/quiz/submit", "/quiz/pending"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "null")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Less(t, rec.Code, 300, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost, path)
		assert.Equal(t, "300", rec.Header().Get("Access-Control-Max-Age"), path)
	}
	assert.Empty(t, scorer.got, "preflight never reaches the handler")
}

func TestSubmit_LockHeldReturnsRetryableBusy(t *testing.T) {
	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	st := state.Default()
	_, err := quiz.Create(st, "notes/go.md#channels", "/notes/_briefings/briefing_quiz.md", state.PatternLearning, created, created.Add(24*time.Hour))
	require.NoError(t, err)
	ms := &memStore{st: st}

	d := dispatcher.New(ms, nil, nil, dispatcher.Config{SubmitWait: 20 * time.Millisecond, Logger: zerolog.Nop()})
	svc := jobs.NewScoreService(d, gradeFunc(func(context.Context, quiz.Submission, string) (quiz.Evaluation, error) {
		return quiz.Evaluation{Q1Correct: true, Q2Evaluation: spacedrep.GradeGood}, nil
	}), zerolog.Nop())
	h := newTestServer(svc).Handler()

	// A generation run holds the lock for the whole request.
	require.True(t, d.Lock().TryAcquire("briefing-run"))
	body := `{"topic_key":"notes/go.md#channels","q1_choice":"B","q2_answer":"queues"}`
	rec := post(t, h, body)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Equal(t, retryAfter, rec.Header().Get("Retry-After"))
	assert.Equal(t, 0, ms.saves)
	assert.Len(t, quiz.OpenQuizzes(ms.current()), 1, "quiz stays open for a retry")

	d.Lock().Release("briefing-run")
	rec = post(t, h, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, quiz.OpenQuizzes(ms.current()))
}

func TestRateLimit(t *testing.T) {
	srv := New(Config{RateLimit: 2, RateLimitWindow: time.Minute, Logger: zerolog.Nop()}, &fakeScorer{}, nil)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/quiz/pending", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServeListener_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := newTestServer(&fakeScorer{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
