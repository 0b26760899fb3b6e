// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLM call metrics
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notebrief_llm_request_duration_seconds",
			Help:    "Duration of single LLM provider requests",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"purpose", "success"},
	)

	LLMRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notebrief_llm_retries_total",
			Help: "Retryable LLM failures that led to another attempt",
		},
		[]string{"purpose"},
	)

	LLMFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notebrief_llm_failures_total",
			Help: "LLM calls that ended in a terminal failure",
		},
		[]string{"purpose", "kind"},
	)

	LLMBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notebrief_llm_breaker_open",
			Help: "1 while the LLM circuit breaker is open",
		},
	)

	// Dispatcher metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notebrief_job_runs_total",
			Help: "Completed job executions by outcome",
		},
		[]string{"feature", "outcome"}, // "ok", "failed", "skipped"
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notebrief_job_duration_seconds",
			Help:    "Wall time of job executions while holding the lock",
			Buckets: []float64{0.1, 1, 5, 15, 60, 180, 600},
		},
		[]string{"feature"},
	)

	JobDeferrals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notebrief_job_deferrals_total",
			Help: "Scheduled triggers deferred because another job held the lock",
		},
		[]string{"feature"},
	)

	JobMisfires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notebrief_job_misfires_total",
			Help: "Scheduled triggers skipped because they were observed past the misfire grace",
		},
		[]string{"feature"},
	)

	// Learning state
	PendingQuizzes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notebrief_pending_quizzes",
			Help: "Open quizzes awaiting an answer",
		},
	)

	QuizOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notebrief_quiz_outcomes_total",
			Help: "Closed quizzes by resolution and level change",
		},
		[]string{"resolution", "level_change"}, // resolution: "scored", "expired"
	)

	StateSaveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notebrief_state_save_failures_total",
			Help: "State commits that failed to persist",
		},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notebrief_http_requests_total",
			Help: "Requests served by the local answer endpoint",
		},
		[]string{"route", "code"},
	)
)

// RecordJob records the outcome and duration of one job execution.
func RecordJob(feature string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	JobRuns.WithLabelValues(feature, outcome).Inc()
	JobDuration.WithLabelValues(feature).Observe(duration.Seconds())
}

// RecordLLMRequest records one provider round trip.
func RecordLLMRequest(purpose string, duration time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	LLMRequestDuration.WithLabelValues(purpose, success).Observe(duration.Seconds())
}

// SetBreakerOpen flips the breaker gauge.
func SetBreakerOpen(open bool) {
	if open {
		LLMBreakerOpen.Set(1)
		return
	}
	LLMBreakerOpen.Set(0)
}
