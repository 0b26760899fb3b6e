package store

import (
	"context"
	"database/sql"
	"time"
)

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit  int       // max results (0 = unlimited)
	After  int64     // sequence > After
	Before int64     // sequence < Before
	From   time.Time // timestamp >= From
	To     time.Time // timestamp <= To
}

// LLMRequestEventData captures the data for a single LLM request event.
type LLMRequestEventData struct {
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// LLMEvent is a stored LLM request event.
type LLMEvent struct {
	ID        int
	Sequence  int64
	Timestamp time.Time
	LLMRequestEventData
}

// PurposeUsage aggregates token usage for one request purpose.
type PurposeUsage struct {
	Purpose      string
	Calls        int
	InputTokens  int
	OutputTokens int
	AvgLatencyMs int64
}

// ModelUsage aggregates token usage for one model.
type ModelUsage struct {
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
}

// JobRunData captures one job execution.
type JobRunData struct {
	RunID        string
	Feature      string
	Trigger      string // "scheduled", "manual" or "deferred"
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      string // "ok", "failed" or "skipped"
	ErrorMessage string
	Artifact     string
}

// JobRun is a stored job run event.
type JobRun struct {
	ID       int
	Sequence int64
	JobRunData
}

// EventRepo provides append and query access to domain events.
type EventRepo interface {
	// AppendLLMRequest records an LLM API call event.
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error

	// QueryLLMEvents returns LLM events newest first. purpose may be empty.
	QueryLLMEvents(ctx context.Context, purpose string, opts QueryOpts) ([]LLMEvent, error)

	// GetLLMEvent returns a single event, or nil if it doesn't exist.
	GetLLMEvent(ctx context.Context, id int) (*LLMEvent, error)

	LLMUsageByPurpose(ctx context.Context) ([]PurposeUsage, error)
	LLMUsageByModel(ctx context.Context) ([]ModelUsage, error)

	// AppendJobRun records a finished job execution.
	AppendJobRun(ctx context.Context, data JobRunData) error

	// QueryJobRuns returns job runs newest first. feature may be empty.
	QueryJobRuns(ctx context.Context, feature string, opts QueryOpts) ([]JobRun, error)
}

// eventRepo implements EventRepo on raw SQL and the global sequence counter.
type eventRepo struct {
	db  *sql.DB
	seq *sequenceCounter
}
