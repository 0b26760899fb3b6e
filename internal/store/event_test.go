package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRepo_LLMEvents(t *testing.T) {
	s := openTestStore(t)
	repo := s.EventRepo()
	ctx := context.Background()

	events := []LLMRequestEventData{
		{Provider: "anthropic", Model: "claude-sonnet-4-5", Purpose: "briefing-news", InputTokens: 1000, OutputTokens: 300, LatencyMs: 1200, Success: true, RequestBody: "[user]\nhi", ResponseBody: `{"markdown":"x"}`},
		{Provider: "anthropic", Model: "claude-sonnet-4-5", Purpose: "briefing-quiz", InputTokens: 2000, OutputTokens: 500, LatencyMs: 2000, Success: true},
		{Provider: "openai", Model: "gpt-4o", Purpose: "briefing-quiz", LatencyMs: 400, Success: false, ErrorMessage: "rate limited"},
	}
	for _, e := range events {
		require.NoError(t, repo.AppendLLMRequest(ctx, e))
	}

	list, err := repo.QueryLLMEvents(ctx, "", QueryOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "openai", list[0].Provider, "newest first")
	assert.Equal(t, "rate limited", list[0].ErrorMessage)
	assert.False(t, list[0].Success)
	assert.Greater(t, list[0].Sequence, list[1].Sequence)

	quizOnly, err := repo.QueryLLMEvents(ctx, "briefing-quiz", QueryOpts{})
	require.NoError(t, err)
	assert.Len(t, quizOnly, 2)

	first, err := repo.GetLLMEvent(ctx, list[1].ID-1)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, `{"markdown":"x"}`, first.ResponseBody)
	assert.WithinDuration(t, time.Now(), first.Timestamp, time.Minute)

	missing, err := repo.GetLLMEvent(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	byPurpose, err := repo.LLMUsageByPurpose(ctx)
	require.NoError(t, err)
	require.Len(t, byPurpose, 2)
	assert.Equal(t, PurposeUsage{Purpose: "briefing-news", Calls: 1, InputTokens: 1000, OutputTokens: 300, AvgLatencyMs: 1200}, byPurpose[0])
	assert.Equal(t, 2, byPurpose[1].Calls)
	assert.Equal(t, int64(1200), byPurpose[1].AvgLatencyMs)

	byModel, err := repo.LLMUsageByModel(ctx)
	require.NoError(t, err)
	require.Len(t, byModel, 2)
	assert.Equal(t, ModelUsage{Model: "claude-sonnet-4-5", Calls: 2, InputTokens: 3000, OutputTokens: 800}, byModel[0])
}

func TestEventRepo_JobRuns(t *testing.T) {
	s := openTestStore(t)
	repo := s.EventRepo()
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	runs := []JobRunData{
		{RunID: "r1", Feature: "feature_a", Trigger: "scheduled", StartedAt: base, FinishedAt: base.Add(time.Minute), Outcome: "ok", Artifact: "briefing_news_2026-03-02_090000.md"},
		{RunID: "r2", Feature: "feature_b", Trigger: "deferred", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute), Outcome: "failed", ErrorMessage: "llm down"},
		{RunID: "r3", Feature: "feature_a", Trigger: "manual", StartedAt: base.Add(2 * time.Hour), FinishedAt: base.Add(2*time.Hour + time.Minute), Outcome: "ok"},
	}
	for _, r := range runs {
		require.NoError(t, repo.AppendJobRun(ctx, r))
	}

	all, err := repo.QueryJobRuns(ctx, "", QueryOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].RunID)

	onlyA, err := repo.QueryJobRuns(ctx, "feature_a", QueryOpts{})
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "briefing_news_2026-03-02_090000.md", onlyA[1].Artifact)
	assert.True(t, base.Equal(onlyA[1].StartedAt))

	recent, err := repo.QueryJobRuns(ctx, "", QueryOpts{From: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestEventRepo_SharedSequence(t *testing.T) {
	s := openTestStore(t)
	repo := s.EventRepo()
	ctx := context.Background()

	require.NoError(t, repo.AppendLLMRequest(ctx, LLMRequestEventData{Provider: "mock", Model: "mock", Purpose: "scoring", Success: true}))
	require.NoError(t, repo.AppendJobRun(ctx, JobRunData{RunID: "r", Feature: "feature_b", Trigger: "manual", StartedAt: time.Now(), FinishedAt: time.Now(), Outcome: "ok"}))

	llmEvents, err := repo.QueryLLMEvents(ctx, "", QueryOpts{})
	require.NoError(t, err)
	jobs, err := repo.QueryJobRuns(ctx, "", QueryOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), llmEvents[0].Sequence)
	assert.Equal(t, int64(2), jobs[0].Sequence)
}
