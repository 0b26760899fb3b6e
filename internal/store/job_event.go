package store

import (
	"context"
	"fmt"
)

func (r *eventRepo) AppendJobRun(ctx context.Context, data JobRunData) error {
	seqNum, err := r.seq.Next(ctx)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO job_run_events
		(sequence, run_id, feature, trigger, started_at, finished_at, outcome, error_message, artifact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seqNum, data.RunID, data.Feature, data.Trigger,
		data.StartedAt.UTC(), data.FinishedAt.UTC(),
		data.Outcome, data.ErrorMessage, data.Artifact,
	)
	if err != nil {
		return fmt.Errorf("save job run event: %w", err)
	}
	return nil
}

func (r *eventRepo) QueryJobRuns(ctx context.Context, feature string, opts QueryOpts) ([]JobRun, error) {
	var (
		extra []string
		args  []any
	)
	if feature != "" {
		extra = append(extra, "feature = ?")
		args = append(args, feature)
	}
	where, args := whereClause(opts, "started_at", extra, args)

	rows, err := r.db.QueryContext(ctx, `SELECT id, sequence, run_id, feature, trigger,
		started_at, finished_at, outcome, error_message, artifact
		FROM job_run_events`+where+" ORDER BY sequence DESC"+limitClause(opts), args...)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		var j JobRun
		if err := rows.Scan(&j.ID, &j.Sequence, &j.RunID, &j.Feature, &j.Trigger,
			&j.StartedAt, &j.FinishedAt, &j.Outcome, &j.ErrorMessage, &j.Artifact); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
