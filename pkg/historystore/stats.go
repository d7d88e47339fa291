package historystore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Summary provides aggregate statistics over the cached job snapshot.
type Summary struct {
	TotalJobs     int64
	CompletedJobs int64
	ErrorJobs     int64
	ActiveJobs    int64

	Workflows []WorkflowStat

	NewestCreatedAt *time.Time
	LastRecordedAt  *time.Time
}

// WorkflowStat is the per-workflow breakdown inside a Summary.
type WorkflowStat struct {
	Workflow      string
	TotalJobs     int64
	CompletedJobs int64
	ErrorJobs     int64
}

// Stats computes aggregate statistics for the whole cache.
func Stats(ctx context.Context, db *sql.DB) (*Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	summary := &Summary{}

	var newestRaw any
	var recordedRaw any
	err := db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) as completed,
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) as failed,
			COALESCE(SUM(CASE WHEN status IN ('submitted', 'processing') THEN 1 ELSE 0 END), 0) as active,
			MAX(created_at) as newest,
			MAX(recorded_at) as recorded
		 FROM jobs_current`).Scan(
		&summary.TotalJobs, &summary.CompletedJobs,
		&summary.ErrorJobs, &summary.ActiveJobs,
		&newestRaw, &recordedRaw)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}

	if summary.NewestCreatedAt, err = parseOptionalDBTime(newestRaw); err != nil {
		return nil, fmt.Errorf("parse newest created_at: %w", err)
	}
	if summary.LastRecordedAt, err = parseOptionalDBTime(recordedRaw); err != nil {
		return nil, fmt.Errorf("parse last recorded_at: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT workflow,
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) as completed,
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) as failed
		 FROM jobs_current
		 GROUP BY workflow
		 ORDER BY total DESC, workflow ASC`)
	if err != nil {
		return nil, fmt.Errorf("get workflow stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ws WorkflowStat
		if err := rows.Scan(&ws.Workflow, &ws.TotalJobs, &ws.CompletedJobs, &ws.ErrorJobs); err != nil {
			return nil, fmt.Errorf("scan workflow stats: %w", err)
		}
		summary.Workflows = append(summary.Workflows, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow stats: %w", err)
	}

	return summary, nil
}
