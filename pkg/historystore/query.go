package historystore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/3leaps/gostudio/pkg/tracker"
)

// QueryParams specifies filters for querying cached job records.
type QueryParams struct {
	// Workflow limits results to one workflow family.
	// Optional. Empty matches all workflows.
	Workflow string

	// Status limits results to an exact status value.
	// Optional. Empty matches all statuses.
	Status string

	// CompletedOnly keeps only completed records that carry output URLs.
	CompletedOnly bool

	// Since filters records created at or after this time.
	// Optional. Zero time means no lower bound.
	Since time.Time

	// Limit caps the number of results returned.
	// Optional. Zero means no limit.
	Limit int

	// Offset skips this many records for window paging.
	Offset int
}

// QueryJobs queries the jobs_current snapshot with the given filters.
//
// All filters are pushed into SQL. Results are ordered newest-first by
// created_at, with the tracker id as a deterministic tie-break.
func QueryJobs(ctx context.Context, db *sql.DB, params QueryParams) ([]tracker.JobRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT tracker_id, workflow, status, prompt_id, engine_url, width, height,
		input_refs, output_urls, error_message, params_json,
		created_at, updated_at
	 FROM jobs_current
	 WHERE 1=1`
	args := []interface{}{}

	if params.Workflow != "" {
		query += ` AND workflow = ?`
		args = append(args, params.Workflow)
	}
	if params.Status != "" {
		query += ` AND status = ?`
		args = append(args, params.Status)
	}
	if params.CompletedOnly {
		query += ` AND status = 'completed' AND output_urls IS NOT NULL`
	}
	if !params.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, params.Since.UTC().Format(time.RFC3339))
	}

	query += ` ORDER BY created_at DESC, tracker_id DESC`

	if params.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, params.Limit)
	} else if params.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET; -1 means unbounded.
		query += ` LIMIT -1`
	}
	if params.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, params.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []tracker.JobRecord
	for rows.Next() {
		rec, err := scanJobRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return results, nil
}
