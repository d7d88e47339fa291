package historystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/gostudio/pkg/tracker"
)

// UpsertJobs inserts or refreshes a snapshot of tracker job records in a
// single transaction, keyed on the tracker id. Re-running with the same
// items is idempotent; changed rows (new status, output URLs) overwrite
// the previous snapshot.
func UpsertJobs(ctx context.Context, db *sql.DB, items []tracker.JobRecord, recordedAt time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO jobs_current
		 (tracker_id, workflow, status, prompt_id, engine_url, width, height,
		  input_refs, output_urls, error_message, params_json,
		  created_at, updated_at, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tracker_id) DO UPDATE SET
		   workflow = excluded.workflow,
		   status = excluded.status,
		   prompt_id = excluded.prompt_id,
		   engine_url = excluded.engine_url,
		   width = excluded.width,
		   height = excluded.height,
		   input_refs = excluded.input_refs,
		   output_urls = excluded.output_urls,
		   error_message = excluded.error_message,
		   params_json = excluded.params_json,
		   created_at = excluded.created_at,
		   updated_at = excluded.updated_at,
		   recorded_at = excluded.recorded_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	recorded := recordedAt.UTC().Format(time.RFC3339)
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("job record has empty tracker id")
		}
		inputRefs, err := encodeStrings(item.InputRefs)
		if err != nil {
			return fmt.Errorf("encode input refs for %s: %w", item.ID, err)
		}
		outputURLs, err := encodeStrings(item.OutputURLs)
		if err != nil {
			return fmt.Errorf("encode output urls for %s: %w", item.ID, err)
		}
		params, err := encodeParams(item.Parameters)
		if err != nil {
			return fmt.Errorf("encode params for %s: %w", item.ID, err)
		}

		var updatedAt any
		if !item.UpdatedAt.IsZero() {
			updatedAt = item.UpdatedAt.UTC().Format(time.RFC3339)
		}

		_, err = stmt.ExecContext(ctx,
			item.ID, item.WorkflowName, item.Status, nullableText(item.PromptID),
			nullableText(item.EngineURL), item.Width, item.Height,
			inputRefs, outputURLs, nullableText(item.ErrorMessage), params,
			item.CreatedAt.UTC().Format(time.RFC3339), updatedAt, recorded)
		if err != nil {
			return fmt.Errorf("exec upsert for %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	return nil
}

// GetJob retrieves a single cached record by tracker id.
// Returns (nil, nil) when the id is not in the cache.
func GetJob(ctx context.Context, db *sql.DB, trackerID string) (*tracker.JobRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := db.QueryRowContext(ctx,
		`SELECT tracker_id, workflow, status, prompt_id, engine_url, width, height,
		        input_refs, output_urls, error_message, params_json,
		        created_at, updated_at
		 FROM jobs_current
		 WHERE tracker_id = ?`, trackerID)

	rec, err := scanJobRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// CountJobs returns the number of cached job rows.
func CountJobs(ctx context.Context, db *sql.DB) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs_current`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// scanJobRow decodes one jobs_current row into a tracker record. The scan
// func abstraction lets Row and Rows share the column contract.
func scanJobRow(scan func(dest ...any) error) (*tracker.JobRecord, error) {
	var (
		rec          tracker.JobRecord
		promptID     sql.NullString
		engineURL    sql.NullString
		inputRefs    sql.NullString
		outputURLs   sql.NullString
		errorMessage sql.NullString
		paramsJSON   sql.NullString
		createdRaw   any
		updatedRaw   any
	)

	err := scan(
		&rec.ID, &rec.WorkflowName, &rec.Status, &promptID, &engineURL,
		&rec.Width, &rec.Height, &inputRefs, &outputURLs, &errorMessage,
		&paramsJSON, &createdRaw, &updatedRaw)
	if err != nil {
		return nil, err
	}

	rec.PromptID = promptID.String
	rec.EngineURL = engineURL.String
	rec.ErrorMessage = errorMessage.String

	if rec.InputRefs, err = decodeStrings(inputRefs); err != nil {
		return nil, fmt.Errorf("decode input_refs: %w", err)
	}
	if rec.OutputURLs, err = decodeStrings(outputURLs); err != nil {
		return nil, fmt.Errorf("decode output_urls: %w", err)
	}
	if rec.Parameters, err = decodeParams(paramsJSON); err != nil {
		return nil, fmt.Errorf("decode params_json: %w", err)
	}

	createdAt, err := parseDBTimeValue(createdRaw)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = createdAt

	updatedAt, err := parseOptionalDBTime(updatedRaw)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if updatedAt != nil {
		rec.UpdatedAt = *updatedAt
	}

	return &rec, nil
}

func nullableText(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func encodeStrings(vals []string) (any, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeStrings(col sql.NullString) ([]string, error) {
	if !col.Valid || strings.TrimSpace(col.String) == "" {
		return nil, nil
	}
	var vals []string
	if err := json.Unmarshal([]byte(col.String), &vals); err != nil {
		return nil, err
	}
	return vals, nil
}

func encodeParams(params map[string]any) (any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeParams(col sql.NullString) (map[string]any, error) {
	if !col.Valid || strings.TrimSpace(col.String) == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(col.String), &params); err != nil {
		return nil, err
	}
	return params, nil
}
