package historystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const SchemaVersion = 2

// baseSchema creates every table and index at its current shape. All
// statements are idempotent, so fresh and existing databases run the
// same list.
var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL
	);`,
	`INSERT OR IGNORE INTO schema_meta (id, schema_version) VALUES (1, 0);`,

	`CREATE TABLE IF NOT EXISTS jobs_current (
		tracker_id TEXT PRIMARY KEY,
		workflow TEXT NOT NULL,
		status TEXT NOT NULL,
		prompt_id TEXT,
		engine_url TEXT,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		input_refs TEXT,
		output_urls TEXT,
		-- error_message and params_json arrived in v2 for offline failure triage.
		error_message TEXT,
		params_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT,
		recorded_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_current_workflow ON jobs_current(workflow, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_current_status ON jobs_current(status);`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_current_created_at ON jobs_current(created_at);`,
}

// Migrate creates or upgrades the history schema in-place.
//
// The store holds a local snapshot of tracker job records so feed and
// stats commands work offline:
// - jobs_current: latest known row per tracker job (upserted)
// - schema_meta: single-row schema version stamp
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return errors.New("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range baseSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}

	current, err := schemaVersionOf(ctx, tx)
	if err != nil {
		return err
	}
	if current < 2 {
		if err := upgradeToV2(ctx, tx); err != nil {
			return err
		}
	}
	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func schemaVersionOf(ctx context.Context, tx *sql.Tx) (int, error) {
	var v int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}

// upgradeToV2 adds the failure-triage columns to databases created
// before them. The base DDL already carries both columns, so fresh
// databases land in the duplicate-column path and skip.
func upgradeToV2(ctx context.Context, tx *sql.Tx) error {
	alters := []string{
		`ALTER TABLE jobs_current ADD COLUMN error_message TEXT;`,
		`ALTER TABLE jobs_current ADD COLUMN params_json TEXT;`,
	}
	for _, stmt := range alters {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return fmt.Errorf("apply v2 migration: %w", err)
		}
	}
	return nil
}

// isDuplicateColumn matches the error both drivers raise when an ALTER
// re-adds an existing column.
func isDuplicateColumn(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}
