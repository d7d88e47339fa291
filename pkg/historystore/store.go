package historystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// Path is a local filesystem path to the history database.
	// ":memory:" opens a throwaway in-process database.
	Path string
}

// openStore builds the DSN, opens the registered driver, and tunes
// file-backed databases. Both build variants register their driver
// under the same name, so everything past registration is shared.
func openStore(ctx context.Context, cfg Config) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history store: %w", err)
	}
	if err := tuneLocalDB(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// buildDSN maps cfg.Path onto a DSN for the registered driver.
// ":memory:" passes through untouched; plain paths become file: DSNs
// with their parent directory created on demand.
func buildDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return "", errors.New("history store path is required")
	case path == ":memory:":
		return path, nil
	case strings.HasPrefix(path, "file:"):
		local, err := localPathFromDSN(path)
		if err != nil {
			return "", err
		}
		if err := ensureParentDir(local); err != nil {
			return "", err
		}
		return path, nil
	default:
		if err := ensureParentDir(path); err != nil {
			return "", err
		}
		return "file:" + filepath.Clean(path), nil
	}
}

// localPathFromDSN recovers the filesystem path from a file: DSN. The
// path lands in either Path or Opaque depending on the slash count.
func localPathFromDSN(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse store DSN: %w", err)
	}
	p := parsed.Path
	if p == "" {
		p = parsed.Opaque
	}
	return strings.TrimPrefix(p, "//"), nil
}

func ensureParentDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- history DBs live alongside other user data
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create history db directory: %w", err)
	}
	return nil
}

// tuneLocalDB pins file-backed databases to one connection and turns on
// WAL with a busy timeout. In-memory databases are left alone.
func tuneLocalDB(ctx context.Context, db *sql.DB, dsn string) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		var result any
		if err := db.QueryRowContext(ctx, pragma).Scan(&result); err != nil {
			return fmt.Errorf("apply %s: %w", strings.TrimPrefix(pragma, "PRAGMA "), err)
		}
	}
	return nil
}

// parseDBTimeValue decodes a TEXT timestamp column regardless of how the
// active driver surfaces it (string, []byte, or time.Time).
func parseDBTimeValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", t, err)
		}
		return parsed.UTC(), nil
	case []byte:
		return parseDBTimeValue(string(t))
	case nil:
		return time.Time{}, errors.New("time value is null")
	default:
		return time.Time{}, fmt.Errorf("unsupported time value type %T", v)
	}
}

func parseOptionalDBTime(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := parseDBTimeValue(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
