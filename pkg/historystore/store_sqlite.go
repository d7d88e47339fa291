//go:build !cgo

package historystore

import (
	"context"
	"database/sql"

	sqlite "modernc.org/sqlite"
)

// The pure-Go driver registers under the same name the cgo build uses,
// keeping the rest of the package driver-agnostic.
const driverLibsql = "libsql"

func init() {
	sql.Register(driverLibsql, &sqlite.Driver{})
}

// Open opens (creating if needed) the history database with the
// pure-Go SQLite driver.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	return openStore(ctx, cfg)
}
