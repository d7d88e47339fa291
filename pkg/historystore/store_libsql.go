//go:build cgo

package historystore

import (
	"context"
	"database/sql"

	_ "github.com/tursodatabase/go-libsql"
)

// go-libsql registers itself as "libsql" in its own init.
const driverLibsql = "libsql"

// Open opens (creating if needed) the history database with the libsql
// driver.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	return openStore(ctx, cfg)
}
