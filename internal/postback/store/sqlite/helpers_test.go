package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/BrandonDHaskell/postback-receiver/internal/db"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production.  The connection is closed automatically when the
// test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Shared cache keeps the database alive for the lifetime of the pool.
	conn, err := db.OpenDSN(context.Background(),
		fmt.Sprintf("file:test_%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Writer backed by conn.  The writer is closed
// automatically when the test finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Writer {
	t.Helper()

	w := db.NewWriter(conn, 0)
	t.Cleanup(w.Close)
	return w
}
