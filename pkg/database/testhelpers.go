package database

import (
	"context"
	"database/sql"
	"testing"
)

// NewTestDB returns a migrated in-memory SQLite database that is closed when
// the test ends.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, _, err := Open(ctx, Config{Driver: string(SQLite), DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := RunMigrations(ctx, db, SQLite); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}

	return db
}
