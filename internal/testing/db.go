// Package testing provides testing utilities and helpers for the arena packages.
package testing

import (
	"database/sql"
	"testing"

	"github.com/aristath/arena/internal/database"
	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB opens a private in-memory SQLite database and applies the bundled
// schema for name ("chain" or "storage"). The connection is closed when the
// test ends.
//
// The pool is limited to one connection: every in-memory connection would
// otherwise see its own empty database.
func NewTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database %s: %v", name, err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})

	schema, err := database.Schema(name)
	if err != nil {
		t.Fatalf("Failed to load schema %s: %v", name, err)
	}
	if err := database.ApplySchema(db, schema); err != nil {
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}
	return db
}
