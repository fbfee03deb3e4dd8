package test_utils

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/solcal/solcal/internal/database"
	_ "modernc.org/sqlite" // Import the SQLite driver
)

// NewTempDB creates a new file-backed SQLite database for testing.
// A file is used instead of :memory: because every pooled connection to
// :memory: would see its own empty database.
func NewTempDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "solcal-test.db")
	db, err := sql.Open("sqlite", database.DSN(path))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// SetupTestDB creates a new SQLite database and applies all migrations
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db := NewTempDB(t)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	return db
}
