// Package db tests for database connection management.
package db

import (
	"os"
	"path/filepath"
	"testing"
)

// TestOpen verifies the database file is created with WAL enabled.
func TestOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	database, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer database.Close()

	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Errorf("database file not created: %v", err)
	}

	var mode string
	if err := database.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("journal_mode query failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

// TestOpenMigrated verifies all tables exist after migration and that
// reopening is a no-op.
func TestOpenMigrated(t *testing.T) {
	dir := t.TempDir()

	database, err := OpenMigrated(dir)
	if err != nil {
		t.Fatalf("OpenMigrated() error = %v", err)
	}

	for _, table := range []string{"tip_queue", "tips", "worker_cache", "schema_migrations"} {
		var name string
		err := database.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
	database.Close()

	reopened, err := OpenMigrated(dir)
	if err != nil {
		t.Fatalf("second OpenMigrated() error = %v", err)
	}
	defer reopened.Close()

	version, err := NewMigrator(reopened.DB, Migrations()).CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() error = %v", err)
	}
	if version != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", version)
	}
}

// openTestDB returns a migrated database in a temp directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenMigrated(t.TempDir())
	if err != nil {
		t.Fatalf("OpenMigrated() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}
