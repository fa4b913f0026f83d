// Package db tests for database migration management.
package db

import (
	"database/sql"
	"testing"
	"testing/fstest"
)

func memoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestMigrator_UpOrdersByVersion verifies files apply in version order and
// non-migration files are ignored.
func TestMigrator_UpOrdersByVersion(t *testing.T) {
	db := memoryDB(t)
	files := fstest.MapFS{
		"V2__add_index.up.sql":  {Data: []byte("CREATE INDEX idx_a ON a(v);")},
		"V1__create_a.up.sql":   {Data: []byte("CREATE TABLE a (v INTEGER);")},
		"V1__create_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"README.md":             {Data: []byte("notes")},
		"Vx__broken.up.sql":     {Data: []byte("garbage")},
	}

	m := NewMigrator(db, files)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied %d migrations, want 2", len(applied))
	}
	if applied[0].Description != "create_a" || applied[1].Description != "add_index" {
		t.Errorf("descriptions = %q, %q", applied[0].Description, applied[1].Description)
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("checksum length = %d, want 64", len(applied[0].Checksum))
	}

	// Up is idempotent
	if err := m.Up(); err != nil {
		t.Fatalf("second Up() failed: %v", err)
	}
}

// TestMigrator_Down verifies rollback of the latest version.
func TestMigrator_Down(t *testing.T) {
	db := memoryDB(t)
	m := NewMigrator(db, Migrations())
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name='tip_queue'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("tip_queue should be dropped")
	}

	if err := m.Down(); err == nil {
		t.Error("Down() with nothing applied should fail")
	}
}
