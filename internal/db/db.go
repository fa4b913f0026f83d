// Package db provides database connection management and operations.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the SQLite file created inside the data directory.
const FileName = "tipsync.db"

// DB wraps the sql.DB with tipsync-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens a SQLite database with tipsync configuration.
// The database is opened with:
// - WAL mode so queued intents survive an unplanned exit
// - a busy timeout for the scheduler and engine sharing the file
// - Foreign key constraints enabled
func Open(dataDir string) (*DB, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Open database with modernc.org/sqlite (pure Go, no CGO)
	db, err := sql.Open("sqlite", filepath.Join(dataDir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection
	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{db}, nil
}

// OpenMigrated opens the database and applies all embedded migrations.
func OpenMigrated(dataDir string) (*DB, error) {
	database, err := Open(dataDir)
	if err != nil {
		return nil, err
	}

	migrator := NewMigrator(database.DB, Migrations())
	if err := migrator.Initialize(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return database, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
