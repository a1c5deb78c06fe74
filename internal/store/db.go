// Package store persists the shift side index, the applied markers and the
// event log, either in a local SQLite file or in Redis.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// DefaultPath is ~/.config/odvclock/odvclock.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "odvclock", "odvclock.db"), nil
}

// Open opens (creating if needed) the SQLite database at path and runs the
// migrations. An empty path means DefaultPath.
func Open(path string) (*DB, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	store := &DB{db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS shifts (
			id TEXT PRIMARY KEY,
			volunteer_id INTEGER NOT NULL,
			volunteer TEXT NOT NULL,
			status TEXT NOT NULL,
			date TEXT NOT NULL DEFAULT '',
			time_in TEXT NOT NULL DEFAULT '',
			time_out TEXT NOT NULL DEFAULT '',
			clock_in_at TEXT NOT NULL DEFAULT '',
			clock_out_at TEXT NOT NULL DEFAULT '',
			clock_in_key TEXT NOT NULL DEFAULT '',
			clock_out_key TEXT NOT NULL DEFAULT '',
			timesheet_row INTEGER NOT NULL DEFAULT 0,
			master_row INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS shifts_volunteer ON shifts (volunteer_id)`,
		`CREATE TABLE IF NOT EXISTS applied (
			event_key TEXT NOT NULL,
			replica TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (event_key, replica)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_key TEXT NOT NULL,
			entry TEXT NOT NULL,
			kind TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	return nil
}
