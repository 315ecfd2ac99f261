package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist. The etoll_packages table gets
// a reserved row with id 1 so that real package ids start at 2 and can
// never collide with the pending sentinel carried by enrolled positions.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			unique_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			attributes TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id INTEGER NOT NULL,
			protocol TEXT NOT NULL DEFAULT '',
			fix_time TEXT NOT NULL,
			server_time TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			speed REAL NOT NULL DEFAULT 0,
			course REAL NOT NULL DEFAULT 0,
			attributes TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_device ON positions(device_id, fix_time);`,
		`CREATE TABLE IF NOT EXISTS motion_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id INTEGER NOT NULL,
			position_id INTEGER NOT NULL,
			type TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_motion_events_position ON motion_events(device_id, position_id);`,
		`CREATE TABLE IF NOT EXISTS geofences (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			area TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS etoll_positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id INTEGER NOT NULL,
			package_id INTEGER NOT NULL,
			error_status TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_etoll_positions_package ON etoll_positions(package_id, id);`,
		`CREATE TABLE IF NOT EXISTS etoll_packages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			create_date TEXT NOT NULL,
			update_date TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT ''
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO etoll_packages (id, create_date, update_date, message) VALUES (1, ?, ?, 'reserved');`,
		now, now,
	); err != nil {
		return fmt.Errorf("reserve sentinel package: %w", err)
	}

	return nil
}

// DB exposes the underlying sql.DB for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		t, _ = time.Parse("2006-01-02T15:04:05Z07:00", value)
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
