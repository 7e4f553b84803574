// Package store implements the metrics and review stores on embedded SQLite.
// Both stores share the document/issue primitives; schema creation is kept
// separate from use so each store can be instantiated with its own path.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"skilllab/internal/quality"
)

// Store wraps one SQLite database holding documents and issues.
// MetricsStore and ReviewStore embed it and add their own tables.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	policy quality.Policy
	log    *zap.Logger
}

// openDatabase opens (creating if needed) the SQLite file at path.
// ":memory:" is supported for tests.
func openDatabase(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: modernc sqlite serializes writers anyway, and a
	// bounded pool keeps :memory: databases coherent across goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return db, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// SetPolicy replaces the quality thresholds applied on confidence and
// correction-count updates.
func (s *Store) SetPolicy(p quality.Policy) { s.policy = p }

// now returns the timestamp written into created_at/updated_at columns.
// UTC with millisecond truncation keeps comparisons stable across round-trips.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
