// Package store is the durable task queue. It is the single source of
// truth for task state; every status transition goes through a conditional
// update so concurrent writers serialize on the database, not on Go locks.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultMaxRequestLen caps request text length in runes.
const DefaultMaxRequestLen = 2000

// Store wraps the SQLite task table.
type Store struct {
	db            *sql.DB
	maxRequestLen int
	log           *zap.Logger
}

// New opens (creating if necessary) the task store at path.
// Pass ":memory:" for an ephemeral store in tests. maxRequestLen <= 0
// selects the default. Failure here is the one fatal startup condition.
func New(path string, maxRequestLen int, log *zap.Logger) (*Store, error) {
	if maxRequestLen <= 0 {
		maxRequestLen = DefaultMaxRequestLen
	}
	if log == nil {
		log = zap.NewNop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if path == ":memory:" {
		// A private in-memory database exists per connection; keep one.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, maxRequestLen: maxRequestLen, log: log}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return s, nil
}

// initialize applies pragmas and creates the schema.
func (s *Store) initialize() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		request_text  TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		capability    TEXT,
		handoff       INTEGER,
		params        TEXT,
		result_ref    TEXT,
		error_detail  TEXT,
		spawn_pid     INTEGER,
		artifact_path TEXT,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks(status, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
