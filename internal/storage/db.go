package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mergegate-dev/mergegate/internal/config"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
  id INTEGER PRIMARY KEY,
  uuid TEXT UNIQUE NOT NULL,
  owner TEXT NOT NULL,
  repo TEXT NOT NULL,
  pr_number INTEGER NOT NULL,
  head_sha TEXT NOT NULL,
  base_sha TEXT NOT NULL DEFAULT '',
  priority INTEGER NOT NULL DEFAULT 1,
  status TEXT NOT NULL CHECK(status IN ('pending','in_progress','completed','failed','cancelled')) DEFAULT 'pending',
  created_at TEXT NOT NULL,
  available_at TEXT NOT NULL,
  started_at TEXT,
  completed_at TEXT,
  lease_expires_at TEXT,
  retry_count INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 3,
  worker_id TEXT,
  config TEXT NOT NULL DEFAULT '{}',
  result TEXT,
  error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_pr ON tasks(owner, repo, pr_number);
`

// timeFormat is RFC3339 with a fixed-width nanosecond fraction so stored
// UTC timestamps compare correctly as strings in SQL ORDER BY and WHERE.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func sqlTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseStoredTime parses a timestamp written by sqlTime, tolerating the
// plain RFC3339 and SQLite datetime formats for rows written by hand.
func parseStoredTime(s string) time.Time {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

// DB is the SQLite-backed task store
type DB struct {
	*sql.DB
}

// DefaultDBPath returns the default database path
func DefaultDBPath() string {
	return filepath.Join(config.DataDir(), "tasks.db")
}

// Open opens or creates the database at the given path
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode and busy timeout so concurrent workers don't trip over
	// SQLITE_BUSY during claim contention
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &DB{db}, nil
}
