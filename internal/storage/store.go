package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/mergegate-dev/mergegate/internal/config"
)

// ErrNotFound is returned by lookups when no task matches, regardless of
// backend.
var ErrNotFound = errors.New("task not found")

// Store is the durable task queue. Two backends implement it: SQLite
// (default, single-host) and PostgreSQL (shared by multiple daemon hosts).
type Store interface {
	// Enqueue durably inserts a task. The task is not considered enqueued
	// until this returns.
	Enqueue(t *Task) (*Task, error)

	// FindActive returns a pending or in-progress task matching
	// (owner, repo, pr, headSHA), or nil. Used for intake dedup.
	FindActive(owner, repo string, prNumber int, headSHA string) (*Task, error)

	// Claim atomically selects the highest-priority available pending task
	// (priority desc, created_at asc), marks it in_progress with a lease,
	// and returns it. Returns nil when the queue is empty. At most one
	// worker can hold a given task.
	Claim(workerID string, lease time.Duration) (*Task, error)

	// Complete marks an in-progress task completed and stores its result.
	// Returns false if the task was not in_progress under this worker
	// (e.g. lease reclaimed, cancelled mid-run).
	Complete(id int64, workerID string, resultJSON string) (bool, error)

	// Fail records a failure. If retry budget remains the task goes back to
	// pending one priority tier lower with a growing delay floor and Fail
	// returns true; otherwise the task becomes failed (terminal) and Fail
	// returns false.
	Fail(id int64, workerID string, errMsg string) (bool, error)

	// FailTerminal marks an in-progress task failed immediately, bypassing
	// the retry budget. Used for errors retrying cannot fix (permission
	// denied, not found). Returns false if the task was not in_progress
	// under this worker.
	FailTerminal(id int64, workerID string, errMsg string) (bool, error)

	// CancelForPR cancels pending tasks for the PR. In-progress tasks run
	// to completion. Returns the number cancelled.
	CancelForPR(owner, repo string, prNumber int) (int, error)

	// ReclaimExpired returns in-progress tasks with expired leases to
	// pending so another worker can pick them up after a crash.
	ReclaimExpired() (int, error)

	// PurgeTerminal deletes terminal tasks past their retention window.
	PurgeTerminal(completedTTL, failedTTL time.Duration) (int, error)

	GetTaskByID(id int64) (*Task, error)
	ListTasks(status string, limit int) ([]Task, error)
	Counts() (TaskCounts, error)

	Close() error
}

// OpenStore opens the store selected by the config
func OpenStore(cfg *config.Config, dbPath string) (Store, error) {
	switch cfg.StoreBackend {
	case "", "sqlite":
		return Open(dbPath)
	case "postgres":
		return OpenPostgres(cfg.PostgresURL)
	}
	return nil, fmt.Errorf("unknown store_backend %q", cfg.StoreBackend)
}

// retryDelay returns the minimum wait before a retried task becomes
// claimable again. Grows with the retry count so a failing remote platform
// is not hot-looped.
func retryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		return 0
	}
	shift := uint(retryCount - 1)
	if shift > 5 { // past this the cap applies anyway; avoid shift overflow
		shift = 5
	}
	d := 10 * time.Second << shift
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}
