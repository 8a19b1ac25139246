package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const taskColumns = `id, uuid, owner, repo, pr_number, head_sha, base_sha,
	priority, status, created_at, available_at, started_at, completed_at,
	lease_expires_at, retry_count, max_retries, worker_id, config, result,
	error_message`

// Enqueue durably inserts a new task. The caller's Task is filled in with
// the assigned ID, UUID, and timestamps.
func (db *DB) Enqueue(t *Task) (*Task, error) {
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	now := time.Now()
	t.CreatedAt = now
	t.AvailableAt = now

	cfg, err := json.Marshal(t.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal task config: %w", err)
	}

	result, err := db.Exec(`
		INSERT INTO tasks (uuid, owner, repo, pr_number, head_sha, base_sha,
			priority, status, created_at, available_at, max_retries, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UUID, t.Owner, t.Repo, t.PRNumber, t.HeadSHA, t.BaseSHA,
		int(t.Priority), string(t.Status), sqlTime(now), sqlTime(now),
		t.MaxRetries, string(cfg))
	if err != nil {
		return nil, err
	}

	t.ID, _ = result.LastInsertId()
	return t, nil
}

// FindActive returns a pending or in-progress task for the given PR head,
// or nil if there is none
func (db *DB) FindActive(owner, repo string, prNumber int, headSHA string) (*Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks
		WHERE owner = ? AND repo = ? AND pr_number = ? AND head_sha = ?
		  AND status IN ('pending','in_progress')
		LIMIT 1`, owner, repo, prNumber, headSHA)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// Claim atomically claims the next available pending task for a worker.
// The select-and-mark is a single UPDATE so two workers can never claim the
// same task.
func (db *DB) Claim(workerID string, lease time.Duration) (*Task, error) {
	now := time.Now()

	result, err := db.Exec(`
		UPDATE tasks
		SET status = 'in_progress', worker_id = ?, started_at = ?, lease_expires_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'pending' AND available_at <= ?
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		)`, workerID, sqlTime(now), sqlTime(now.Add(lease)), sqlTime(now))
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, nil // queue empty
	}

	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks
		WHERE worker_id = ? AND status = 'in_progress'
		ORDER BY started_at DESC
		LIMIT 1`, workerID)
	return scanTask(row)
}

// Complete marks an in-progress task completed and stores the result.
// Returns false if the task is no longer in_progress under this worker
// (cancelled, or its lease was reclaimed and re-run elsewhere).
func (db *DB) Complete(id int64, workerID string, resultJSON string) (bool, error) {
	now := sqlTime(time.Now())
	result, err := db.Exec(`
		UPDATE tasks
		SET status = 'completed', completed_at = ?, result = ?, error_message = NULL
		WHERE id = ? AND status = 'in_progress' AND (worker_id = ? OR ? = '')`,
		now, resultJSON, id, workerID, workerID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// Fail records a task failure. When retry budget remains the task is
// returned to pending one priority tier lower with availability pushed out
// by a delay that grows with retry_count; otherwise it becomes failed
// (terminal). Returns true if the task was requeued.
func (db *DB) Fail(id int64, workerID string, errMsg string) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	var priority Priority
	err = tx.QueryRow(`SELECT retry_count, max_retries, priority FROM tasks
		WHERE id = ? AND status = 'in_progress' AND (worker_id = ? OR ? = '')`,
		id, workerID, workerID).Scan(&retryCount, &maxRetries, &priority)
	if err == sql.ErrNoRows {
		return false, nil // not ours anymore; another worker may still finish it
	}
	if err != nil {
		return false, err
	}

	now := time.Now()
	if retryCount < maxRetries {
		_, err = tx.Exec(`
			UPDATE tasks
			SET status = 'pending', retry_count = retry_count + 1,
			    priority = ?,
			    available_at = ?, worker_id = NULL, started_at = NULL,
			    lease_expires_at = NULL, error_message = ?
			WHERE id = ?`,
			int(priority.Demote()), sqlTime(now.Add(retryDelay(retryCount+1))), errMsg, id)
		if err != nil {
			return false, err
		}
		return true, tx.Commit()
	}

	_, err = tx.Exec(`
		UPDATE tasks
		SET status = 'failed', completed_at = ?, worker_id = NULL,
		    lease_expires_at = NULL, error_message = ?
		WHERE id = ?`,
		sqlTime(now), errMsg, id)
	if err != nil {
		return false, err
	}
	return false, tx.Commit()
}

// FailTerminal marks an in-progress task failed immediately, bypassing the
// retry budget
func (db *DB) FailTerminal(id int64, workerID string, errMsg string) (bool, error) {
	result, err := db.Exec(`
		UPDATE tasks
		SET status = 'failed', completed_at = ?, worker_id = NULL,
		    lease_expires_at = NULL, error_message = ?
		WHERE id = ? AND status = 'in_progress' AND (worker_id = ? OR ? = '')`,
		sqlTime(time.Now()), errMsg, id, workerID, workerID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// CancelForPR cancels pending tasks for a PR. In-progress tasks are left to
// run to completion rather than being preempted mid-sync.
func (db *DB) CancelForPR(owner, repo string, prNumber int) (int, error) {
	result, err := db.Exec(`
		UPDATE tasks
		SET status = 'cancelled', completed_at = ?
		WHERE owner = ? AND repo = ? AND pr_number = ? AND status = 'pending'`,
		sqlTime(time.Now()), owner, repo, prNumber)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// ReclaimExpired returns in-progress tasks with expired leases to pending.
// The owning worker crashed or stalled; the retry count is not charged.
func (db *DB) ReclaimExpired() (int, error) {
	result, err := db.Exec(`
		UPDATE tasks
		SET status = 'pending', worker_id = NULL, started_at = NULL, lease_expires_at = NULL
		WHERE status = 'in_progress' AND lease_expires_at < ?`,
		sqlTime(time.Now()))
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// PurgeTerminal deletes terminal tasks past their retention window. Failed
// tasks are retained longer than completed ones for operator inspection.
func (db *DB) PurgeTerminal(completedTTL, failedTTL time.Duration) (int, error) {
	now := time.Now()
	result, err := db.Exec(`
		DELETE FROM tasks
		WHERE (status IN ('completed','cancelled') AND completed_at < ?)
		   OR (status = 'failed' AND completed_at < ?)`,
		sqlTime(now.Add(-completedTTL)), sqlTime(now.Add(-failedTTL)))
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// GetTaskByID returns a task by ID
func (db *DB) GetTaskByID(id int64) (*Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTasks returns tasks, optionally filtered by status, newest first
func (db *DB) ListTasks(status string, limit int) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Counts returns per-status task totals
func (db *DB) Counts() (TaskCounts, error) {
	var c TaskCounts
	rows, err := db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return c, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return c, err
		}
		switch TaskStatus(status) {
		case TaskStatusPending:
			c.Pending = count
		case TaskStatusInProgress:
			c.InProgress = count
		case TaskStatusCompleted:
			c.Completed = count
		case TaskStatusFailed:
			c.Failed = count
		case TaskStatusCancelled:
			c.Cancelled = count
		}
	}
	return c, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var priority int
	var status, createdAt, availableAt, cfg string
	var startedAt, completedAt, leaseExpiresAt sql.NullString
	var workerID, result, errMsg sql.NullString

	err := s.Scan(&t.ID, &t.UUID, &t.Owner, &t.Repo, &t.PRNumber, &t.HeadSHA,
		&t.BaseSHA, &priority, &status, &createdAt, &availableAt, &startedAt,
		&completedAt, &leaseExpiresAt, &t.RetryCount, &t.MaxRetries,
		&workerID, &cfg, &result, &errMsg)
	if err != nil {
		return nil, err
	}

	t.Priority = Priority(priority)
	t.Status = TaskStatus(status)
	t.CreatedAt = parseStoredTime(createdAt)
	t.AvailableAt = parseStoredTime(availableAt)
	if startedAt.Valid {
		ts := parseStoredTime(startedAt.String)
		t.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := parseStoredTime(completedAt.String)
		t.CompletedAt = &ts
	}
	if leaseExpiresAt.Valid {
		ts := parseStoredTime(leaseExpiresAt.String)
		t.LeaseExpiresAt = &ts
	}
	if workerID.Valid {
		t.WorkerID = workerID.String
	}
	if result.Valid {
		t.ResultJSON = result.String
	}
	if errMsg.Valid {
		t.ErrorMessage = errMsg.String
	}
	if err := json.Unmarshal([]byte(cfg), &t.Config); err != nil {
		return nil, fmt.Errorf("unmarshal task config: %w", err)
	}
	return &t, nil
}
