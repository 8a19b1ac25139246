package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS tasks (
  id BIGSERIAL PRIMARY KEY,
  uuid TEXT UNIQUE NOT NULL,
  owner TEXT NOT NULL,
  repo TEXT NOT NULL,
  pr_number INTEGER NOT NULL,
  head_sha TEXT NOT NULL,
  base_sha TEXT NOT NULL DEFAULT '',
  priority INTEGER NOT NULL DEFAULT 1,
  status TEXT NOT NULL CHECK(status IN ('pending','in_progress','completed','failed','cancelled')) DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  available_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  started_at TIMESTAMPTZ,
  completed_at TIMESTAMPTZ,
  lease_expires_at TIMESTAMPTZ,
  retry_count INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 3,
  worker_id TEXT,
  config JSONB NOT NULL DEFAULT '{}',
  result TEXT,
  error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_pr ON tasks(owner, repo, pr_number);
`

// PGStore is the PostgreSQL-backed task store, for deployments where several
// daemon hosts share one queue. Claim uses FOR UPDATE SKIP LOCKED so workers
// on different hosts never contend on the same row.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to PostgreSQL and ensures the schema exists
func OpenPostgres(connString string) (*PGStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

const pgTaskColumns = `id, uuid, owner, repo, pr_number, head_sha, base_sha,
	priority, status, created_at, available_at, started_at, completed_at,
	lease_expires_at, retry_count, max_retries, worker_id, config, result,
	error_message`

func (s *PGStore) Enqueue(t *Task) (*Task, error) {
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

	ctx := context.Background()
	err = s.pool.QueryRow(ctx, `
		INSERT INTO tasks (uuid, owner, repo, pr_number, head_sha, base_sha,
			priority, status, created_at, available_at, max_retries, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		t.UUID, t.Owner, t.Repo, t.PRNumber, t.HeadSHA, t.BaseSHA,
		int(t.Priority), string(t.Status), now, now, t.MaxRetries, cfg,
	).Scan(&t.ID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PGStore) FindActive(owner, repo string, prNumber int, headSHA string) (*Task, error) {
	row := s.pool.QueryRow(context.Background(), `SELECT `+pgTaskColumns+` FROM tasks
		WHERE owner = $1 AND repo = $2 AND pr_number = $3 AND head_sha = $4
		  AND status IN ('pending','in_progress')
		LIMIT 1`, owner, repo, prNumber, headSHA)
	t, err := scanPGTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *PGStore) Claim(workerID string, lease time.Duration) (*Task, error) {
	now := time.Now()
	row := s.pool.QueryRow(context.Background(), `
		UPDATE tasks
		SET status = 'in_progress', worker_id = $1, started_at = $2, lease_expires_at = $3
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'pending' AND available_at <= $2
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+pgTaskColumns,
		workerID, now, now.Add(lease))
	t, err := scanPGTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *PGStore) Complete(id int64, workerID string, resultJSON string) (bool, error) {
	tag, err := s.pool.Exec(context.Background(), `
		UPDATE tasks
		SET status = 'completed', completed_at = $1, result = $2, error_message = NULL
		WHERE id = $3 AND status = 'in_progress' AND (worker_id = $4 OR $4 = '')`,
		time.Now(), resultJSON, id, workerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) Fail(id int64, workerID string, errMsg string) (bool, error) {
	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var retryCount, maxRetries int
	var priority Priority
	err = tx.QueryRow(ctx, `SELECT retry_count, max_retries, priority FROM tasks
		WHERE id = $1 AND status = 'in_progress' AND (worker_id = $2 OR $2 = '')
		FOR UPDATE`,
		id, workerID).Scan(&retryCount, &maxRetries, &priority)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := time.Now()
	if retryCount < maxRetries {
		_, err = tx.Exec(ctx, `
			UPDATE tasks
			SET status = 'pending', retry_count = retry_count + 1,
			    priority = $1,
			    available_at = $2, worker_id = NULL, started_at = NULL,
			    lease_expires_at = NULL, error_message = $3
			WHERE id = $4`,
			int(priority.Demote()), now.Add(retryDelay(retryCount+1)), errMsg, id)
		if err != nil {
			return false, err
		}
		return true, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE tasks
		SET status = 'failed', completed_at = $1, worker_id = NULL,
		    lease_expires_at = NULL, error_message = $2
		WHERE id = $3`,
		now, errMsg, id)
	if err != nil {
		return false, err
	}
	return false, tx.Commit(ctx)
}

func (s *PGStore) FailTerminal(id int64, workerID string, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(context.Background(), `
		UPDATE tasks
		SET status = 'failed', completed_at = $1, worker_id = NULL,
		    lease_expires_at = NULL, error_message = $2
		WHERE id = $3 AND status = 'in_progress' AND (worker_id = $4 OR $4 = '')`,
		time.Now(), errMsg, id, workerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) CancelForPR(owner, repo string, prNumber int) (int, error) {
	tag, err := s.pool.Exec(context.Background(), `
		UPDATE tasks
		SET status = 'cancelled', completed_at = $1
		WHERE owner = $2 AND repo = $3 AND pr_number = $4 AND status = 'pending'`,
		time.Now(), owner, repo, prNumber)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) ReclaimExpired() (int, error) {
	tag, err := s.pool.Exec(context.Background(), `
		UPDATE tasks
		SET status = 'pending', worker_id = NULL, started_at = NULL, lease_expires_at = NULL
		WHERE status = 'in_progress' AND lease_expires_at < $1`,
		time.Now())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) PurgeTerminal(completedTTL, failedTTL time.Duration) (int, error) {
	now := time.Now()
	tag, err := s.pool.Exec(context.Background(), `
		DELETE FROM tasks
		WHERE (status IN ('completed','cancelled') AND completed_at < $1)
		   OR (status = 'failed' AND completed_at < $2)`,
		now.Add(-completedTTL), now.Add(-failedTTL))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) GetTaskByID(id int64) (*Task, error) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT `+pgTaskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanPGTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *PGStore) ListTasks(status string, limit int) ([]Task, error) {
	query := `SELECT ` + pgTaskColumns + ` FROM tasks`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanPGTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *PGStore) Counts() (TaskCounts, error) {
	var c TaskCounts
	rows, err := s.pool.Query(context.Background(),
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
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

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPGTask(row pgx.Row) (*Task, error) {
	var t Task
	var priority int
	var status string
	var startedAt, completedAt, leaseExpiresAt *time.Time
	var workerID, result, errMsg *string
	var cfg []byte

	err := row.Scan(&t.ID, &t.UUID, &t.Owner, &t.Repo, &t.PRNumber, &t.HeadSHA,
		&t.BaseSHA, &priority, &status, &t.CreatedAt, &t.AvailableAt,
		&startedAt, &completedAt, &leaseExpiresAt, &t.RetryCount,
		&t.MaxRetries, &workerID, &cfg, &result, &errMsg)
	if err != nil {
		return nil, err
	}

	t.Priority = Priority(priority)
	t.Status = TaskStatus(status)
	t.StartedAt = startedAt
	t.CompletedAt = completedAt
	t.LeaseExpiresAt = leaseExpiresAt
	if workerID != nil {
		t.WorkerID = *workerID
	}
	if result != nil {
		t.ResultJSON = *result
	}
	if errMsg != nil {
		t.ErrorMessage = *errMsg
	}
	if err := json.Unmarshal(cfg, &t.Config); err != nil {
		return nil, fmt.Errorf("unmarshal task config: %w", err)
	}
	return &t, nil
}
