package storage

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a queued Task. Transitions are
// monotonic: a terminal status (completed, failed, cancelled) never goes
// back to pending.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Priority orders tasks in the queue. Higher values dequeue first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Demote returns the priority one tier lower, bottoming out at Low.
// Retried tasks are demoted so a failing task cannot starve fresh work.
func (p Priority) Demote() Priority {
	if p > PriorityLow {
		return p - 1
	}
	return PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// ParsePriority converts a priority name to a Priority, defaulting to normal
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	}
	return PriorityNormal
}

// TaskConfig is the configuration snapshot carried by each Task. It is
// captured at enqueue time so a config reload mid-flight cannot change the
// semantics of already-queued work.
type TaskConfig struct {
	MaxRetries      int    `json:"max_retries"`
	TimeoutMinutes  int    `json:"timeout_minutes"`
	LabelPrefix     string `json:"label_prefix"`
	AnnotationLimit int    `json:"annotation_limit"`
	CommentLimit    int    `json:"comment_limit"`
}

// Normalized fills zero-valued fields with safe defaults, for tasks
// enqueued by older daemons or crafted by hand
func (c TaskConfig) Normalized() TaskConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.TimeoutMinutes == 0 {
		c.TimeoutMinutes = 10
	}
	if c.LabelPrefix == "" {
		c.LabelPrefix = "compliance:"
	}
	if c.AnnotationLimit == 0 {
		c.AnnotationLimit = 50
	}
	if c.CommentLimit == 0 {
		c.CommentLimit = 50
	}
	return c
}

// Task is one queued unit of PR-analysis work
type Task struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"`
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
	HeadSHA  string `json:"head_sha"`
	BaseSHA  string `json:"base_sha,omitempty"`

	Priority Priority   `json:"priority"`
	Status   TaskStatus `json:"status"`

	CreatedAt      time.Time  `json:"created_at"`
	AvailableAt    time.Time  `json:"available_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	WorkerID   string `json:"worker_id,omitempty"`

	Config       TaskConfig `json:"config"`
	ResultJSON   string     `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Slug returns the owner/repo#pr identifier used in log lines
func (t *Task) Slug() string {
	return fmt.Sprintf("%s/%s#%d", t.Owner, t.Repo, t.PRNumber)
}

// TaskCounts holds per-status task totals
type TaskCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}
