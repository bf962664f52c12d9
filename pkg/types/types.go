package types

import (
	"time"
)

// ProjectStatus represents the lifecycle state of a project
type ProjectStatus string

const (
	ProjectStatusActive ProjectStatus = "active"
	ProjectStatusClosed ProjectStatus = "closed"
)

// ProjectConfig holds per-project defaults inherited by task types and tasks
type ProjectConfig struct {
	DefaultMaxRetries           int `json:"default_max_retries"`
	DefaultLeaseDurationMinutes int `json:"default_lease_duration_minutes"`
	ReaperIntervalMinutes       int `json:"reaper_interval_minutes"`
}

// ProjectStats aggregates task counts for a project, derived on read
type ProjectStats struct {
	TotalTasks     int `json:"total_tasks"`
	QueuedTasks    int `json:"queued_tasks"`
	RunningTasks   int `json:"running_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`
}

// Project is the organizational unit owning task types and tasks
type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Instructions string        `json:"instructions,omitempty"`
	Status       ProjectStatus `json:"status"`
	Config       ProjectConfig `json:"config"`
	Stats        *ProjectStats `json:"stats,omitempty"` // derived, not persisted
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// DuplicateHandling is the policy applied when a task with identical
// (type, variables) already exists in the project
type DuplicateHandling string

const (
	DuplicateAllow  DuplicateHandling = "allow"
	DuplicateIgnore DuplicateHandling = "ignore"
	DuplicateFail   DuplicateHandling = "fail"
)

// TaskType is a reusable template plus execution policy for a family of tasks
type TaskType struct {
	ID                   string            `json:"id"`
	ProjectID            string            `json:"project_id"`
	Name                 string            `json:"name"`
	Template             string            `json:"template,omitempty"`
	Variables            []string          `json:"variables,omitempty"`
	DuplicateHandling    DuplicateHandling `json:"duplicate_handling"`
	MaxRetries           int               `json:"max_retries"`
	LeaseDurationMinutes int               `json:"lease_duration_minutes"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// TaskStatus represents the state of a task
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether the status is a final state
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// AttemptStatus represents the state of a single attempt
type AttemptStatus string

const (
	AttemptStatusRunning   AttemptStatus = "running"
	AttemptStatusCompleted AttemptStatus = "completed"
	AttemptStatusFailed    AttemptStatus = "failed"
)

// Attempt is one pass of a task through running-then-terminal
type Attempt struct {
	ID             string        `json:"id"`
	AgentName      string        `json:"agent_name"`
	Status         AttemptStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	LeaseExpiresAt time.Time     `json:"lease_expires_at"`
	Result         *TaskResult   `json:"result,omitempty"`
}

// TaskResult carries the outcome reported by a worker
type TaskResult struct {
	Success  bool           `json:"success"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Duration float64        `json:"duration,omitempty"` // seconds
}

// Task is a single unit of work with a lifecycle
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	TypeID      string     `json:"type_id,omitempty"`
	TypeName    string     `json:"type_name,omitempty"` // annotation on list/get, not persisted
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`

	// Exactly one of Instructions (non-template tasks) or Variables
	// (template tasks) is meaningful. Template tasks re-interpolate on read.
	Instructions string            `json:"instructions,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`

	AssignedTo     string     `json:"assigned_to,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	Attempts []Attempt   `json:"attempts,omitempty"`
	Result   *TaskResult `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	// Seq is the backend insertion counter, set on create. It breaks
	// FIFO ties between tasks sharing a CreatedAt timestamp.
	Seq uint64 `json:"seq,omitempty"`
}

// CurrentAttempt returns the running attempt, or nil when the task is not running
func (t *Task) CurrentAttempt() *Attempt {
	for i := len(t.Attempts) - 1; i >= 0; i-- {
		if t.Attempts[i].Status == AttemptStatusRunning {
			return &t.Attempts[i]
		}
	}
	return nil
}

// TaskFilter narrows task listings
type TaskFilter struct {
	Status     TaskStatus `json:"status,omitempty"`
	TypeID     string     `json:"type_id,omitempty"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

// Agent is the ephemeral projection of a worker currently holding a lease.
// There is no persistent agent identity; the running-task set is the
// active-agents set.
type Agent struct {
	Name           string     `json:"name"`
	Status         string     `json:"status"` // always "working"
	CurrentTaskID  string     `json:"current_task_id"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// LeaseStats summarizes lease pressure within a project
type LeaseStats struct {
	QueuedTasks     int        `json:"queued_tasks"`
	RunningTasks    int        `json:"running_tasks"`
	ExpiredLeases   int        `json:"expired_leases"`
	ActiveWorkers   int        `json:"active_workers"`
	NextLeaseExpiry *time.Time `json:"next_lease_expiry,omitempty"`
	LastLeaseExpiry *time.Time `json:"last_lease_expiry,omitempty"`
}

// CleanupResult reports one expired-lease sweep
type CleanupResult struct {
	ReclaimedTasks int `json:"reclaimed_tasks"`
	CleanedAgents  int `json:"cleaned_agents"`
}

// Session is an HTTP-shell auth token bound to an agent name.
// The engine itself never consults sessions.
type Session struct {
	Token     string    `json:"token"`
	AgentName string    `json:"agent_name"`
	ProjectID string    `json:"project_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session TTL has elapsed
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// HealthStatus is the storage backend's self-report
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}
