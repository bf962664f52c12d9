package storage

import (
	"github.com/burrowq/burrow/pkg/types"
)

// Store defines the persistence contract for the queue engine. Three
// conforming backends exist: file (JSON directories with advisory
// lockfiles), bolt (single bbolt database) and memory (go-memdb tables).
//
// Task ids are unique within a project, not globally; lookups by task id
// alone scan projects and return the first match.
//
// AssignTask, CompleteTask, FailTask, ExtendLease and RequeueTask are the
// atomic primitives: every backend must make AssignTask linearizable
// across concurrent callers, with at most one winner per candidate task.
type Store interface {
	// Lifecycle. Both are idempotent; Init creates directories,
	// buckets or tables as needed.
	Init() error
	Close() error

	// Projects. Lists return newest-first by creation time. Create
	// enforces globally unique names.
	CreateProject(p *types.Project) error
	GetProject(id string) (*types.Project, error)
	GetProjectByName(name string) (*types.Project, error)
	UpdateProject(p *types.Project) error
	ListProjects(includeClosed bool) ([]*types.Project, error)
	DeleteProject(id string) error

	// Task types. Create and Update enforce unique (projectID, name).
	CreateTaskType(tt *types.TaskType) error
	GetTaskType(id string) (*types.TaskType, error)
	GetTaskTypeByName(projectID, name string) (*types.TaskType, error)
	UpdateTaskType(tt *types.TaskType) error
	ListTaskTypes(projectID string) ([]*types.TaskType, error)
	DeleteTaskType(id string) error

	// Tasks. Lists return newest-first. NextTaskID hands out the next
	// free sequential "task-N" id for the project.
	CreateTask(t *types.Task) error
	GetTask(id string) (*types.Task, error)
	UpdateTask(t *types.Task) error
	ListTasks(projectID string, filter types.TaskFilter) ([]*types.Task, error)
	DeleteTask(id string) error
	NextTaskID(projectID string) (string, error)

	// Atomic lease primitives. AssignTask returns (nil, nil) when no
	// queued task is available.
	AssignTask(projectID, workerName string) (*types.Task, error)
	CompleteTask(taskID string, result *types.TaskResult) (*types.Task, error)
	FailTask(taskID string, result *types.TaskResult, canRetry bool) (*types.Task, error)
	ExtendLease(taskID string, minutes int) (*types.Task, error)
	RequeueTask(taskID string) (*types.Task, error)
	FindExpiredLeases() ([]*types.Task, error)

	// Queries. FindDuplicateTask returns (nil, nil) when no non-failed
	// task shares (typeID, variables) within the project.
	FindDuplicateTask(projectID, typeID string, variables map[string]string) (*types.Task, error)
	GetTaskHistory(taskID string) ([]types.Attempt, error)

	// Health
	HealthCheck() types.HealthStatus
	GetMetrics() (map[string]float64, error)

	// Sessions, used only by the HTTP shell
	CreateSession(s *types.Session) error
	GetSession(token string) (*types.Session, error)
	UpdateSession(s *types.Session) error
	DeleteSession(token string) error
	FindSessionsByAgent(agentName string) ([]*types.Session, error)
	CleanupExpiredSessions() (int, error)
}
