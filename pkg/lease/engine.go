package lease

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/log"
	"github.com/burrowq/burrow/pkg/metrics"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/types"
	"github.com/burrowq/burrow/pkg/validate"
)

// Engine is the assignment engine. It delegates atomicity to the
// storage primitives and layers policy on top: reconnection, ownership
// checks and expired-lease cleanup.
type Engine struct {
	store    storage.Store
	projects *project.Service
	logger   zerolog.Logger
}

// NewEngine creates a lease engine
func NewEngine(store storage.Store, projects *project.Service) *Engine {
	return &Engine{
		store:    store,
		projects: projects,
		logger:   log.WithComponent("lease"),
	}
}

// Assignment is the outcome of GetNextTask. Task is nil when the queue
// is empty; WorkerName echoes the caller's name or the generated one.
type Assignment struct {
	Task       *types.Task `json:"task,omitempty"`
	WorkerName string      `json:"worker_name"`
}

// GetNextTask pulls the next queued task for a worker. A worker that
// already holds a running task in the project gets that task back
// instead of a second one (reconnection path).
func (e *Engine) GetNextTask(projectIDOrName, workerName string) (*Assignment, error) {
	p, err := e.projects.ValidateAccess(projectIDOrName)
	if err != nil {
		return nil, err
	}

	if workerName != "" {
		current, err := e.runningTaskOf(p.ID, workerName)
		if err != nil {
			return nil, err
		}
		if current != nil {
			lg := log.WithWorker(workerName)
			lg.Debug().
				Str("project_id", p.ID).
				Str("task_id", current.ID).
				Msg("Worker reconnected to its running task")
			return &Assignment{Task: current, WorkerName: workerName}, nil
		}
	} else {
		workerName = generateWorkerName()
	}

	// Best effort; a failed sweep must not block assignment.
	if _, err := e.CleanupExpiredLeases(p.ID); err != nil {
		e.logger.Warn().Err(err).
			Str("project_id", p.ID).
			Msg("Pre-assignment lease cleanup failed")
	}

	t, err := e.store.AssignTask(p.ID, workerName)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &Assignment{WorkerName: workerName}, nil
	}
	metrics.TasksAssigned.WithLabelValues(p.ID).Inc()

	lg := log.WithWorker(workerName)
	lg.Info().
		Str("project_id", p.ID).
		Str("task_id", t.ID).
		Time("lease_expires_at", *t.LeaseExpiresAt).
		Msg("Task assigned")
	return &Assignment{Task: t, WorkerName: workerName}, nil
}

// CompleteTask marks a running task completed after verifying the
// calling worker owns its lease
func (e *Engine) CompleteTask(workerName, projectIDOrName, taskID string, result *types.TaskResult) (*types.Task, error) {
	p, err := e.projects.Resolve(projectIDOrName)
	if err != nil {
		return nil, err
	}
	if _, err := e.checkOwnership(p.ID, taskID, workerName); err != nil {
		return nil, err
	}

	t, err := e.store.CompleteTask(taskID, result)
	if err != nil {
		return nil, err
	}
	metrics.TasksCompleted.WithLabelValues(p.ID).Inc()

	lg := log.WithTask(taskID)
	lg.Info().
		Str("project_id", p.ID).
		Str("worker", workerName).
		Msg("Task completed")
	return t, nil
}

// FailTask reports a failed attempt. Storage requeues the task while
// retry budget remains and canRetry is set, otherwise fails it
// terminally.
func (e *Engine) FailTask(workerName, projectIDOrName, taskID string, result *types.TaskResult, canRetry bool) (*types.Task, error) {
	p, err := e.projects.Resolve(projectIDOrName)
	if err != nil {
		return nil, err
	}
	if _, err := e.checkOwnership(p.ID, taskID, workerName); err != nil {
		return nil, err
	}

	t, err := e.store.FailTask(taskID, result, canRetry)
	if err != nil {
		return nil, err
	}
	if t.Status == types.TaskStatusFailed {
		metrics.TasksFailed.WithLabelValues(p.ID).Inc()
	}

	lg := log.WithTask(taskID)
	lg.Info().
		Str("project_id", p.ID).
		Str("worker", workerName).
		Str("status", string(t.Status)).
		Int("retry_count", t.RetryCount).
		Msg("Task failed")
	return t, nil
}

// ExtendTaskLease pushes a running task's lease expiry out by minutes.
// An empty workerName skips the ownership check; the CLI extends leases
// administratively by task id alone.
func (e *Engine) ExtendTaskLease(workerName, projectIDOrName, taskID string, minutes int) (*types.Task, error) {
	if err := validate.MinOne("minutes", minutes); err != nil {
		return nil, err
	}

	projectID := ""
	if projectIDOrName != "" {
		p, err := e.projects.Resolve(projectIDOrName)
		if err != nil {
			return nil, err
		}
		projectID = p.ID
	}
	if workerName != "" {
		if _, err := e.checkOwnership(projectID, taskID, workerName); err != nil {
			return nil, err
		}
	}

	t, err := e.store.ExtendLease(taskID, minutes)
	if err != nil {
		return nil, err
	}
	metrics.LeasesExtended.WithLabelValues(t.ProjectID).Inc()

	lg := log.WithTask(taskID)
	lg.Info().
		Int("minutes", minutes).
		Time("lease_expires_at", *t.LeaseExpiresAt).
		Msg("Lease extended")
	return t, nil
}

// CleanupExpiredLeases requeues every expired running task in the
// project. Per-task failures are accumulated; the sweep continues past
// them and reports the partial count alongside the combined error.
func (e *Engine) CleanupExpiredLeases(projectIDOrName string) (*types.CleanupResult, error) {
	p, err := e.projects.Resolve(projectIDOrName)
	if err != nil {
		return nil, err
	}

	expired, err := e.store.FindExpiredLeases()
	if err != nil {
		return nil, err
	}

	result := &types.CleanupResult{}
	workers := map[string]bool{}
	var errs *multierror.Error
	for _, t := range expired {
		if t.ProjectID != p.ID {
			continue
		}
		worker := t.AssignedTo
		if _, err := e.store.RequeueTask(t.ID); err != nil {
			// A concurrent sweep or a late complete may have won; state
			// errors just mean the task is no longer ours to reclaim.
			if !errors.IsState(err) {
				errs = multierror.Append(errs, fmt.Errorf("requeue %s: %w", t.ID, err))
			}
			continue
		}
		result.ReclaimedTasks++
		if worker != "" && !workers[worker] {
			workers[worker] = true
			result.CleanedAgents++
		}
		metrics.LeasesReclaimed.WithLabelValues(p.ID).Inc()
		lg := log.WithTask(t.ID)
		lg.Info().
			Str("project_id", p.ID).
			Str("worker", worker).
			Msg("Expired lease reclaimed")
	}
	return result, errs.ErrorOrNil()
}

// PeekNextTask returns the queued-task count, a hint with no reservation
func (e *Engine) PeekNextTask(projectIDOrName string) (int, error) {
	p, err := e.projects.Resolve(projectIDOrName)
	if err != nil {
		return 0, err
	}
	queued, err := e.store.ListTasks(p.ID, types.TaskFilter{Status: types.TaskStatusQueued})
	if err != nil {
		return 0, err
	}
	return len(queued), nil
}

// Stats summarizes lease pressure within a project
func (e *Engine) Stats(projectIDOrName string) (*types.LeaseStats, error) {
	p, err := e.projects.Resolve(projectIDOrName)
	if err != nil {
		return nil, err
	}
	tasks, err := e.store.ListTasks(p.ID, types.TaskFilter{})
	if err != nil {
		return nil, err
	}

	stats := &types.LeaseStats{}
	now := time.Now().UTC()
	workers := map[string]bool{}
	for _, t := range tasks {
		switch t.Status {
		case types.TaskStatusQueued:
			stats.QueuedTasks++
		case types.TaskStatusRunning:
			stats.RunningTasks++
			if t.AssignedTo != "" {
				workers[t.AssignedTo] = true
			}
			if t.LeaseExpiresAt == nil {
				continue
			}
			if t.LeaseExpiresAt.Before(now) {
				stats.ExpiredLeases++
			}
			if stats.NextLeaseExpiry == nil || t.LeaseExpiresAt.Before(*stats.NextLeaseExpiry) {
				stats.NextLeaseExpiry = t.LeaseExpiresAt
			}
			if stats.LastLeaseExpiry == nil || t.LeaseExpiresAt.After(*stats.LastLeaseExpiry) {
				stats.LastLeaseExpiry = t.LeaseExpiresAt
			}
		}
	}
	stats.ActiveWorkers = len(workers)
	return stats, nil
}

// runningTaskOf finds the running task held by a worker, nil when none
func (e *Engine) runningTaskOf(projectID, workerName string) (*types.Task, error) {
	running, err := e.store.ListTasks(projectID, types.TaskFilter{
		Status:     types.TaskStatusRunning,
		AssignedTo: workerName,
	})
	if err != nil {
		return nil, err
	}
	if len(running) == 0 {
		return nil, nil
	}
	return running[0], nil
}

// checkOwnership verifies the task is running in the given project and
// leased by workerName
func (e *Engine) checkOwnership(projectID, taskID, workerName string) (*types.Task, error) {
	t, err := e.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if projectID != "" && t.ProjectID != projectID {
		return nil, errors.NotFoundf("task %s not found in project %s", taskID, projectID)
	}
	if t.Status != types.TaskStatusRunning {
		return nil, errors.Statef("task %s is not running (%s)", taskID, t.Status)
	}
	if t.AssignedTo != workerName {
		return nil, errors.Authorizationf("task %s is leased by %s, not %s", taskID, t.AssignedTo, workerName)
	}
	return t, nil
}

// generateWorkerName mints a unique time-derived worker name for
// callers that did not supply one
func generateWorkerName() string {
	return fmt.Sprintf("worker-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
}
