package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/types"
)

// DefaultLeaseMinutes is the last-resort lease duration, used when
// neither the task's type nor the owning project supplies one at
// assignment time.
const DefaultLeaseMinutes = 10

// The transition functions below mutate a task in place. Backends call
// them inside their own atomic context (bolt write transaction, memdb
// write transaction, or a held project lock) so the read-modify-write is
// never observable half-done.

func applyAssign(t *types.Task, workerName string, leaseMinutes int, now time.Time) {
	expiry := now.Add(time.Duration(leaseMinutes) * time.Minute)
	t.Status = types.TaskStatusRunning
	t.AssignedTo = workerName
	t.AssignedAt = &now
	t.LeaseExpiresAt = &expiry
	t.Attempts = append(t.Attempts, types.Attempt{
		ID:             fmt.Sprintf("attempt-%d", len(t.Attempts)+1),
		AgentName:      workerName,
		Status:         types.AttemptStatusRunning,
		StartedAt:      now,
		LeaseExpiresAt: expiry,
	})
}

func applyComplete(t *types.Task, result *types.TaskResult, now time.Time) error {
	if t.Status != types.TaskStatusRunning {
		if t.Status.IsTerminal() {
			return errors.Statef("task %s is already terminal (%s)", t.ID, t.Status)
		}
		return errors.Statef("task %s is not running (%s)", t.ID, t.Status)
	}

	if a := t.CurrentAttempt(); a != nil {
		a.Status = types.AttemptStatusCompleted
		a.CompletedAt = &now
		a.Result = result
	}
	t.Status = types.TaskStatusCompleted
	t.Result = result
	t.CompletedAt = &now
	clearAssignment(t)
	return nil
}

// applyFail requeues the task when a retry is still permitted, otherwise
// moves it to the terminal failed state. maxRetries counts retries, not
// attempts: the task fails on the (maxRetries+1)-th fail.
func applyFail(t *types.Task, result *types.TaskResult, canRetry bool, now time.Time) error {
	if t.Status != types.TaskStatusRunning {
		if t.Status.IsTerminal() {
			return errors.Statef("task %s is already terminal (%s)", t.ID, t.Status)
		}
		return errors.Statef("task %s is not running (%s)", t.ID, t.Status)
	}

	if a := t.CurrentAttempt(); a != nil {
		a.Status = types.AttemptStatusFailed
		a.CompletedAt = &now
		a.Result = result
	}
	t.RetryCount++

	if canRetry && t.RetryCount <= t.MaxRetries {
		t.Status = types.TaskStatusQueued
		clearAssignment(t)
		return nil
	}

	t.Status = types.TaskStatusFailed
	t.Result = result
	t.FailedAt = &now
	clearAssignment(t)
	return nil
}

func applyExtend(t *types.Task, minutes int) error {
	if t.Status != types.TaskStatusRunning || t.LeaseExpiresAt == nil {
		return errors.Statef("task %s is not running (%s)", t.ID, t.Status)
	}
	expiry := t.LeaseExpiresAt.Add(time.Duration(minutes) * time.Minute)
	t.LeaseExpiresAt = &expiry
	if a := t.CurrentAttempt(); a != nil {
		a.LeaseExpiresAt = expiry
	}
	return nil
}

func applyRequeue(t *types.Task, now time.Time) error {
	if t.Status != types.TaskStatusRunning {
		return errors.Statef("task %s is not running (%s)", t.ID, t.Status)
	}
	if a := t.CurrentAttempt(); a != nil {
		a.Status = types.AttemptStatusFailed
		a.CompletedAt = &now
		a.Result = &types.TaskResult{Success: false, Error: "lease expired"}
	}
	t.RetryCount++
	t.Status = types.TaskStatusQueued
	clearAssignment(t)
	return nil
}

func clearAssignment(t *types.Task) {
	t.AssignedTo = ""
	t.AssignedAt = nil
	t.LeaseExpiresAt = nil
}

// pickQueued selects the assignment candidate: FIFO by CreatedAt, ties
// broken by backend insertion order (Seq).
func pickQueued(tasks []*types.Task) *types.Task {
	var best *types.Task
	var bestSeq uint64
	for _, t := range tasks {
		if t.Status != types.TaskStatusQueued {
			continue
		}
		if best == nil || t.CreatedAt.Before(best.CreatedAt) ||
			(t.CreatedAt.Equal(best.CreatedAt) && t.Seq < bestSeq) {
			best = t
			bestSeq = t.Seq
		}
	}
	return best
}

// sortNewestFirst orders tasks by CreatedAt descending, newest insertion
// first on ties.
func sortNewestFirst(tasks []*types.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].Seq > tasks[j].Seq
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

func sortProjectsNewestFirst(projects []*types.Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
}

func sortTypesNewestFirst(tts []*types.TaskType) {
	sort.SliceStable(tts, func(i, j int) bool {
		return tts[i].CreatedAt.After(tts[j].CreatedAt)
	})
}

// matchFilter applies the status/type/assignee predicates of a TaskFilter
func matchFilter(t *types.Task, f types.TaskFilter) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.TypeID != "" && t.TypeID != f.TypeID {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	return true
}

// paginate applies offset/limit to an already-sorted slice
func paginate(tasks []*types.Task, limit, offset int) []*types.Task {
	if offset > 0 {
		if offset >= len(tasks) {
			return nil
		}
		tasks = tasks[offset:]
	}
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}

// variablesEqual compares two variable bindings for duplicate detection
func variablesEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// isDuplicate reports whether existing blocks creation of a task with the
// given type and variables. Failed tasks never block.
func isDuplicate(existing *types.Task, typeID string, variables map[string]string) bool {
	if existing.Status == types.TaskStatusFailed {
		return false
	}
	return existing.TypeID == typeID && variablesEqual(existing.Variables, variables)
}
