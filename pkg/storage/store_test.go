package storage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/types"
)

// eachStore runs fn against every backend so the whole suite doubles as a
// conformance check.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			s, err := NewMemoryStore()
			require.NoError(t, err)
			return s
		},
		"bolt": func(t *testing.T) Store {
			s, err := NewBoltStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir(), time.Second)
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func newProject(id, name string) *types.Project {
	now := time.Now().UTC()
	return &types.Project{
		ID:     id,
		Name:   name,
		Status: types.ProjectStatusActive,
		Config: types.ProjectConfig{
			DefaultMaxRetries:           3,
			DefaultLeaseDurationMinutes: 10,
			ReaperIntervalMinutes:       1,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTaskType(id, projectID, name string) *types.TaskType {
	now := time.Now().UTC()
	return &types.TaskType{
		ID:                   id,
		ProjectID:            projectID,
		Name:                 name,
		DuplicateHandling:    types.DuplicateAllow,
		MaxRetries:           3,
		LeaseDurationMinutes: 10,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func newTask(id, projectID, typeID string) *types.Task {
	return &types.Task{
		ID:         id,
		ProjectID:  projectID,
		TypeID:     typeID,
		Status:     types.TaskStatusQueued,
		MaxRetries: 3,
		CreatedAt:  time.Now().UTC(),
	}
}

func seedProject(t *testing.T, s Store, projectID string) {
	t.Helper()
	require.NoError(t, s.CreateProject(newProject(projectID, projectID)))
}

func TestProjectCRUD(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		p := newProject("proj-1", "billing")
		require.NoError(t, s.CreateProject(p))

		got, err := s.GetProject("proj-1")
		require.NoError(t, err)
		assert.Equal(t, "billing", got.Name)
		assert.Equal(t, types.ProjectStatusActive, got.Status)

		byName, err := s.GetProjectByName("billing")
		require.NoError(t, err)
		assert.Equal(t, "proj-1", byName.ID)

		got.Description = "invoice pipeline"
		require.NoError(t, s.UpdateProject(got))
		got, err = s.GetProject("proj-1")
		require.NoError(t, err)
		assert.Equal(t, "invoice pipeline", got.Description)

		require.NoError(t, s.DeleteProject("proj-1"))
		_, err = s.GetProject("proj-1")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestProjectNameUniqueness(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		require.NoError(t, s.CreateProject(newProject("proj-1", "billing")))

		err := s.CreateProject(newProject("proj-2", "billing"))
		assert.True(t, errors.IsConflict(err))

		err = s.CreateProject(newProject("proj-1", "other"))
		assert.True(t, errors.IsConflict(err))

		// Renaming onto an existing name is also rejected.
		require.NoError(t, s.CreateProject(newProject("proj-3", "reports")))
		p, err := s.GetProject("proj-3")
		require.NoError(t, err)
		p.Name = "billing"
		assert.True(t, errors.IsConflict(s.UpdateProject(p)))
	})
}

func TestListProjectsExcludesClosed(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		require.NoError(t, s.CreateProject(newProject("proj-1", "open")))
		closed := newProject("proj-2", "done")
		closed.Status = types.ProjectStatusClosed
		require.NoError(t, s.CreateProject(closed))

		active, err := s.ListProjects(false)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "proj-1", active[0].ID)

		all, err := s.ListProjects(true)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestTaskTypeCRUD(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")

		tt := newTaskType("type-1", "proj-1", "review")
		tt.Template = "Review {{ repo }}"
		tt.Variables = []string{"repo"}
		require.NoError(t, s.CreateTaskType(tt))

		got, err := s.GetTaskType("type-1")
		require.NoError(t, err)
		assert.Equal(t, "Review {{ repo }}", got.Template)

		byName, err := s.GetTaskTypeByName("proj-1", "review")
		require.NoError(t, err)
		assert.Equal(t, "type-1", byName.ID)

		got.MaxRetries = 5
		require.NoError(t, s.UpdateTaskType(got))
		got, err = s.GetTaskType("type-1")
		require.NoError(t, err)
		assert.Equal(t, 5, got.MaxRetries)

		// Same name is fine in a different project.
		seedProject(t, s, "proj-2")
		other := newTaskType("type-2", "proj-2", "review")
		require.NoError(t, s.CreateTaskType(other))

		// But a duplicate within the project conflicts.
		dup := newTaskType("type-3", "proj-1", "review")
		assert.True(t, errors.IsConflict(s.CreateTaskType(dup)))

		require.NoError(t, s.DeleteTaskType("type-1"))
		_, err = s.GetTaskType("type-1")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestTaskCRUDAndFilters(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")

		base := time.Now().UTC().Add(-time.Hour)
		for i := 1; i <= 5; i++ {
			task := newTask(fmt.Sprintf("task-%d", i), "proj-1", "type-1")
			task.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.CreateTask(task))
		}

		all, err := s.ListTasks("proj-1", types.TaskFilter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		// Newest first.
		assert.Equal(t, "task-5", all[0].ID)
		assert.Equal(t, "task-1", all[4].ID)

		page, err := s.ListTasks("proj-1", types.TaskFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "task-4", page[0].ID)
		assert.Equal(t, "task-3", page[1].ID)

		// Offset past the end yields empty, not an error.
		empty, err := s.ListTasks("proj-1", types.TaskFilter{Offset: 50})
		require.NoError(t, err)
		assert.Empty(t, empty)

		byStatus, err := s.ListTasks("proj-1", types.TaskFilter{Status: types.TaskStatusRunning})
		require.NoError(t, err)
		assert.Empty(t, byStatus)

		require.NoError(t, s.DeleteTask("task-3"))
		_, err = s.GetTask("task-3")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestNextTaskID(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")

		id1, err := s.NextTaskID("proj-1")
		require.NoError(t, err)
		assert.Equal(t, "task-1", id1)
		require.NoError(t, s.CreateTask(newTask(id1, "proj-1", "")))

		// Caller-supplied ids do not break the counter; collisions are
		// skipped.
		require.NoError(t, s.CreateTask(newTask("task-2", "proj-1", "")))
		id3, err := s.NextTaskID("proj-1")
		require.NoError(t, err)
		assert.Equal(t, "task-3", id3)
	})
}

func TestAssignTaskFIFO(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")
		require.NoError(t, s.CreateTaskType(newTaskType("type-1", "proj-1", "review")))

		base := time.Now().UTC().Add(-time.Hour)
		first := newTask("task-old", "proj-1", "type-1")
		first.CreatedAt = base
		second := newTask("task-new", "proj-1", "type-1")
		second.CreatedAt = base.Add(time.Minute)
		require.NoError(t, s.CreateTask(second))
		require.NoError(t, s.CreateTask(first))

		got, err := s.AssignTask("proj-1", "worker-a")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "task-old", got.ID)
		assert.Equal(t, types.TaskStatusRunning, got.Status)
		assert.Equal(t, "worker-a", got.AssignedTo)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.True(t, got.LeaseExpiresAt.After(time.Now()))
		require.Len(t, got.Attempts, 1)
		assert.Equal(t, types.AttemptStatusRunning, got.Attempts[0].Status)

		got, err = s.AssignTask("proj-1", "worker-b")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "task-new", got.ID)

		// Empty queue is not an error.
		got, err = s.AssignTask("proj-1", "worker-c")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestAssignTaskSeqTieBreak(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")

		created := time.Now().UTC().Truncate(time.Second)
		for _, id := range []string{"task-a", "task-b", "task-c"} {
			task := newTask(id, "proj-1", "")
			task.CreatedAt = created
			require.NoError(t, s.CreateTask(task))
		}

		var order []string
		for {
			got, err := s.AssignTask("proj-1", "worker")
			require.NoError(t, err)
			if got == nil {
				break
			}
			order = append(order, got.ID)
		}
		assert.Equal(t, []string{"task-a", "task-b", "task-c"}, order)
	})
}

func TestAssignTaskLeaseDurationFallback(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		p := newProject("proj-1", "proj-1")
		p.Config.DefaultLeaseDurationMinutes = 60
		require.NoError(t, s.CreateProject(p))

		tt := newTaskType("type-1", "proj-1", "review")
		tt.LeaseDurationMinutes = 5
		require.NoError(t, s.CreateTaskType(tt))

		// A typeless task leases for the project default.
		require.NoError(t, s.CreateTask(newTask("task-typeless", "proj-1", "")))
		got, err := s.AssignTask("proj-1", "worker-a")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.WithinDuration(t, time.Now().Add(60*time.Minute), *got.LeaseExpiresAt, 10*time.Second)

		// A typed task leases for the type's duration.
		require.NoError(t, s.CreateTask(newTask("task-typed", "proj-1", "type-1")))
		got, err = s.AssignTask("proj-1", "worker-b")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.WithinDuration(t, time.Now().Add(5*time.Minute), *got.LeaseExpiresAt, 10*time.Second)

		// A dangling type reference falls back to the project default.
		require.NoError(t, s.CreateTask(newTask("task-orphan", "proj-1", "type-gone")))
		got, err = s.AssignTask("proj-1", "worker-c")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.WithinDuration(t, time.Now().Add(60*time.Minute), *got.LeaseExpiresAt, 10*time.Second)
	})
}

func TestAssignTaskConcurrent(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")
		for i := 1; i <= 10; i++ {
			require.NoError(t, s.CreateTask(newTask(fmt.Sprintf("task-%d", i), "proj-1", "")))
		}

		const workers = 20
		var wg sync.WaitGroup
		results := make(chan *types.Task, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				got, err := s.AssignTask("proj-1", fmt.Sprintf("worker-%d", n))
				if err == nil && got != nil {
					results <- got
				}
			}(i)
		}
		wg.Wait()
		close(results)

		seen := map[string]bool{}
		for task := range results {
			assert.False(t, seen[task.ID], "task %s assigned twice", task.ID)
			seen[task.ID] = true
		}
		assert.Len(t, seen, 10)
	})
}

func TestCompleteTask(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")
		require.NoError(t, s.CreateTask(newTask("task-1", "proj-1", "")))

		_, err := s.AssignTask("proj-1", "worker-a")
		require.NoError(t, err)

		result := &types.TaskResult{Success: true, Output: "done", Duration: 1.5}
		got, err := s.CompleteTask("task-1", result)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusCompleted, got.Status)
		assert.Equal(t, "done", got.Result.Output)
		assert.NotNil(t, got.CompletedAt)
		assert.Empty(t, got.AssignedTo)
		assert.Nil(t, got.LeaseExpiresAt)
		require.Len(t, got.Attempts, 1)
		assert.Equal(t, types.AttemptStatusCompleted, got.Attempts[0].Status)

		// Completing a terminal task is a state error.
		_, err = s.CompleteTask("task-1", result)
		assert.True(t, errors.IsState(err))
	})
}

func TestFailTaskRetryCycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")
		task := newTask("task-1", "proj-1", "")
		task.MaxRetries = 2
		require.NoError(t, s.CreateTask(task))

		fail := &types.TaskResult{Success: false, Error: "boom"}

		// Fails 1 and 2 requeue, fail 3 exhausts the retry budget.
		for i := 1; i <= 2; i++ {
			_, err := s.AssignTask("proj-1", "worker-a")
			require.NoError(t, err)
			got, err := s.FailTask("task-1", fail, true)
			require.NoError(t, err)
			assert.Equal(t, types.TaskStatusQueued, got.Status, "fail %d should requeue", i)
			assert.Equal(t, i, got.RetryCount)
			assert.Empty(t, got.AssignedTo)
		}

		_, err := s.AssignTask("proj-1", "worker-a")
		require.NoError(t, err)
		got, err := s.FailTask("task-1", fail, true)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusFailed, got.Status)
		assert.Equal(t, 3, got.RetryCount)
		assert.NotNil(t, got.FailedAt)
		assert.Equal(t, "boom", got.Result.Error)
		assert.Len(t, got.Attempts, 3)
	})
}

func TestFailTaskNoRetry(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")
		require.NoError(t, s.CreateTask(newTask("task-1", "proj-1", "")))

		_, err := s.AssignTask("proj-1", "worker-a")
		require.NoError(t, err)

		// canRetry=false fails terminally even with budget remaining.
		got, err := s.FailTask("task-1", &types.TaskResult{Success: false, Error: "fatal"}, false)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusFailed, got.Status)
		assert.Equal(t, 1, got.RetryCount)
	})
}

func TestExtendLease(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")
		require.NoError(t, s.CreateTask(newTask("task-1", "proj-1", "")))

		assigned, err := s.AssignTask("proj-1", "worker-a")
		require.NoError(t, err)
		before := *assigned.LeaseExpiresAt

		got, err := s.ExtendLease("task-1", 30)
		require.NoError(t, err)
		assert.Equal(t, before.Add(30*time.Minute), *got.LeaseExpiresAt)
		assert.Equal(t, *got.LeaseExpiresAt, got.Attempts[0].LeaseExpiresAt)

		// Extending a queued task is a state error.
		require.NoError(t, s.CreateTask(newTask("task-2", "proj-1", "")))
		_, err = s.ExtendLease("task-2", 10)
		assert.True(t, errors.IsState(err))
	})
}

func TestRequeueAndExpiredLeases(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")
		require.NoError(t, s.CreateTask(newTask("task-1", "proj-1", "")))

		_, err := s.AssignTask("proj-1", "worker-a")
		require.NoError(t, err)

		// Force the lease into the past.
		task, err := s.GetTask("task-1")
		require.NoError(t, err)
		past := time.Now().UTC().Add(-time.Minute)
		task.LeaseExpiresAt = &past
		require.NoError(t, s.UpdateTask(task))

		expired, err := s.FindExpiredLeases()
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "task-1", expired[0].ID)

		got, err := s.RequeueTask("task-1")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusQueued, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		assert.Empty(t, got.AssignedTo)
		require.Len(t, got.Attempts, 1)
		assert.Equal(t, types.AttemptStatusFailed, got.Attempts[0].Status)
		assert.Equal(t, "lease expired", got.Attempts[0].Result.Error)

		expired, err = s.FindExpiredLeases()
		require.NoError(t, err)
		assert.Empty(t, expired)
	})
}

func TestFindDuplicateTask(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")

		task := newTask("task-1", "proj-1", "type-1")
		task.Variables = map[string]string{"repo": "api"}
		require.NoError(t, s.CreateTask(task))

		dup, err := s.FindDuplicateTask("proj-1", "type-1", map[string]string{"repo": "api"})
		require.NoError(t, err)
		require.NotNil(t, dup)
		assert.Equal(t, "task-1", dup.ID)

		none, err := s.FindDuplicateTask("proj-1", "type-1", map[string]string{"repo": "web"})
		require.NoError(t, err)
		assert.Nil(t, none)

		// Failed tasks never block re-creation.
		_, err = s.AssignTask("proj-1", "worker-a")
		require.NoError(t, err)
		_, err = s.FailTask("task-1", &types.TaskResult{Success: false}, false)
		require.NoError(t, err)
		none, err = s.FindDuplicateTask("proj-1", "type-1", map[string]string{"repo": "api"})
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestGetTaskHistory(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")
		require.NoError(t, s.CreateTask(newTask("task-1", "proj-1", "")))

		_, err := s.AssignTask("proj-1", "worker-a")
		require.NoError(t, err)
		_, err = s.FailTask("task-1", &types.TaskResult{Success: false, Error: "x"}, true)
		require.NoError(t, err)
		_, err = s.AssignTask("proj-1", "worker-b")
		require.NoError(t, err)
		_, err = s.CompleteTask("task-1", &types.TaskResult{Success: true})
		require.NoError(t, err)

		history, err := s.GetTaskHistory("task-1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "worker-a", history[0].AgentName)
		assert.Equal(t, types.AttemptStatusFailed, history[0].Status)
		assert.Equal(t, "worker-b", history[1].AgentName)
		assert.Equal(t, types.AttemptStatusCompleted, history[1].Status)
	})
}

func TestSessions(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		now := time.Now().UTC()
		sess := &types.Session{
			Token:     "tok-1",
			AgentName: "worker-a",
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}
		require.NoError(t, s.CreateSession(sess))

		got, err := s.GetSession("tok-1")
		require.NoError(t, err)
		assert.Equal(t, "worker-a", got.AgentName)

		byAgent, err := s.FindSessionsByAgent("worker-a")
		require.NoError(t, err)
		assert.Len(t, byAgent, 1)

		expired := &types.Session{
			Token:     "tok-2",
			AgentName: "worker-b",
			CreatedAt: now.Add(-2 * time.Hour),
			ExpiresAt: now.Add(-time.Hour),
		}
		require.NoError(t, s.CreateSession(expired))

		removed, err := s.CleanupExpiredSessions()
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		_, err = s.GetSession("tok-2")
		assert.True(t, errors.IsNotFound(err))
		_, err = s.GetSession("tok-1")
		assert.NoError(t, err)

		require.NoError(t, s.DeleteSession("tok-1"))
		_, err = s.GetSession("tok-1")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestHealthCheckAndMetrics(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		health := s.HealthCheck()
		assert.True(t, health.Healthy)

		seedProject(t, s, "proj-1")
		require.NoError(t, s.CreateTask(newTask("task-1", "proj-1", "")))

		metrics, err := s.GetMetrics()
		require.NoError(t, err)
		assert.Equal(t, float64(1), metrics["projects_total"])
		assert.Equal(t, float64(1), metrics["tasks_total"])
		assert.Equal(t, float64(1), metrics["tasks_queued"])
	})
}

func TestDeleteProjectCascades(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedProject(t, s, "proj-1")
		require.NoError(t, s.CreateTaskType(newTaskType("type-1", "proj-1", "review")))
		require.NoError(t, s.CreateTask(newTask("task-1", "proj-1", "type-1")))

		require.NoError(t, s.DeleteProject("proj-1"))

		_, err := s.GetTask("task-1")
		assert.True(t, errors.IsNotFound(err))
		_, err = s.GetTaskType("type-1")
		assert.True(t, errors.IsNotFound(err))
	})
}
