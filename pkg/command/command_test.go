package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowq/burrow/pkg/agent"
	"github.com/burrowq/burrow/pkg/lease"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/task"
	"github.com/burrowq/burrow/pkg/tasktype"
	"github.com/burrowq/burrow/pkg/types"
)

func newTestContext(t *testing.T) (*Registry, *Context) {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	projects := project.NewService(store)
	taskTypes := tasktype.NewService(store, projects)
	tasks := task.NewService(store, projects, taskTypes)
	leases := lease.NewEngine(store, projects)

	return NewRegistry(), &Context{
		Store:     store,
		Projects:  projects,
		TaskTypes: taskTypes,
		Tasks:     tasks,
		Leases:    leases,
		Agents:    agent.NewView(store, projects),
	}
}

func dispatch(t *testing.T, r *Registry, ctx *Context, name string, raw map[string]any) *Result {
	t.Helper()
	res := r.Dispatch(ctx, name, raw)
	require.True(t, res.Success, "%s failed: %s", name, res.Error)
	return res
}

func TestDispatchUnknownCommand(t *testing.T) {
	r, ctx := newTestContext(t)
	res := r.Dispatch(ctx, "no_such_command", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "not_found", res.ErrorKind)
}

func TestDispatchRequiredParam(t *testing.T) {
	r, ctx := newTestContext(t)
	res := r.Dispatch(ctx, "create_project", map[string]any{})
	assert.False(t, res.Success)
	assert.Equal(t, "validation", res.ErrorKind)
	assert.Contains(t, res.Error, "name")
}

func TestDispatchChoices(t *testing.T) {
	r, ctx := newTestContext(t)
	res := r.Dispatch(ctx, "list_projects", map[string]any{"status": "bogus"})
	assert.False(t, res.Success)
	assert.Equal(t, "validation", res.ErrorKind)
}

func TestDispatchCoercion(t *testing.T) {
	r, ctx := newTestContext(t)

	// String-typed numbers and booleans arrive from the CLI.
	res := dispatch(t, r, ctx, "create_project", map[string]any{
		"name":        "coerced",
		"max_retries": "5",
	})
	p, ok := res.Data.(*types.Project)
	require.True(t, ok)
	assert.Equal(t, 5, p.Config.DefaultMaxRetries)

	bad := r.Dispatch(ctx, "create_project", map[string]any{
		"name":        "coerced-2",
		"max_retries": "not-a-number",
	})
	assert.False(t, bad.Success)
	assert.Equal(t, "validation", bad.ErrorKind)
}

func TestDispatchAliases(t *testing.T) {
	r, ctx := newTestContext(t)

	res := dispatch(t, r, ctx, "create_project", map[string]any{
		"name":       "aliased",
		"maxRetries": float64(9),
	})
	p := res.Data.(*types.Project)
	assert.Equal(t, 9, p.Config.DefaultMaxRetries)
}

func TestWorkerLifecycleThroughCommands(t *testing.T) {
	r, ctx := newTestContext(t)

	dispatch(t, r, ctx, "create_project", map[string]any{"name": "pipeline"})
	dispatch(t, r, ctx, "create_task_type", map[string]any{
		"project":  "pipeline",
		"name":     "render",
		"template": "do {{ x }}",
	})
	created := dispatch(t, r, ctx, "create_task", map[string]any{
		"project":   "pipeline",
		"type":      "render",
		"variables": `{"x":"A"}`,
	})
	createdTask := created.Data.(*types.Task)
	assert.Equal(t, "do A", createdTask.Instructions)

	next := dispatch(t, r, ctx, "get_next_task", map[string]any{
		"project":     "pipeline",
		"worker_name": "w1",
	})
	assert.Equal(t, "w1", next.AgentName)
	assigned := next.Data.(*types.Task)
	assert.Equal(t, createdTask.ID, assigned.ID)

	agents := dispatch(t, r, ctx, "list_active_agents", map[string]any{"project": "pipeline"})
	assert.Len(t, agents.Data.([]*types.Agent), 1)

	dispatch(t, r, ctx, "extend_lease", map[string]any{
		"task_id": assigned.ID,
		"minutes": float64(5),
	})

	done := dispatch(t, r, ctx, "complete_task", map[string]any{
		"worker_name": "w1",
		"project":     "pipeline",
		"task_id":     assigned.ID,
		"result":      "rendered",
		"outputs":     `{"frames": 42}`,
	})
	completed := done.Data.(*types.Task)
	assert.Equal(t, types.TaskStatusCompleted, completed.Status)
	assert.Equal(t, "rendered", completed.Result.Output)

	stats := dispatch(t, r, ctx, "get_project_stats", map[string]any{"project": "pipeline"})
	assert.Equal(t, 1, stats.Data.(*types.ProjectStats).CompletedTasks)
}

func TestFailTaskCommandDefaultsCanRetry(t *testing.T) {
	r, ctx := newTestContext(t)

	dispatch(t, r, ctx, "create_project", map[string]any{"name": "pipeline"})
	created := dispatch(t, r, ctx, "create_task", map[string]any{
		"project":      "pipeline",
		"instructions": "unstable",
	})
	taskID := created.Data.(*types.Task).ID

	dispatch(t, r, ctx, "get_next_task", map[string]any{
		"project":     "pipeline",
		"worker_name": "w1",
	})
	failed := dispatch(t, r, ctx, "fail_task", map[string]any{
		"worker_name": "w1",
		"project":     "pipeline",
		"task_id":     taskID,
		"error":       "oops",
	})
	// can_retry defaults true; budget remains, so the task requeues.
	assert.Equal(t, types.TaskStatusQueued, failed.Data.(*types.Task).Status)
}

func TestCreateTasksBulkCommand(t *testing.T) {
	r, ctx := newTestContext(t)

	dispatch(t, r, ctx, "create_project", map[string]any{"name": "pipeline"})
	dispatch(t, r, ctx, "create_task_type", map[string]any{
		"project":  "pipeline",
		"name":     "render",
		"template": "do {{ x }}",
	})

	res := dispatch(t, r, ctx, "create_tasks_bulk", map[string]any{
		"project": "pipeline",
		"tasks":   `[{"variables":{"x":"A"}},{"variables":{}},{"variables":{"x":"B"}}]`,
	})
	bulk := res.Data.(*task.BulkResult)
	assert.Equal(t, 2, bulk.TasksCreated)
	assert.Len(t, bulk.Errors, 1)

	bad := r.Dispatch(ctx, "create_tasks_bulk", map[string]any{
		"project": "pipeline",
		"tasks":   "not json",
	})
	assert.False(t, bad.Success)
	assert.Equal(t, "validation", bad.ErrorKind)
}

func TestCreateTaskBadVariablesJSON(t *testing.T) {
	r, ctx := newTestContext(t)
	dispatch(t, r, ctx, "create_project", map[string]any{"name": "pipeline"})

	res := r.Dispatch(ctx, "create_task", map[string]any{
		"project":   "pipeline",
		"variables": "{broken",
	})
	assert.False(t, res.Success)
	assert.Equal(t, "validation", res.ErrorKind)
}

func TestHealthCheckCommand(t *testing.T) {
	r, ctx := newTestContext(t)
	res := dispatch(t, r, ctx, "health_check", nil)
	data := res.Data.(map[string]any)
	assert.Equal(t, true, data["healthy"])
}

func TestErrorKindMapping(t *testing.T) {
	r, ctx := newTestContext(t)

	res := r.Dispatch(ctx, "get_project", map[string]any{"project": "missing"})
	assert.False(t, res.Success)
	assert.Equal(t, "not_found", res.ErrorKind)

	dispatch(t, r, ctx, "create_project", map[string]any{"name": "pipeline"})
	res = r.Dispatch(ctx, "create_project", map[string]any{"name": "pipeline"})
	assert.False(t, res.Success)
	assert.Equal(t, "conflict", res.ErrorKind)
}

func TestToolDescriptors(t *testing.T) {
	r, _ := newTestContext(t)
	descriptors := r.ToolDescriptors()
	require.NotEmpty(t, descriptors)

	byName := map[string]ToolDescriptor{}
	for _, d := range descriptors {
		byName[d.Name] = d
	}

	d, ok := byName["create_project"]
	require.True(t, ok)
	props := d.InputSchema["properties"].(map[string]any)
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "max_retries")
	assert.Equal(t, []string{"name"}, d.InputSchema["required"])

	list := byName["list_projects"]
	status := list.InputSchema["properties"].(map[string]any)["status"].(map[string]any)
	assert.Equal(t, []string{"active", "closed", "all"}, status["enum"])
}
