package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/types"
)

func newFixture(t *testing.T) (*View, *types.Project, storage.Store) {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	projects := project.NewService(store)
	p, err := projects.Create(project.CreateInput{Name: "pipeline"})
	require.NoError(t, err)

	return NewView(store, projects), p, store
}

func addRunningTask(t *testing.T, store storage.Store, projectID, taskID, worker string) {
	t.Helper()
	require.NoError(t, store.CreateTask(&types.Task{
		ID:        taskID,
		ProjectID: projectID,
		Status:    types.TaskStatusQueued,
		CreatedAt: time.Now().UTC(),
	}))
	got, err := store.AssignTask(projectID, worker)
	require.NoError(t, err)
	require.Equal(t, taskID, got.ID)
}

func TestListActiveAgents(t *testing.T) {
	v, p, store := newFixture(t)

	agents, err := v.ListActiveAgents(p.ID)
	require.NoError(t, err)
	assert.Empty(t, agents)

	addRunningTask(t, store, p.ID, "task-1", "w-b")
	addRunningTask(t, store, p.ID, "task-2", "w-a")

	agents, err = v.ListActiveAgents(p.ID)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "w-a", agents[0].Name)
	assert.Equal(t, "w-b", agents[1].Name)
	assert.Equal(t, "working", agents[0].Status)
	assert.Equal(t, "task-2", agents[0].CurrentTaskID)
	assert.NotNil(t, agents[0].LeaseExpiresAt)
}

func TestGetAgentStatus(t *testing.T) {
	v, p, store := newFixture(t)
	addRunningTask(t, store, p.ID, "task-1", "w1")

	a, err := v.GetAgentStatus("w1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "task-1", a.CurrentTaskID)

	_, err = v.GetAgentStatus("ghost", p.ID)
	assert.True(t, errors.IsNotFound(err))
}
