package task

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/tasktype"
	"github.com/burrowq/burrow/pkg/types"
)

type fixture struct {
	store    storage.Store
	projects *project.Service
	types    *tasktype.Service
	tasks    *Service
	project  *types.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	projects := project.NewService(store)
	taskTypes := tasktype.NewService(store, projects)
	tasks := NewService(store, projects, taskTypes)

	p, err := projects.Create(project.CreateInput{Name: "billing"})
	require.NoError(t, err)

	return &fixture{store: store, projects: projects, types: taskTypes, tasks: tasks, project: p}
}

func (f *fixture) addType(t *testing.T, in tasktype.CreateInput) *types.TaskType {
	t.Helper()
	in.ProjectIDOrName = f.project.ID
	tt, err := f.types.Create(in)
	require.NoError(t, err)
	return tt
}

func TestCreateTemplateTask(t *testing.T) {
	f := newFixture(t)
	tt := f.addType(t, tasktype.CreateInput{Name: "review", Template: "do {{ x }}"})

	created, err := f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		TypeRef:         tt.ID,
		Variables:       map[string]string{"x": "A"},
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", created.ID)
	assert.Equal(t, types.TaskStatusQueued, created.Status)
	assert.Equal(t, "do A", created.Instructions)
	assert.Equal(t, "review", created.TypeName)
	assert.Equal(t, map[string]string{"x": "A"}, created.Variables)

	// The stored record keeps variables, not rendered text; reads
	// re-interpolate.
	raw, err := f.store.GetTask(created.ID)
	require.NoError(t, err)
	assert.Empty(t, raw.Instructions)

	got, err := f.tasks.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "do A", got.Instructions)
}

func TestCreateTemplateTaskMissingVariable(t *testing.T) {
	f := newFixture(t)
	tt := f.addType(t, tasktype.CreateInput{Name: "review", Template: "do {{ x }} and {{ y }}"})

	_, err := f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		TypeRef:         tt.ID,
		Variables:       map[string]string{"x": "A"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "y")
}

func TestCreatePlainTaskRequiresInstructions(t *testing.T) {
	f := newFixture(t)
	f.addType(t, tasktype.CreateInput{Name: "adhoc"})

	_, err := f.tasks.Create(CreateInput{ProjectIDOrName: f.project.ID})
	assert.True(t, errors.IsValidation(err))

	created, err := f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		Instructions:    "fix the build",
	})
	require.NoError(t, err)
	assert.Equal(t, "fix the build", created.Instructions)
}

func TestCreateTaskNoTypes(t *testing.T) {
	f := newFixture(t)

	// A project with no types accepts plain-instruction tasks.
	created, err := f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		Instructions:    "bootstrap",
	})
	require.NoError(t, err)
	assert.Empty(t, created.TypeID)
	assert.Equal(t, f.project.Config.DefaultMaxRetries, created.MaxRetries)
}

func TestCreateTaskInheritsTypeRetries(t *testing.T) {
	f := newFixture(t)
	maxRetries := 7
	tt := f.addType(t, tasktype.CreateInput{Name: "review", Template: "do {{ x }}", MaxRetries: &maxRetries})

	created, err := f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		TypeRef:         tt.ID,
		Variables:       map[string]string{"x": "A"},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, created.MaxRetries)
}

func TestCreateTaskCallerID(t *testing.T) {
	f := newFixture(t)

	created, err := f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		ID:              "invoice-42",
		Instructions:    "bill them",
	})
	require.NoError(t, err)
	assert.Equal(t, "invoice-42", created.ID)

	_, err = f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		ID:              "invoice-42",
		Instructions:    "bill them again",
	})
	assert.True(t, errors.IsConflict(err))
}

func TestDuplicateHandling(t *testing.T) {
	f := newFixture(t)
	tt := f.addType(t, tasktype.CreateInput{
		Name:              "dedupe",
		Template:          "do {{ k }}",
		DuplicateHandling: types.DuplicateFail,
	})

	first, err := f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		TypeRef:         tt.ID,
		Variables:       map[string]string{"k": "v"},
	})
	require.NoError(t, err)

	// Identical variables conflict.
	_, err = f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		TypeRef:         tt.ID,
		Variables:       map[string]string{"k": "v"},
	})
	assert.True(t, errors.IsConflict(err))

	// Different variables pass.
	_, err = f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		TypeRef:         tt.ID,
		Variables:       map[string]string{"k": "other"},
	})
	require.NoError(t, err)

	// Once the first task is failed it no longer blocks.
	_, err = f.store.AssignTask(f.project.ID, "w1")
	require.NoError(t, err)
	_, err = f.store.FailTask(first.ID, &types.TaskResult{Success: false}, false)
	require.NoError(t, err)

	_, err = f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		TypeRef:         tt.ID,
		Variables:       map[string]string{"k": "v"},
	})
	require.NoError(t, err)
}

func TestDuplicateIgnoreReturnsExisting(t *testing.T) {
	f := newFixture(t)
	tt := f.addType(t, tasktype.CreateInput{
		Name:              "dedupe",
		Template:          "do {{ k }}",
		DuplicateHandling: types.DuplicateIgnore,
	})

	first, err := f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		TypeRef:         tt.ID,
		Variables:       map[string]string{"k": "v"},
	})
	require.NoError(t, err)

	second, err := f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		TypeRef:         tt.ID,
		Variables:       map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := f.tasks.List(f.project.ID, types.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateBulkPartialSuccess(t *testing.T) {
	f := newFixture(t)
	f.addType(t, tasktype.CreateInput{Name: "review", Template: "do {{ x }}"})

	result, err := f.tasks.CreateBulk(f.project.ID, []BulkEntry{
		{Variables: map[string]string{"x": "A"}},
		{Variables: map[string]string{}}, // missing x
		{Variables: map[string]string{"x": "B"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TasksCreated)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Index)
	assert.Len(t, result.CreatedTasks, 2)
}

func TestCreateBulkBounds(t *testing.T) {
	f := newFixture(t)

	_, err := f.tasks.CreateBulk(f.project.ID, nil)
	assert.True(t, errors.IsValidation(err))

	big := make([]BulkEntry, 1001)
	for i := range big {
		big[i] = BulkEntry{Instructions: fmt.Sprintf("task %d", i)}
	}
	_, err = f.tasks.CreateBulk(f.project.ID, big)
	assert.True(t, errors.IsValidation(err))
}

func TestDeleteRefusesRunning(t *testing.T) {
	f := newFixture(t)

	created, err := f.tasks.Create(CreateInput{ProjectIDOrName: f.project.ID, Instructions: "x"})
	require.NoError(t, err)

	_, err = f.store.AssignTask(f.project.ID, "w1")
	require.NoError(t, err)

	err = f.tasks.Delete(created.ID)
	assert.True(t, errors.IsState(err))

	_, err = f.store.CompleteTask(created.ID, &types.TaskResult{Success: true})
	require.NoError(t, err)
	require.NoError(t, f.tasks.Delete(created.ID))
}

func TestListAnnotatesTypeNames(t *testing.T) {
	f := newFixture(t)
	tt := f.addType(t, tasktype.CreateInput{Name: "review", Template: "do {{ x }}"})

	for _, x := range []string{"A", "B"} {
		_, err := f.tasks.Create(CreateInput{
			ProjectIDOrName: f.project.ID,
			TypeRef:         tt.ID,
			Variables:       map[string]string{"x": x},
		})
		require.NoError(t, err)
	}

	tasks, err := f.tasks.List(f.project.ID, types.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, "review", task.TypeName)
		assert.Contains(t, []string{"do A", "do B"}, task.Instructions)
	}
}

func TestReadReflectsTemplateEdits(t *testing.T) {
	f := newFixture(t)
	tt := f.addType(t, tasktype.CreateInput{Name: "review", Template: "do {{ x }}"})

	created, err := f.tasks.Create(CreateInput{
		ProjectIDOrName: f.project.ID,
		TypeRef:         tt.ID,
		Variables:       map[string]string{"x": "A"},
	})
	require.NoError(t, err)

	_, err = f.types.Update(tt.ID, tasktype.UpdateInput{Template: strPtr("DO {{ x }}!")})
	require.NoError(t, err)

	got, err := f.tasks.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "DO A!", got.Instructions)
}

func strPtr(v string) *string { return &v }
