package tasktype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/types"
)

func newTestService(t *testing.T) (*Service, *project.Service, storage.Store) {
	t.Helper()
	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	projects := project.NewService(store)
	return NewService(store, projects), projects, store
}

func intPtr(v int) *int { return &v }

func TestCreateDerivesVariables(t *testing.T) {
	s, projects, _ := newTestService(t)
	p, err := projects.Create(project.CreateInput{Name: "billing"})
	require.NoError(t, err)

	tt, err := s.Create(CreateInput{
		ProjectIDOrName: p.ID,
		Name:            "review",
		Template:        "Review {{ repo }} at {{ ref }}",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"repo", "ref"}, tt.Variables)
	assert.Equal(t, types.DuplicateAllow, tt.DuplicateHandling)
}

func TestCreateInheritsProjectDefaults(t *testing.T) {
	s, projects, _ := newTestService(t)
	p, err := projects.Create(project.CreateInput{
		Name:                 "billing",
		MaxRetries:           intPtr(7),
		LeaseDurationMinutes: intPtr(25),
	})
	require.NoError(t, err)

	inherited, err := s.Create(CreateInput{ProjectIDOrName: p.ID, Name: "inherited", Template: "x"})
	require.NoError(t, err)
	assert.Equal(t, 7, inherited.MaxRetries)
	assert.Equal(t, 25, inherited.LeaseDurationMinutes)

	explicit, err := s.Create(CreateInput{
		ProjectIDOrName:      p.ID,
		Name:                 "explicit",
		Template:             "x",
		MaxRetries:           intPtr(1),
		LeaseDurationMinutes: intPtr(5),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, explicit.MaxRetries)
	assert.Equal(t, 5, explicit.LeaseDurationMinutes)
}

func TestCreateVariableMismatch(t *testing.T) {
	s, projects, _ := newTestService(t)
	p, err := projects.Create(project.CreateInput{Name: "billing"})
	require.NoError(t, err)

	_, err = s.Create(CreateInput{
		ProjectIDOrName: p.ID,
		Name:            "review",
		Template:        "Review {{ repo }}",
		Variables:       []string{"repo", "extra"},
	})
	assert.True(t, errors.IsValidation(err))
}

func TestCreateRejectsClosedProject(t *testing.T) {
	s, projects, _ := newTestService(t)
	p, err := projects.Create(project.CreateInput{Name: "billing"})
	require.NoError(t, err)
	closed := types.ProjectStatusClosed
	_, err = projects.Update(p.ID, project.UpdateInput{Status: &closed})
	require.NoError(t, err)

	_, err = s.Create(CreateInput{ProjectIDOrName: p.ID, Name: "review"})
	assert.True(t, errors.IsState(err))
}

func TestCreateDuplicateName(t *testing.T) {
	s, projects, _ := newTestService(t)
	p, err := projects.Create(project.CreateInput{Name: "billing"})
	require.NoError(t, err)

	_, err = s.Create(CreateInput{ProjectIDOrName: p.ID, Name: "review"})
	require.NoError(t, err)
	_, err = s.Create(CreateInput{ProjectIDOrName: p.ID, Name: "review"})
	assert.True(t, errors.IsConflict(err))
}

func TestUpdateReconcilesTemplate(t *testing.T) {
	s, projects, _ := newTestService(t)
	p, err := projects.Create(project.CreateInput{Name: "billing"})
	require.NoError(t, err)
	tt, err := s.Create(CreateInput{ProjectIDOrName: p.ID, Name: "review", Template: "do {{ x }}"})
	require.NoError(t, err)

	updated, err := s.Update(tt.ID, UpdateInput{Template: strPtr("do {{ y }} then {{ z }}")})
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "z"}, updated.Variables)

	_, err = s.Update(tt.ID, UpdateInput{Variables: []string{"wrong"}})
	assert.True(t, errors.IsValidation(err))
}

func TestResolveInProject(t *testing.T) {
	s, projects, _ := newTestService(t)
	p, err := projects.Create(project.CreateInput{Name: "billing"})
	require.NoError(t, err)
	other, err := projects.Create(project.CreateInput{Name: "reports"})
	require.NoError(t, err)

	tt, err := s.Create(CreateInput{ProjectIDOrName: p.ID, Name: "review"})
	require.NoError(t, err)

	byID, err := s.ResolveInProject(p.ID, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, tt.ID, byID.ID)

	byName, err := s.ResolveInProject(p.ID, "review")
	require.NoError(t, err)
	assert.Equal(t, tt.ID, byName.ID)

	// A type id from another project does not resolve.
	_, err = s.ResolveInProject(other.ID, tt.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteRefusesReferencedType(t *testing.T) {
	s, projects, store := newTestService(t)
	p, err := projects.Create(project.CreateInput{Name: "billing"})
	require.NoError(t, err)
	tt, err := s.Create(CreateInput{ProjectIDOrName: p.ID, Name: "review"})
	require.NoError(t, err)

	require.NoError(t, store.CreateTask(&types.Task{
		ID:        "task-1",
		ProjectID: p.ID,
		TypeID:    tt.ID,
		Status:    types.TaskStatusQueued,
	}))

	err = s.Delete(tt.ID)
	assert.True(t, errors.IsState(err))

	require.NoError(t, store.DeleteTask("task-1"))
	require.NoError(t, s.Delete(tt.ID))
}

func strPtr(v string) *string { return &v }
