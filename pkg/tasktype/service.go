package tasktype

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/log"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/template"
	"github.com/burrowq/burrow/pkg/types"
	"github.com/burrowq/burrow/pkg/validate"
)

// Service manages task types
type Service struct {
	store    storage.Store
	projects *project.Service
	logger   zerolog.Logger
}

// NewService creates a task type service
func NewService(store storage.Store, projects *project.Service) *Service {
	return &Service{
		store:    store,
		projects: projects,
		logger:   log.WithComponent("tasktype"),
	}
}

// CreateInput carries the fields for a new task type. Nil policy fields
// inherit from the owning project's config.
type CreateInput struct {
	ProjectIDOrName      string
	Name                 string
	Template             string
	Variables            []string
	DuplicateHandling    types.DuplicateHandling
	MaxRetries           *int
	LeaseDurationMinutes *int
}

// Create validates and persists a new task type under an active project
func (s *Service) Create(in CreateInput) (*types.TaskType, error) {
	p, err := s.projects.ValidateAccess(in.ProjectIDOrName)
	if err != nil {
		return nil, err
	}
	if err := validate.Name("name", in.Name); err != nil {
		return nil, err
	}
	if err := validate.Text("template", in.Template); err != nil {
		return nil, err
	}

	variables, err := template.ReconcileVariables(in.Template, in.Variables)
	if err != nil {
		return nil, err
	}

	dup := in.DuplicateHandling
	if dup == "" {
		dup = types.DuplicateAllow
	}
	switch dup {
	case types.DuplicateAllow, types.DuplicateIgnore, types.DuplicateFail:
	default:
		return nil, errors.Validationf("invalid duplicate_handling %q", dup).
			WithField("duplicate_handling", string(dup))
	}

	maxRetries := p.Config.DefaultMaxRetries
	if in.MaxRetries != nil {
		if err := validate.NonNegative("max_retries", *in.MaxRetries); err != nil {
			return nil, err
		}
		maxRetries = *in.MaxRetries
	}
	leaseMinutes := p.Config.DefaultLeaseDurationMinutes
	if in.LeaseDurationMinutes != nil {
		if err := validate.MinOne("lease_duration_minutes", *in.LeaseDurationMinutes); err != nil {
			return nil, err
		}
		leaseMinutes = *in.LeaseDurationMinutes
	}

	now := time.Now().UTC()
	tt := &types.TaskType{
		ID:                   fmt.Sprintf("type-%s", uuid.NewString()[:8]),
		ProjectID:            p.ID,
		Name:                 in.Name,
		Template:             in.Template,
		Variables:            variables,
		DuplicateHandling:    dup,
		MaxRetries:           maxRetries,
		LeaseDurationMinutes: leaseMinutes,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.CreateTaskType(tt); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("project_id", p.ID).
		Str("type_id", tt.ID).
		Str("name", tt.Name).
		Msg("Task type created")
	return tt, nil
}

// Get returns a task type by id
func (s *Service) Get(id string) (*types.TaskType, error) {
	return s.store.GetTaskType(id)
}

// ResolveInProject looks a type up by id, then by name within the project
func (s *Service) ResolveInProject(projectID, ref string) (*types.TaskType, error) {
	tt, err := s.store.GetTaskType(ref)
	if err == nil {
		if tt.ProjectID != projectID {
			return nil, errors.NotFoundf("task type %s does not belong to project %s", ref, projectID)
		}
		return tt, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	return s.store.GetTaskTypeByName(projectID, ref)
}

// UpdateInput carries a partial task type update; nil fields are untouched.
// Variables non-nil with Template nil re-reconciles against the stored
// template.
type UpdateInput struct {
	Name                 *string
	Template             *string
	Variables            []string
	DuplicateHandling    *types.DuplicateHandling
	MaxRetries           *int
	LeaseDurationMinutes *int
}

// Update applies a patch to an existing task type
func (s *Service) Update(id string, in UpdateInput) (*types.TaskType, error) {
	tt, err := s.store.GetTaskType(id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if err := validate.Name("name", *in.Name); err != nil {
			return nil, err
		}
		tt.Name = *in.Name
	}

	tpl := tt.Template
	if in.Template != nil {
		if err := validate.Text("template", *in.Template); err != nil {
			return nil, err
		}
		tpl = *in.Template
	}
	if in.Template != nil || in.Variables != nil {
		// Nil declared list re-derives from the (possibly new) template.
		variables, err := template.ReconcileVariables(tpl, in.Variables)
		if err != nil {
			return nil, err
		}
		tt.Template = tpl
		tt.Variables = variables
	}

	if in.DuplicateHandling != nil {
		switch *in.DuplicateHandling {
		case types.DuplicateAllow, types.DuplicateIgnore, types.DuplicateFail:
			tt.DuplicateHandling = *in.DuplicateHandling
		default:
			return nil, errors.Validationf("invalid duplicate_handling %q", *in.DuplicateHandling).
				WithField("duplicate_handling", string(*in.DuplicateHandling))
		}
	}
	if in.MaxRetries != nil {
		if err := validate.NonNegative("max_retries", *in.MaxRetries); err != nil {
			return nil, err
		}
		tt.MaxRetries = *in.MaxRetries
	}
	if in.LeaseDurationMinutes != nil {
		if err := validate.MinOne("lease_duration_minutes", *in.LeaseDurationMinutes); err != nil {
			return nil, err
		}
		tt.LeaseDurationMinutes = *in.LeaseDurationMinutes
	}

	tt.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateTaskType(tt); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("type_id", tt.ID).
		Msg("Task type updated")
	return tt, nil
}

// List returns the task types of a project, newest-first
func (s *Service) List(projectIDOrName string) ([]*types.TaskType, error) {
	p, err := s.projects.Resolve(projectIDOrName)
	if err != nil {
		return nil, err
	}
	return s.store.ListTaskTypes(p.ID)
}

// Delete removes a task type, refusing while tasks still reference it
func (s *Service) Delete(id string) error {
	tt, err := s.store.GetTaskType(id)
	if err != nil {
		return err
	}
	referencing, err := s.store.ListTasks(tt.ProjectID, types.TaskFilter{TypeID: tt.ID, Limit: 1})
	if err != nil {
		return err
	}
	if len(referencing) > 0 {
		return errors.Statef("task type %s still has tasks referencing it", tt.Name)
	}
	if err := s.store.DeleteTaskType(id); err != nil {
		return err
	}

	s.logger.Info().
		Str("type_id", id).
		Msg("Task type deleted")
	return nil
}
