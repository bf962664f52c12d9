package task

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/log"
	"github.com/burrowq/burrow/pkg/metrics"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/tasktype"
	"github.com/burrowq/burrow/pkg/template"
	"github.com/burrowq/burrow/pkg/types"
	"github.com/burrowq/burrow/pkg/validate"
)

// Service manages tasks
type Service struct {
	store    storage.Store
	projects *project.Service
	types    *tasktype.Service
	logger   zerolog.Logger
}

// NewService creates a task service
func NewService(store storage.Store, projects *project.Service, taskTypes *tasktype.Service) *Service {
	return &Service{
		store:    store,
		projects: projects,
		types:    taskTypes,
		logger:   log.WithComponent("task"),
	}
}

// CreateInput carries the fields for a new task. TypeRef may be a type
// id or name; empty picks the project's first type. Exactly one of
// Instructions or Variables applies depending on whether the resolved
// type has a template.
type CreateInput struct {
	ProjectIDOrName string
	TypeRef         string
	ID              string
	Description     string
	Instructions    string
	Variables       map[string]string
}

// Create runs the single-task pipeline: validate project and type,
// materialize instructions, resolve duplicates, assign an id, insert.
func (s *Service) Create(in CreateInput) (*types.Task, error) {
	p, err := s.projects.ValidateAccess(in.ProjectIDOrName)
	if err != nil {
		return nil, err
	}
	tt, err := s.resolveType(p.ID, in.TypeRef)
	if err != nil {
		return nil, err
	}

	t := &types.Task{
		ProjectID:   p.ID,
		Description: in.Description,
		Status:      types.TaskStatusQueued,
		MaxRetries:  p.Config.DefaultMaxRetries,
		CreatedAt:   time.Now().UTC(),
	}
	if tt != nil {
		t.TypeID = tt.ID
		t.MaxRetries = tt.MaxRetries
	}

	if tt != nil && tt.Template != "" {
		// Template task: interpolation is the materialization check;
		// variables are stored and re-interpolated on read.
		if _, err := template.Interpolate(tt.Template, in.Variables); err != nil {
			return nil, err
		}
		t.Variables = in.Variables
	} else {
		if in.Instructions == "" {
			return nil, errors.Validationf("instructions are required for tasks without a template").
				WithField("instructions", "required")
		}
		if err := validate.Text("instructions", in.Instructions); err != nil {
			return nil, err
		}
		t.Instructions = in.Instructions
	}

	if tt != nil && tt.DuplicateHandling != types.DuplicateAllow {
		existing, err := s.store.FindDuplicateTask(p.ID, tt.ID, t.Variables)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if tt.DuplicateHandling == types.DuplicateIgnore {
				return s.annotate(existing)
			}
			return nil, errors.Conflictf("task with identical variables already exists: %s", existing.ID)
		}
	}

	if in.ID != "" {
		if err := validate.Name("id", in.ID); err != nil {
			return nil, err
		}
		t.ID = in.ID
	} else {
		id, err := s.store.NextTaskID(p.ID)
		if err != nil {
			return nil, err
		}
		t.ID = id
	}

	if err := s.store.CreateTask(t); err != nil {
		return nil, err
	}
	metrics.TasksCreated.WithLabelValues(p.ID).Inc()

	s.logger.Info().
		Str("project_id", p.ID).
		Str("task_id", t.ID).
		Str("type_id", t.TypeID).
		Msg("Task created")
	return s.annotate(t)
}

// resolveType picks the task type for a create: by id or name when ref
// is given, the project's first type otherwise, nil when the project has
// none.
func (s *Service) resolveType(projectID, ref string) (*types.TaskType, error) {
	if ref != "" {
		return s.types.ResolveInProject(projectID, ref)
	}
	tts, err := s.store.ListTaskTypes(projectID)
	if err != nil {
		return nil, err
	}
	if len(tts) == 0 {
		return nil, nil
	}
	// ListTaskTypes is newest-first; the first created type is last.
	return tts[len(tts)-1], nil
}

// BulkEntry is one element of a bulk-create batch
type BulkEntry struct {
	Type         string            `json:"type,omitempty"`
	ID           string            `json:"id,omitempty"`
	Description  string            `json:"description,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// BulkError reports one failed entry of a bulk batch
type BulkError struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// BulkResult reports the partial outcome of a bulk create
type BulkResult struct {
	TasksCreated int           `json:"tasks_created"`
	Errors       []BulkError   `json:"errors,omitempty"`
	CreatedTasks []*types.Task `json:"created_tasks,omitempty"`
}

// CreateBulk runs the single-task pipeline per entry, accumulating
// per-entry errors. The batch is not transactional; partial success is
// reported as-is.
func (s *Service) CreateBulk(projectIDOrName string, entries []BulkEntry) (*BulkResult, error) {
	if len(entries) == 0 {
		return nil, errors.Validationf("bulk batch is empty").WithField("tasks", "required")
	}
	if len(entries) > validate.MaxBulkTasks {
		return nil, errors.Validationf("bulk batch exceeds %d entries", validate.MaxBulkTasks).
			WithField("tasks", "too many")
	}
	if _, err := s.projects.ValidateAccess(projectIDOrName); err != nil {
		return nil, err
	}

	result := &BulkResult{}
	for i, entry := range entries {
		created, err := s.Create(CreateInput{
			ProjectIDOrName: projectIDOrName,
			TypeRef:         entry.Type,
			ID:              entry.ID,
			Description:     entry.Description,
			Instructions:    entry.Instructions,
			Variables:       entry.Variables,
		})
		if err != nil {
			result.Errors = append(result.Errors, BulkError{Index: i, ID: entry.ID, Error: err.Error()})
			continue
		}
		result.TasksCreated++
		result.CreatedTasks = append(result.CreatedTasks, created)
	}

	s.logger.Info().
		Str("project", projectIDOrName).
		Int("created", result.TasksCreated).
		Int("failed", len(result.Errors)).
		Msg("Bulk task creation finished")
	return result, nil
}

// Get returns a task with effective instructions and type name resolved
func (s *Service) Get(taskID string) (*types.Task, error) {
	t, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	return s.annotate(t)
}

// List returns a project's tasks, filtered and newest-first, each
// annotated with its type name and effective instructions
func (s *Service) List(projectIDOrName string, filter types.TaskFilter) ([]*types.Task, error) {
	p, err := s.projects.Resolve(projectIDOrName)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(p.ID, filter)
	if err != nil {
		return nil, err
	}

	// Resolve each referenced type once per listing.
	typeCache := map[string]*types.TaskType{}
	for _, t := range tasks {
		if err := s.annotateWith(t, typeCache); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// Delete removes a task; running tasks are refused
func (s *Service) Delete(taskID string) error {
	t, err := s.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if t.Status == types.TaskStatusRunning {
		return errors.Statef("task %s is running and cannot be deleted", taskID)
	}
	if err := s.store.DeleteTask(taskID); err != nil {
		return err
	}

	s.logger.Info().
		Str("task_id", taskID).
		Msg("Task deleted")
	return nil
}

// History returns the attempt log of a task
func (s *Service) History(taskID string) ([]types.Attempt, error) {
	return s.store.GetTaskHistory(taskID)
}

func (s *Service) annotate(t *types.Task) (*types.Task, error) {
	if err := s.annotateWith(t, map[string]*types.TaskType{}); err != nil {
		return nil, err
	}
	return t, nil
}

// annotateWith fills TypeName and re-interpolates template instructions.
// A task whose type has been edited reads the current template's output.
func (s *Service) annotateWith(t *types.Task, cache map[string]*types.TaskType) error {
	if t.TypeID == "" {
		return nil
	}
	tt, ok := cache[t.TypeID]
	if !ok {
		loaded, err := s.store.GetTaskType(t.TypeID)
		if err != nil {
			if errors.IsNotFound(err) {
				// Type deleted out from under the task; leave it bare.
				return nil
			}
			return err
		}
		tt = loaded
		cache[t.TypeID] = tt
	}
	t.TypeName = tt.Name
	if t.Instructions == "" && tt.Template != "" {
		rendered, err := template.Interpolate(tt.Template, t.Variables)
		if err != nil {
			// Template drifted past the stored variables; surface the
			// raw template rather than failing the read.
			t.Instructions = tt.Template
			return nil
		}
		t.Instructions = rendered
	}
	return nil
}
