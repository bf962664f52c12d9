package project

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/log"
	"github.com/burrowq/burrow/pkg/metrics"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/types"
	"github.com/burrowq/burrow/pkg/validate"
)

// Defaults applied when a project is created without explicit config.
const (
	DefaultMaxRetries            = 3
	DefaultLeaseDurationMinutes  = 10
	DefaultReaperIntervalMinutes = 1
)

// Service manages projects
type Service struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewService creates a project service
func NewService(store storage.Store) *Service {
	return &Service{
		store:  store,
		logger: log.WithComponent("project"),
	}
}

// CreateInput carries the fields for a new project. Nil config fields
// take the package defaults.
type CreateInput struct {
	Name                  string
	Description           string
	Instructions          string
	MaxRetries            *int
	LeaseDurationMinutes  *int
	ReaperIntervalMinutes *int
}

// Create validates input, applies defaults and persists a new project
func (s *Service) Create(in CreateInput) (*types.Project, error) {
	if err := validate.Name("name", in.Name); err != nil {
		return nil, err
	}
	if err := validate.Text("description", in.Description); err != nil {
		return nil, err
	}
	if err := validate.Text("instructions", in.Instructions); err != nil {
		return nil, err
	}

	cfg := types.ProjectConfig{
		DefaultMaxRetries:           DefaultMaxRetries,
		DefaultLeaseDurationMinutes: DefaultLeaseDurationMinutes,
		ReaperIntervalMinutes:       DefaultReaperIntervalMinutes,
	}
	if in.MaxRetries != nil {
		if err := validate.NonNegative("max_retries", *in.MaxRetries); err != nil {
			return nil, err
		}
		cfg.DefaultMaxRetries = *in.MaxRetries
	}
	if in.LeaseDurationMinutes != nil {
		if err := validate.MinOne("lease_duration_minutes", *in.LeaseDurationMinutes); err != nil {
			return nil, err
		}
		cfg.DefaultLeaseDurationMinutes = *in.LeaseDurationMinutes
	}
	if in.ReaperIntervalMinutes != nil {
		if err := validate.MinOne("reaper_interval_minutes", *in.ReaperIntervalMinutes); err != nil {
			return nil, err
		}
		cfg.ReaperIntervalMinutes = *in.ReaperIntervalMinutes
	}

	now := time.Now().UTC()
	p := &types.Project{
		ID:           fmt.Sprintf("proj-%s", uuid.NewString()[:8]),
		Name:         in.Name,
		Description:  in.Description,
		Instructions: in.Instructions,
		Status:       types.ProjectStatusActive,
		Config:       cfg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateProject(p); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("project_id", p.ID).
		Str("name", p.Name).
		Msg("Project created")
	return p, nil
}

// Resolve looks a project up by id, then by name. It does not check
// status; use ValidateAccess when the caller needs an active project.
func (s *Service) Resolve(idOrName string) (*types.Project, error) {
	p, err := s.store.GetProject(idOrName)
	if err == nil {
		return p, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	return s.store.GetProjectByName(idOrName)
}

// ValidateAccess resolves a project and rejects closed ones. It is the
// gate every task-mutating path passes through.
func (s *Service) ValidateAccess(idOrName string) (*types.Project, error) {
	p, err := s.Resolve(idOrName)
	if err != nil {
		return nil, err
	}
	if p.Status == types.ProjectStatusClosed {
		return nil, errors.Statef("project %s is closed", p.Name)
	}
	return p, nil
}

// Get resolves a project and attaches derived stats
func (s *Service) Get(idOrName string) (*types.Project, error) {
	p, err := s.Resolve(idOrName)
	if err != nil {
		return nil, err
	}
	stats, err := s.statsFor(p.ID)
	if err != nil {
		return nil, err
	}
	p.Stats = stats
	return p, nil
}

// UpdateInput carries a partial project update; nil fields are untouched
type UpdateInput struct {
	Name                  *string
	Description           *string
	Instructions          *string
	Status                *types.ProjectStatus
	MaxRetries            *int
	LeaseDurationMinutes  *int
	ReaperIntervalMinutes *int
}

// Update applies a patch to an existing project
func (s *Service) Update(idOrName string, in UpdateInput) (*types.Project, error) {
	p, err := s.Resolve(idOrName)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if err := validate.Name("name", *in.Name); err != nil {
			return nil, err
		}
		p.Name = *in.Name
	}
	if in.Description != nil {
		if err := validate.Text("description", *in.Description); err != nil {
			return nil, err
		}
		p.Description = *in.Description
	}
	if in.Instructions != nil {
		if err := validate.Text("instructions", *in.Instructions); err != nil {
			return nil, err
		}
		p.Instructions = *in.Instructions
	}
	if in.Status != nil {
		switch *in.Status {
		case types.ProjectStatusActive, types.ProjectStatusClosed:
			p.Status = *in.Status
		default:
			return nil, errors.Validationf("invalid status %q", *in.Status).WithField("status", string(*in.Status))
		}
	}
	if in.MaxRetries != nil {
		if err := validate.NonNegative("max_retries", *in.MaxRetries); err != nil {
			return nil, err
		}
		p.Config.DefaultMaxRetries = *in.MaxRetries
	}
	if in.LeaseDurationMinutes != nil {
		if err := validate.MinOne("lease_duration_minutes", *in.LeaseDurationMinutes); err != nil {
			return nil, err
		}
		p.Config.DefaultLeaseDurationMinutes = *in.LeaseDurationMinutes
	}
	if in.ReaperIntervalMinutes != nil {
		if err := validate.MinOne("reaper_interval_minutes", *in.ReaperIntervalMinutes); err != nil {
			return nil, err
		}
		p.Config.ReaperIntervalMinutes = *in.ReaperIntervalMinutes
	}

	p.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateProject(p); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("project_id", p.ID).
		Str("status", string(p.Status)).
		Msg("Project updated")
	return p, nil
}

// List returns projects newest-first, optionally including closed ones
func (s *Service) List(includeClosed bool, limit, offset int) ([]*types.Project, error) {
	projects, err := s.store.ListProjects(includeClosed)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if offset >= len(projects) {
			return nil, nil
		}
		projects = projects[offset:]
	}
	if limit > 0 && limit < len(projects) {
		projects = projects[:limit]
	}
	return projects, nil
}

// Stats derives per-status task counts for a project
func (s *Service) Stats(idOrName string) (*types.ProjectStats, error) {
	p, err := s.Resolve(idOrName)
	if err != nil {
		return nil, err
	}
	return s.statsFor(p.ID)
}

func (s *Service) statsFor(projectID string) (*types.ProjectStats, error) {
	tasks, err := s.store.ListTasks(projectID, types.TaskFilter{})
	if err != nil {
		return nil, err
	}
	stats := &types.ProjectStats{TotalTasks: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case types.TaskStatusQueued:
			stats.QueuedTasks++
		case types.TaskStatusRunning:
			stats.RunningTasks++
		case types.TaskStatusCompleted:
			stats.CompletedTasks++
		case types.TaskStatusFailed:
			stats.FailedTasks++
		}
	}
	metrics.SetTaskGauges(projectID, stats.QueuedTasks, stats.RunningTasks,
		stats.CompletedTasks, stats.FailedTasks)
	return stats, nil
}
