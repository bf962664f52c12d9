package reaper

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/burrowq/burrow/pkg/lease"
	"github.com/burrowq/burrow/pkg/log"
	"github.com/burrowq/burrow/pkg/metrics"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/types"
)

// zombieGraceWindow is how far past expiry a lease may sit before its
// worker is treated as a zombie and swept regardless of cleanup state.
const zombieGraceWindow = 30 * time.Minute

// Manager runs one reaper loop per project
type Manager struct {
	store    storage.Store
	projects *project.Service
	engine   *lease.Engine
	logger   zerolog.Logger

	mu    sync.Mutex
	stops map[string]chan struct{}
	wg    sync.WaitGroup
}

// NewManager creates a reaper manager
func NewManager(store storage.Store, projects *project.Service, engine *lease.Engine) *Manager {
	return &Manager{
		store:    store,
		projects: projects,
		engine:   engine,
		logger:   log.WithComponent("reaper"),
		stops:    make(map[string]chan struct{}),
	}
}

// StartReaper begins the periodic sweep for a project. Calling it for a
// project with a live reaper restarts the timer.
func (m *Manager) StartReaper(projectID string) error {
	p, err := m.projects.Resolve(projectID)
	if err != nil {
		return err
	}
	interval := time.Duration(p.Config.ReaperIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Minute
	}

	m.mu.Lock()
	if stop, ok := m.stops[p.ID]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	m.stops[p.ID] = stop
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(p.ID, interval, stop)

	m.logger.Info().
		Str("project_id", p.ID).
		Dur("interval", interval).
		Msg("Reaper started")
	return nil
}

// StopReaper halts the sweep for a project; a no-op when none is running
func (m *Manager) StopReaper(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.stops[projectID]; ok {
		close(stop)
		delete(m.stops, projectID)
		m.logger.Info().Str("project_id", projectID).Msg("Reaper stopped")
	}
}

// StartAllReapers starts a reaper for every active project
func (m *Manager) StartAllReapers() error {
	projects, err := m.projects.List(false, 0, 0)
	if err != nil {
		return err
	}
	var errs *multierror.Error
	for _, p := range projects {
		if err := m.StartReaper(p.ID); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("start reaper for %s: %w", p.ID, err))
		}
	}
	return errs.ErrorOrNil()
}

// StopAllReapers halts every running reaper and waits for the loops to
// exit
func (m *Manager) StopAllReapers() {
	m.mu.Lock()
	for id, stop := range m.stops {
		close(stop)
		delete(m.stops, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.logger.Info().Msg("All reapers stopped")
}

// run is the per-project sweep loop
func (m *Manager) run(projectID string, interval time.Duration, stop chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(projectID)
		case <-stop:
			return
		}
	}
}

// sweep performs one reclamation cycle; errors are logged, never
// propagated to the scheduler
func (m *Manager) sweep(projectID string) {
	metrics.ReaperSweeps.WithLabelValues(projectID).Inc()
	logger := log.WithProject(projectID)

	result, err := m.engine.CleanupExpiredLeases(projectID)
	if err != nil {
		logger.Error().Err(err).Msg("Lease cleanup failed")
	}
	if result != nil && result.ReclaimedTasks > 0 {
		logger.Info().
			Int("reclaimed", result.ReclaimedTasks).
			Int("workers", result.CleanedAgents).
			Msg("Expired leases reclaimed")
	}

	zombies := m.sweepZombies(projectID)
	if zombies > 0 {
		logger.Warn().
			Int("reclaimed", zombies).
			Msg("Zombie worker tasks reclaimed")
	}

	// Stats computation refreshes the per-status task gauges.
	if _, err := m.projects.Stats(projectID); err != nil {
		logger.Debug().Err(err).Msg("Stats refresh failed")
	}
}

// sweepZombies reclaims running tasks whose lease expired longer ago
// than the grace window. These should have been caught by the regular
// cleanup; sweeping them separately covers workers that kept extending
// a lease they no longer honour.
func (m *Manager) sweepZombies(projectID string) int {
	logger := log.WithProject(projectID)
	running, err := m.store.ListTasks(projectID, types.TaskFilter{Status: types.TaskStatusRunning})
	if err != nil {
		logger.Error().Err(err).Msg("Zombie sweep listing failed")
		return 0
	}

	cutoff := time.Now().UTC().Add(-zombieGraceWindow)
	reclaimed := 0
	for _, t := range running {
		if t.LeaseExpiresAt == nil || t.LeaseExpiresAt.After(cutoff) {
			continue
		}
		if _, err := m.store.RequeueTask(t.ID); err != nil {
			logger.Error().Err(err).
				Str("task_id", t.ID).
				Msg("Zombie requeue failed")
			continue
		}
		reclaimed++
		metrics.LeasesReclaimed.WithLabelValues(projectID).Inc()
	}
	return reclaimed
}
