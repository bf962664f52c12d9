package agent

import (
	"sort"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/types"
)

// View is a pure projection over running tasks
type View struct {
	store    storage.Store
	projects *project.Service
}

// NewView creates an agent view
func NewView(store storage.Store, projects *project.Service) *View {
	return &View{store: store, projects: projects}
}

// ListActiveAgents returns one record per worker name holding a running
// lease in the project, sorted by name
func (v *View) ListActiveAgents(projectIDOrName string) ([]*types.Agent, error) {
	p, err := v.projects.Resolve(projectIDOrName)
	if err != nil {
		return nil, err
	}
	running, err := v.store.ListTasks(p.ID, types.TaskFilter{Status: types.TaskStatusRunning})
	if err != nil {
		return nil, err
	}

	byName := map[string]*types.Agent{}
	for _, t := range running {
		if t.AssignedTo == "" {
			continue
		}
		if _, ok := byName[t.AssignedTo]; ok {
			continue
		}
		byName[t.AssignedTo] = agentFromTask(t)
	}

	agents := make([]*types.Agent, 0, len(byName))
	for _, a := range byName {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

// GetAgentStatus finds the running task (if any) held by name
func (v *View) GetAgentStatus(name, projectIDOrName string) (*types.Agent, error) {
	p, err := v.projects.Resolve(projectIDOrName)
	if err != nil {
		return nil, err
	}
	running, err := v.store.ListTasks(p.ID, types.TaskFilter{
		Status:     types.TaskStatusRunning,
		AssignedTo: name,
	})
	if err != nil {
		return nil, err
	}
	if len(running) == 0 {
		return nil, errors.NotFoundf("agent %s has no running task in project %s", name, p.Name)
	}
	return agentFromTask(running[0]), nil
}

func agentFromTask(t *types.Task) *types.Agent {
	return &types.Agent{
		Name:           t.AssignedTo,
		Status:         "working",
		CurrentTaskID:  t.ID,
		AssignedAt:     t.AssignedAt,
		LeaseExpiresAt: t.LeaseExpiresAt,
	}
}
