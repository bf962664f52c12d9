package main

import (
	"fmt"
	"time"

	"github.com/burrowq/burrow/pkg/agent"
	"github.com/burrowq/burrow/pkg/command"
	"github.com/burrowq/burrow/pkg/config"
	"github.com/burrowq/burrow/pkg/lease"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/reaper"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/task"
	"github.com/burrowq/burrow/pkg/tasktype"
)

// app holds the wired service bundle behind both the CLI and the server
type app struct {
	cfg      *config.Config
	store    storage.Store
	registry *command.Registry
	ctx      *command.Context
}

// newApp loads configuration, opens the store and wires the services.
// withReapers controls whether the reaper manager is attached; the
// one-shot CLI leaves it off.
func newApp(withReapers bool) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	projects := project.NewService(store)
	taskTypes := tasktype.NewService(store, projects)
	tasks := task.NewService(store, projects, taskTypes)
	leases := lease.NewEngine(store, projects)
	agents := agent.NewView(store, projects)

	ctx := &command.Context{
		Store:     store,
		Projects:  projects,
		TaskTypes: taskTypes,
		Tasks:     tasks,
		Leases:    leases,
		Agents:    agents,
	}
	if withReapers {
		ctx.Reapers = reaper.NewManager(store, projects, leases)
	}

	return &app{
		cfg:      cfg,
		store:    store,
		registry: command.NewRegistry(),
		ctx:      ctx,
	}, nil
}

func (a *app) close() {
	if a.ctx.Reapers != nil {
		a.ctx.Reapers.StopAllReapers()
	}
	a.store.Close()
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStore()
	case config.BackendBolt:
		return storage.NewBoltStore(cfg.DataDir)
	case config.BackendFile:
		return storage.NewFileStore(cfg.DataDir, time.Duration(cfg.LockTimeoutSeconds)*time.Second)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
