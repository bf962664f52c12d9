package command

import (
	"encoding/json"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/task"
	"github.com/burrowq/burrow/pkg/tasktype"
	"github.com/burrowq/burrow/pkg/types"
)

// registerAll wires the complete command surface into the registry
func registerAll(r *Registry) {
	registerProjectCommands(r)
	registerTaskTypeCommands(r)
	registerTaskCommands(r)
	registerLeaseCommands(r)
	registerAgentCommands(r)
	registerHealthCommands(r)
}

func registerProjectCommands(r *Registry) {
	r.Register(&Command{
		Name:        "create_project",
		Description: "Create a new project",
		Params: []Param{
			{Name: "name", Type: TypeString, Required: true, Positional: true},
			{Name: "description", Type: TypeString, Positional: true},
			{Name: "instructions", Type: TypeString},
			{Name: "max_retries", Type: TypeNumber, Default: float64(project.DefaultMaxRetries), Alias: "maxRetries"},
			{Name: "lease_duration", Type: TypeNumber, Default: float64(project.DefaultLeaseDurationMinutes), Alias: "leaseDuration", Description: "Lease duration in minutes"},
			{Name: "reaper_interval", Type: TypeNumber, Default: float64(project.DefaultReaperIntervalMinutes), Alias: "reaperInterval", Description: "Reaper interval in minutes"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			p, err := ctx.Projects.Create(project.CreateInput{
				Name:                  args.String("name"),
				Description:           args.String("description"),
				Instructions:          args.String("instructions"),
				MaxRetries:            args.IntPtr("max_retries"),
				LeaseDurationMinutes:  args.IntPtr("lease_duration"),
				ReaperIntervalMinutes: args.IntPtr("reaper_interval"),
			})
			if err != nil {
				return nil, err
			}
			if ctx.Reapers != nil {
				if err := ctx.Reapers.StartReaper(p.ID); err != nil {
					return nil, err
				}
			}
			return OKMessage(p, "Project %s created (%s)", p.Name, p.ID), nil
		},
	})

	r.Register(&Command{
		Name:        "list_projects",
		Description: "List projects",
		Params: []Param{
			{Name: "status", Type: TypeString, Default: "active", Choices: []string{"active", "closed", "all"}},
			{Name: "include_closed", Type: TypeBoolean, Default: false, Alias: "includeClosed"},
			{Name: "limit", Type: TypeNumber, Default: float64(100)},
			{Name: "offset", Type: TypeNumber, Default: float64(0)},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			status := args.String("status")
			includeClosed := args.Bool("include_closed") || status != "active"
			projects, err := ctx.Projects.List(includeClosed, 0, 0)
			if err != nil {
				return nil, err
			}
			if status == "active" || status == "closed" {
				filtered := projects[:0]
				for _, p := range projects {
					if string(p.Status) == status {
						filtered = append(filtered, p)
					}
				}
				projects = filtered
			}
			if offset := args.Int("offset"); offset > 0 {
				if offset >= len(projects) {
					projects = nil
				} else {
					projects = projects[offset:]
				}
			}
			if limit := args.Int("limit"); limit > 0 && limit < len(projects) {
				projects = projects[:limit]
			}
			return OK(projects), nil
		},
	})

	r.Register(&Command{
		Name:        "get_project",
		Description: "Get a project by id or name, with stats",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			p, err := ctx.Projects.Get(args.String("project"))
			if err != nil {
				return nil, err
			}
			return OK(p), nil
		},
	})

	r.Register(&Command{
		Name:        "update_project",
		Description: "Update project fields and config",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
			{Name: "name", Type: TypeString},
			{Name: "description", Type: TypeString},
			{Name: "instructions", Type: TypeString},
			{Name: "status", Type: TypeString, Choices: []string{"active", "closed"}},
			{Name: "max_retries", Type: TypeNumber, Alias: "maxRetries"},
			{Name: "lease_duration", Type: TypeNumber, Alias: "leaseDuration"},
			{Name: "reaper_interval", Type: TypeNumber, Alias: "reaperInterval"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			in := project.UpdateInput{
				Name:                  args.StringPtr("name"),
				Description:           args.StringPtr("description"),
				Instructions:          args.StringPtr("instructions"),
				MaxRetries:            args.IntPtr("max_retries"),
				LeaseDurationMinutes:  args.IntPtr("lease_duration"),
				ReaperIntervalMinutes: args.IntPtr("reaper_interval"),
			}
			if args.Has("status") {
				status := types.ProjectStatus(args.String("status"))
				in.Status = &status
			}
			p, err := ctx.Projects.Update(args.String("project"), in)
			if err != nil {
				return nil, err
			}
			if ctx.Reapers != nil {
				switch {
				case p.Status == types.ProjectStatusClosed:
					ctx.Reapers.StopReaper(p.ID)
				case args.Has("status") || args.Has("reaper_interval"):
					if err := ctx.Reapers.StartReaper(p.ID); err != nil {
						return nil, err
					}
				}
			}
			return OKMessage(p, "Project %s updated", p.Name), nil
		},
	})

	r.Register(&Command{
		Name:        "get_project_stats",
		Description: "Get task counts by status for a project",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			stats, err := ctx.Projects.Stats(args.String("project"))
			if err != nil {
				return nil, err
			}
			return OK(stats), nil
		},
	})
}

func registerTaskTypeCommands(r *Registry) {
	r.Register(&Command{
		Name:        "create_task_type",
		Description: "Create a task type under a project",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
			{Name: "name", Type: TypeString, Required: true, Positional: true},
			{Name: "template", Type: TypeString, Default: ""},
			{Name: "variables", Type: TypeArray},
			{Name: "duplicate_handling", Type: TypeString, Default: "allow", Choices: []string{"allow", "ignore", "fail"}, Alias: "duplicateHandling"},
			{Name: "max_retries", Type: TypeNumber, Alias: "maxRetries"},
			{Name: "lease_duration", Type: TypeNumber, Alias: "leaseDuration"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			tt, err := ctx.TaskTypes.Create(tasktype.CreateInput{
				ProjectIDOrName:      args.String("project"),
				Name:                 args.String("name"),
				Template:             args.String("template"),
				Variables:            args.Strings("variables"),
				DuplicateHandling:    types.DuplicateHandling(args.String("duplicate_handling")),
				MaxRetries:           args.IntPtr("max_retries"),
				LeaseDurationMinutes: args.IntPtr("lease_duration"),
			})
			if err != nil {
				return nil, err
			}
			return OKMessage(tt, "Task type %s created (%s)", tt.Name, tt.ID), nil
		},
	})

	r.Register(&Command{
		Name:        "list_task_types",
		Description: "List a project's task types",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			tts, err := ctx.TaskTypes.List(args.String("project"))
			if err != nil {
				return nil, err
			}
			return OK(tts), nil
		},
	})

	r.Register(&Command{
		Name:        "get_task_type",
		Description: "Get a task type by id",
		Params: []Param{
			{Name: "type_id", Type: TypeString, Required: true, Positional: true, Alias: "typeId"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			tt, err := ctx.TaskTypes.Get(args.String("type_id"))
			if err != nil {
				return nil, err
			}
			return OK(tt), nil
		},
	})

	r.Register(&Command{
		Name:        "update_task_type",
		Description: "Update a task type",
		Params: []Param{
			{Name: "type_id", Type: TypeString, Required: true, Positional: true, Alias: "typeId"},
			{Name: "name", Type: TypeString},
			{Name: "template", Type: TypeString},
			{Name: "variables", Type: TypeArray},
			{Name: "duplicate_handling", Type: TypeString, Choices: []string{"allow", "ignore", "fail"}, Alias: "duplicateHandling"},
			{Name: "max_retries", Type: TypeNumber, Alias: "maxRetries"},
			{Name: "lease_duration", Type: TypeNumber, Alias: "leaseDuration"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			in := tasktype.UpdateInput{
				Name:                 args.StringPtr("name"),
				Template:             args.StringPtr("template"),
				Variables:            args.Strings("variables"),
				MaxRetries:           args.IntPtr("max_retries"),
				LeaseDurationMinutes: args.IntPtr("lease_duration"),
			}
			if args.Has("duplicate_handling") {
				dup := types.DuplicateHandling(args.String("duplicate_handling"))
				in.DuplicateHandling = &dup
			}
			tt, err := ctx.TaskTypes.Update(args.String("type_id"), in)
			if err != nil {
				return nil, err
			}
			return OKMessage(tt, "Task type %s updated", tt.Name), nil
		},
	})

	r.Register(&Command{
		Name:        "delete_task_type",
		Description: "Delete a task type with no referencing tasks",
		Params: []Param{
			{Name: "type_id", Type: TypeString, Required: true, Positional: true, Alias: "typeId"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			if err := ctx.TaskTypes.Delete(args.String("type_id")); err != nil {
				return nil, err
			}
			return OKMessage(nil, "Task type deleted"), nil
		},
	})
}

func registerTaskCommands(r *Registry) {
	r.Register(&Command{
		Name:        "create_task",
		Description: "Create a single task",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
			{Name: "type", Type: TypeString, Description: "Type id or name; the project's first type when absent"},
			{Name: "id", Type: TypeString},
			{Name: "description", Type: TypeString},
			{Name: "instructions", Type: TypeString},
			{Name: "variables", Type: TypeString, Description: "JSON object of variable bindings"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			variables, err := parseVariables(args.String("variables"))
			if err != nil {
				return nil, err
			}
			t, err := ctx.Tasks.Create(task.CreateInput{
				ProjectIDOrName: args.String("project"),
				TypeRef:         args.String("type"),
				ID:              args.String("id"),
				Description:     args.String("description"),
				Instructions:    args.String("instructions"),
				Variables:       variables,
			})
			if err != nil {
				return nil, err
			}
			return OKMessage(t, "Task %s created", t.ID), nil
		},
	})

	r.Register(&Command{
		Name:        "create_tasks_bulk",
		Description: "Create up to 1000 tasks from a JSON batch",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
			{Name: "tasks", Type: TypeString, Required: true, Positional: true, Alias: "tasksJson", Description: "JSON array of task entries"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			entries, err := parseBulkEntries(args.String("tasks"))
			if err != nil {
				return nil, err
			}
			result, err := ctx.Tasks.CreateBulk(args.String("project"), entries)
			if err != nil {
				return nil, err
			}
			return OKMessage(result, "%d tasks created, %d failed", result.TasksCreated, len(result.Errors)), nil
		},
	})

	r.Register(&Command{
		Name:        "list_tasks",
		Description: "List a project's tasks",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
			{Name: "status", Type: TypeString, Choices: []string{"queued", "running", "completed", "failed"}},
			{Name: "type_id", Type: TypeString, Alias: "typeId"},
			{Name: "assigned_to", Type: TypeString, Alias: "assignedTo"},
			{Name: "limit", Type: TypeNumber, Default: float64(50)},
			{Name: "offset", Type: TypeNumber, Default: float64(0)},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			tasks, err := ctx.Tasks.List(args.String("project"), types.TaskFilter{
				Status:     types.TaskStatus(args.String("status")),
				TypeID:     args.String("type_id"),
				AssignedTo: args.String("assigned_to"),
				Limit:      args.Int("limit"),
				Offset:     args.Int("offset"),
			})
			if err != nil {
				return nil, err
			}
			return OK(tasks), nil
		},
	})

	r.Register(&Command{
		Name:        "get_task",
		Description: "Get a task by id",
		Params: []Param{
			{Name: "task_id", Type: TypeString, Required: true, Positional: true, Alias: "taskId"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			t, err := ctx.Tasks.Get(args.String("task_id"))
			if err != nil {
				return nil, err
			}
			return OK(t), nil
		},
	})

	r.Register(&Command{
		Name:        "delete_task",
		Description: "Delete a non-running task",
		Params: []Param{
			{Name: "task_id", Type: TypeString, Required: true, Positional: true, Alias: "taskId"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			if err := ctx.Tasks.Delete(args.String("task_id")); err != nil {
				return nil, err
			}
			return OKMessage(nil, "Task deleted"), nil
		},
	})
}

func registerLeaseCommands(r *Registry) {
	r.Register(&Command{
		Name:        "get_next_task",
		Description: "Pull the next queued task under a lease",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
			{Name: "worker_name", Type: TypeString, Positional: true, Alias: "workerName"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			assignment, err := ctx.Leases.GetNextTask(args.String("project"), args.String("worker_name"))
			if err != nil {
				return nil, err
			}
			res := OK(assignment.Task)
			res.AgentName = assignment.WorkerName
			if assignment.Task == nil {
				res.Message = "No tasks available"
			}
			return res, nil
		},
	})

	r.Register(&Command{
		Name:        "peek_next_task",
		Description: "Count queued tasks without assigning",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			queued, err := ctx.Leases.PeekNextTask(args.String("project"))
			if err != nil {
				return nil, err
			}
			return OK(map[string]int{"queued_tasks": queued}), nil
		},
	})

	r.Register(&Command{
		Name:        "complete_task",
		Description: "Report a task completed",
		Params: []Param{
			{Name: "worker_name", Type: TypeString, Required: true, Positional: true, Alias: "workerName"},
			{Name: "project", Type: TypeString, Required: true, Positional: true},
			{Name: "task_id", Type: TypeString, Required: true, Positional: true, Alias: "taskId"},
			{Name: "result", Type: TypeString, Required: true, Positional: true, Description: "Output text"},
			{Name: "outputs", Type: TypeString, Description: "JSON object of result metadata"},
			{Name: "duration", Type: TypeNumber, Description: "Execution time in seconds"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			metadata, err := parseMetadata(args.String("outputs"))
			if err != nil {
				return nil, err
			}
			t, err := ctx.Leases.CompleteTask(
				args.String("worker_name"),
				args.String("project"),
				args.String("task_id"),
				&types.TaskResult{
					Success:  true,
					Output:   args.String("result"),
					Metadata: metadata,
					Duration: args.Float("duration"),
				},
			)
			if err != nil {
				return nil, err
			}
			return OKMessage(t, "Task %s completed", t.ID), nil
		},
	})

	r.Register(&Command{
		Name:        "fail_task",
		Description: "Report a task failed",
		Params: []Param{
			{Name: "worker_name", Type: TypeString, Required: true, Positional: true, Alias: "workerName"},
			{Name: "project", Type: TypeString, Required: true, Positional: true},
			{Name: "task_id", Type: TypeString, Required: true, Positional: true, Alias: "taskId"},
			{Name: "error", Type: TypeString, Required: true, Positional: true},
			{Name: "can_retry", Type: TypeBoolean, Default: true, Alias: "canRetry"},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			t, err := ctx.Leases.FailTask(
				args.String("worker_name"),
				args.String("project"),
				args.String("task_id"),
				&types.TaskResult{Success: false, Error: args.String("error")},
				args.Bool("can_retry"),
			)
			if err != nil {
				return nil, err
			}
			return OKMessage(t, "Task %s now %s (retry %d/%d)", t.ID, t.Status, t.RetryCount, t.MaxRetries), nil
		},
	})

	extendHandler := func(ctx *Context, args Args) (*Result, error) {
		t, err := ctx.Leases.ExtendTaskLease(
			args.String("worker_name"),
			args.String("project"),
			args.String("task_id"),
			args.Int("minutes"),
		)
		if err != nil {
			return nil, err
		}
		return OKMessage(t, "Lease on %s extended to %s", t.ID, t.LeaseExpiresAt.Format("15:04:05")), nil
	}
	extendParams := []Param{
		{Name: "task_id", Type: TypeString, Required: true, Positional: true, Alias: "taskId"},
		{Name: "minutes", Type: TypeNumber, Required: true, Positional: true},
		{Name: "worker_name", Type: TypeString, Alias: "workerName"},
		{Name: "project", Type: TypeString},
	}
	r.Register(&Command{
		Name:        "extend_lease",
		Description: "Extend a running task's lease",
		Params:      extendParams,
		Handler:     extendHandler,
	})
	r.Register(&Command{
		Name:        "extend_task_lease",
		Description: "Extend a running task's lease",
		Params:      extendParams,
		Handler:     extendHandler,
	})

	r.Register(&Command{
		Name:        "get_lease_stats",
		Description: "Summarize lease pressure within a project",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			stats, err := ctx.Leases.Stats(args.String("project"))
			if err != nil {
				return nil, err
			}
			return OK(stats), nil
		},
	})

	r.Register(&Command{
		Name:        "cleanup_expired_leases",
		Description: "Requeue every expired lease in a project",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			result, err := ctx.Leases.CleanupExpiredLeases(args.String("project"))
			if err != nil {
				return nil, err
			}
			return OKMessage(result, "%d tasks reclaimed from %d workers", result.ReclaimedTasks, result.CleanedAgents), nil
		},
	})
}

func registerAgentCommands(r *Registry) {
	r.Register(&Command{
		Name:        "list_active_agents",
		Description: "List workers currently holding leases",
		Params: []Param{
			{Name: "project", Type: TypeString, Required: true, Positional: true},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			agents, err := ctx.Agents.ListActiveAgents(args.String("project"))
			if err != nil {
				return nil, err
			}
			return OK(agents), nil
		},
	})

	r.Register(&Command{
		Name:        "get_agent_status",
		Description: "Find the running task held by a worker",
		Params: []Param{
			{Name: "worker_name", Type: TypeString, Required: true, Positional: true, Alias: "workerName"},
			{Name: "project", Type: TypeString, Required: true, Positional: true},
		},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			a, err := ctx.Agents.GetAgentStatus(args.String("worker_name"), args.String("project"))
			if err != nil {
				return nil, err
			}
			return OK(a), nil
		},
	})
}

func registerHealthCommands(r *Registry) {
	r.Register(&Command{
		Name:        "health_check",
		Description: "Check storage backend health",
		Params:      []Param{},
		Handler: func(ctx *Context, args Args) (*Result, error) {
			health := ctx.Store.HealthCheck()
			data := map[string]any{"healthy": health.Healthy, "message": health.Message}
			if m, err := ctx.Store.GetMetrics(); err == nil {
				data["metrics"] = m
			}
			if !health.Healthy {
				return &Result{Success: false, Data: data, Error: health.Message, ErrorKind: "storage"}, nil
			}
			return OK(data), nil
		},
	})
}

// parseVariables decodes the JSON variables option of create_task
func parseVariables(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var vars map[string]string
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, errors.Validationf("variables is not a JSON object of strings: %v", err).
			WithField("variables", "bad json")
	}
	return vars, nil
}

// parseMetadata decodes the JSON outputs option of complete_task
func parseMetadata(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, errors.Validationf("outputs is not a JSON object: %v", err).
			WithField("outputs", "bad json")
	}
	return meta, nil
}

// parseBulkEntries accepts either a bare JSON array or an object with a
// "tasks" array
func parseBulkEntries(raw string) ([]task.BulkEntry, error) {
	if raw == "" {
		return nil, errors.Validationf("tasks JSON is required").WithField("tasks", "required")
	}
	var entries []task.BulkEntry
	if err := json.Unmarshal([]byte(raw), &entries); err == nil {
		return entries, nil
	}
	var wrapped struct {
		Tasks []task.BulkEntry `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err != nil || wrapped.Tasks == nil {
		return nil, errors.Validationf("tasks is not a JSON array of task entries").
			WithField("tasks", "bad json")
	}
	return wrapped.Tasks, nil
}
