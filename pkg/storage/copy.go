package storage

import (
	"time"

	"github.com/burrowq/burrow/pkg/types"
)

// Deep copies keep backend-held records isolated from caller mutation.
// The file and bolt backends get this for free from JSON round-trips; the
// memory backend relies on these helpers.

func copyProject(p *types.Project) *types.Project {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Stats != nil {
		stats := *p.Stats
		cp.Stats = &stats
	}
	return &cp
}

func copyTaskType(tt *types.TaskType) *types.TaskType {
	if tt == nil {
		return nil
	}
	cp := *tt
	if tt.Variables != nil {
		cp.Variables = append([]string(nil), tt.Variables...)
	}
	return &cp
}

func copyTask(t *types.Task) *types.Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.AssignedAt = copyTime(t.AssignedAt)
	cp.LeaseExpiresAt = copyTime(t.LeaseExpiresAt)
	cp.CompletedAt = copyTime(t.CompletedAt)
	cp.FailedAt = copyTime(t.FailedAt)
	cp.Result = copyResult(t.Result)
	if t.Variables != nil {
		cp.Variables = make(map[string]string, len(t.Variables))
		for k, v := range t.Variables {
			cp.Variables[k] = v
		}
	}
	if t.Attempts != nil {
		cp.Attempts = make([]types.Attempt, len(t.Attempts))
		for i, a := range t.Attempts {
			ca := a
			ca.CompletedAt = copyTime(a.CompletedAt)
			ca.Result = copyResult(a.Result)
			cp.Attempts[i] = ca
		}
	}
	return &cp
}

func copyResult(r *types.TaskResult) *types.TaskResult {
	if r == nil {
		return nil
	}
	cr := *r
	if r.Metadata != nil {
		cr.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cr.Metadata[k] = v
		}
	}
	return &cr
}

func copySession(s *types.Session) *types.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ct := *t
	return &ct
}
