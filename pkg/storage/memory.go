package storage

import (
	"fmt"
	"sync"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/types"
)

const (
	tableProject  = "project"
	tableTaskType = "task_type"
	tableTask     = "task"
	tableSession  = "session"
)

// taskRecord wraps a task with the flat fields go-memdb indexes. Key is
// the composite "<projectID>/<taskID>" since task ids are only unique
// within a project.
type taskRecord struct {
	Key       string
	ProjectID string
	Task      *types.Task
}

func taskKey(projectID, taskID string) string {
	return projectID + "/" + taskID
}

var memorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableProject: {
			Name: tableProject,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"name": {
					Name:    "name",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Name"},
				},
			},
		},
		tableTaskType: {
			Name: tableTaskType,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"project": {
					Name:    "project",
					Indexer: &memdb.StringFieldIndex{Field: "ProjectID"},
				},
				"project_name": {
					Name:   "project_name",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "ProjectID"},
							&memdb.StringFieldIndex{Field: "Name"},
						},
					},
				},
			},
		},
		tableTask: {
			Name: tableTask,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
				"project": {
					Name:    "project",
					Indexer: &memdb.StringFieldIndex{Field: "ProjectID"},
				},
			},
		},
		tableSession: {
			Name: tableSession,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Token"},
				},
				"agent": {
					Name:    "agent",
					Indexer: &memdb.StringFieldIndex{Field: "AgentName"},
				},
			},
		},
	},
}

// MemoryStore implements Store on go-memdb. Write transactions serialize
// the assignment primitive, which keeps AssignTask linearizable without a
// separate lock. State is lost on process exit; intended for tests and
// single-run tooling.
type MemoryStore struct {
	db *memdb.MemDB

	mu     sync.Mutex // guards the per-project counters
	seq    map[string]uint64
	nextID map[string]int
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to build memdb schema")
	}
	return &MemoryStore{
		db:     db,
		seq:    make(map[string]uint64),
		nextID: make(map[string]int),
	}, nil
}

// Init is a no-op; the schema is built by the constructor
func (s *MemoryStore) Init() error { return nil }

// Close is a no-op for in-memory storage
func (s *MemoryStore) Close() error { return nil }

// Project operations

func (s *MemoryStore) CreateProject(p *types.Project) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if existing, _ := txn.First(tableProject, "id", p.ID); existing != nil {
		return errors.Conflictf("project %s already exists", p.ID)
	}
	if existing, _ := txn.First(tableProject, "name", p.Name); existing != nil {
		return errors.Conflictf("project name %q already exists", p.Name)
	}
	if err := txn.Insert(tableProject, copyProject(p)); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to insert project")
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) GetProject(id string) (*types.Project, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableProject, "id", id)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read project")
	}
	if raw == nil {
		return nil, errors.NotFoundf("project not found: %s", id)
	}
	return copyProject(raw.(*types.Project)), nil
}

func (s *MemoryStore) GetProjectByName(name string) (*types.Project, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableProject, "name", name)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read project")
	}
	if raw == nil {
		return nil, errors.NotFoundf("project not found: %s", name)
	}
	return copyProject(raw.(*types.Project)), nil
}

func (s *MemoryStore) UpdateProject(p *types.Project) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableProject, "id", p.ID)
	if err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to read project")
	}
	if existing == nil {
		return errors.NotFoundf("project not found: %s", p.ID)
	}
	if byName, _ := txn.First(tableProject, "name", p.Name); byName != nil {
		if other := byName.(*types.Project); other.ID != p.ID {
			return errors.Conflictf("project name %q already exists", p.Name)
		}
	}
	if err := txn.Insert(tableProject, copyProject(p)); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to update project")
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) ListProjects(includeClosed bool) ([]*types.Project, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableProject, "id")
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to list projects")
	}
	var projects []*types.Project
	for raw := it.Next(); raw != nil; raw = it.Next() {
		p := raw.(*types.Project)
		if !includeClosed && p.Status == types.ProjectStatusClosed {
			continue
		}
		projects = append(projects, copyProject(p))
	}
	sortProjectsNewestFirst(projects)
	return projects, nil
}

func (s *MemoryStore) DeleteProject(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableProject, "id", id)
	if err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to read project")
	}
	if existing == nil {
		return errors.NotFoundf("project not found: %s", id)
	}
	if _, err := txn.DeleteAll(tableTask, "project", id); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to delete project tasks")
	}
	if _, err := txn.DeleteAll(tableTaskType, "project", id); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to delete project task types")
	}
	if err := txn.Delete(tableProject, existing); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to delete project")
	}
	txn.Commit()
	return nil
}

// Task type operations

func (s *MemoryStore) CreateTaskType(tt *types.TaskType) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if existing, _ := txn.First(tableTaskType, "id", tt.ID); existing != nil {
		return errors.Conflictf("task type %s already exists", tt.ID)
	}
	if existing, _ := txn.First(tableTaskType, "project_name", tt.ProjectID, tt.Name); existing != nil {
		return errors.Conflictf("task type %q already exists in project %s", tt.Name, tt.ProjectID)
	}
	if err := txn.Insert(tableTaskType, copyTaskType(tt)); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to insert task type")
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) GetTaskType(id string) (*types.TaskType, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableTaskType, "id", id)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read task type")
	}
	if raw == nil {
		return nil, errors.NotFoundf("task type not found: %s", id)
	}
	return copyTaskType(raw.(*types.TaskType)), nil
}

func (s *MemoryStore) GetTaskTypeByName(projectID, name string) (*types.TaskType, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableTaskType, "project_name", projectID, name)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read task type")
	}
	if raw == nil {
		return nil, errors.NotFoundf("task type not found: %s", name)
	}
	return copyTaskType(raw.(*types.TaskType)), nil
}

func (s *MemoryStore) UpdateTaskType(tt *types.TaskType) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableTaskType, "id", tt.ID)
	if err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to read task type")
	}
	if existing == nil {
		return errors.NotFoundf("task type not found: %s", tt.ID)
	}
	if byName, _ := txn.First(tableTaskType, "project_name", tt.ProjectID, tt.Name); byName != nil {
		if other := byName.(*types.TaskType); other.ID != tt.ID {
			return errors.Conflictf("task type %q already exists in project %s", tt.Name, tt.ProjectID)
		}
	}
	if err := txn.Insert(tableTaskType, copyTaskType(tt)); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to update task type")
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) ListTaskTypes(projectID string) ([]*types.TaskType, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableTaskType, "project", projectID)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to list task types")
	}
	var tts []*types.TaskType
	for raw := it.Next(); raw != nil; raw = it.Next() {
		tts = append(tts, copyTaskType(raw.(*types.TaskType)))
	}
	sortTypesNewestFirst(tts)
	return tts, nil
}

func (s *MemoryStore) DeleteTaskType(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableTaskType, "id", id)
	if err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to read task type")
	}
	if existing == nil {
		return errors.NotFoundf("task type not found: %s", id)
	}
	if err := txn.Delete(tableTaskType, existing); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to delete task type")
	}
	txn.Commit()
	return nil
}

// Task operations

func (s *MemoryStore) CreateTask(t *types.Task) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	key := taskKey(t.ProjectID, t.ID)
	if existing, _ := txn.First(tableTask, "id", key); existing != nil {
		return errors.Conflictf("task %s already exists in project %s", t.ID, t.ProjectID)
	}

	cp := copyTask(t)
	if cp.Seq == 0 {
		s.mu.Lock()
		s.seq[t.ProjectID]++
		cp.Seq = s.seq[t.ProjectID]
		s.mu.Unlock()
		t.Seq = cp.Seq
	}

	rec := &taskRecord{Key: key, ProjectID: t.ProjectID, Task: cp}
	if err := txn.Insert(tableTask, rec); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to insert task")
	}
	txn.Commit()
	return nil
}

// findTaskRecord scans for a task by id alone; ids are unique per project
// so the first match wins.
func findTaskRecord(txn *memdb.Txn, taskID string) (*taskRecord, error) {
	it, err := txn.Get(tableTask, "id")
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to scan tasks")
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*taskRecord)
		if rec.Task.ID == taskID {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetTask(id string) (*types.Task, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	rec, err := findTaskRecord(txn, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.NotFoundf("task not found: %s", id)
	}
	return copyTask(rec.Task), nil
}

func (s *MemoryStore) UpdateTask(t *types.Task) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	key := taskKey(t.ProjectID, t.ID)
	existing, err := txn.First(tableTask, "id", key)
	if err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to read task")
	}
	if existing == nil {
		return errors.NotFoundf("task not found: %s", t.ID)
	}
	cp := copyTask(t)
	if cp.Seq == 0 {
		cp.Seq = existing.(*taskRecord).Task.Seq
	}
	rec := &taskRecord{Key: key, ProjectID: t.ProjectID, Task: cp}
	if err := txn.Insert(tableTask, rec); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to update task")
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) ListTasks(projectID string, filter types.TaskFilter) ([]*types.Task, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableTask, "project", projectID)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to list tasks")
	}
	var tasks []*types.Task
	for raw := it.Next(); raw != nil; raw = it.Next() {
		t := raw.(*taskRecord).Task
		if matchFilter(t, filter) {
			tasks = append(tasks, copyTask(t))
		}
	}
	sortNewestFirst(tasks)
	return paginate(tasks, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) DeleteTask(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	rec, err := findTaskRecord(txn, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.NotFoundf("task not found: %s", id)
	}
	if err := txn.Delete(tableTask, rec); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to delete task")
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) NextTaskID(projectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.Txn(false)
	defer txn.Abort()

	n := s.nextID[projectID]
	for {
		n++
		candidate := fmt.Sprintf("task-%d", n)
		existing, err := txn.First(tableTask, "id", taskKey(projectID, candidate))
		if err != nil {
			return "", errors.Wrap(errors.KindStorage, err, "failed to probe task id")
		}
		if existing == nil {
			s.nextID[projectID] = n
			return candidate, nil
		}
	}
}

// Atomic lease primitives

func (s *MemoryStore) AssignTask(projectID, workerName string) (*types.Task, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tableTask, "project", projectID)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to scan queue")
	}
	var candidates []*types.Task
	for raw := it.Next(); raw != nil; raw = it.Next() {
		candidates = append(candidates, raw.(*taskRecord).Task)
	}
	head := pickQueued(candidates)
	if head == nil {
		return nil, nil
	}

	leaseMinutes := 0
	if head.TypeID != "" {
		if raw, _ := txn.First(tableTaskType, "id", head.TypeID); raw != nil {
			leaseMinutes = raw.(*types.TaskType).LeaseDurationMinutes
		}
	}
	if leaseMinutes <= 0 {
		if raw, _ := txn.First(tableProject, "id", projectID); raw != nil {
			leaseMinutes = raw.(*types.Project).Config.DefaultLeaseDurationMinutes
		}
	}
	if leaseMinutes <= 0 {
		leaseMinutes = DefaultLeaseMinutes
	}

	updated := copyTask(head)
	applyAssign(updated, workerName, leaseMinutes, time.Now().UTC())

	rec := &taskRecord{Key: taskKey(projectID, updated.ID), ProjectID: projectID, Task: updated}
	if err := txn.Insert(tableTask, rec); err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to assign task")
	}
	txn.Commit()
	return copyTask(updated), nil
}

// mutateTask runs fn on a task inside a write transaction
func (s *MemoryStore) mutateTask(taskID string, fn func(*types.Task) error) (*types.Task, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	rec, err := findTaskRecord(txn, taskID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.NotFoundf("task not found: %s", taskID)
	}

	updated := copyTask(rec.Task)
	if err := fn(updated); err != nil {
		return nil, err
	}
	next := &taskRecord{Key: rec.Key, ProjectID: rec.ProjectID, Task: updated}
	if err := txn.Insert(tableTask, next); err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to update task")
	}
	txn.Commit()
	return copyTask(updated), nil
}

func (s *MemoryStore) CompleteTask(taskID string, result *types.TaskResult) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyComplete(t, result, time.Now().UTC())
	})
}

func (s *MemoryStore) FailTask(taskID string, result *types.TaskResult, canRetry bool) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyFail(t, result, canRetry, time.Now().UTC())
	})
}

func (s *MemoryStore) ExtendLease(taskID string, minutes int) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyExtend(t, minutes)
	})
}

func (s *MemoryStore) RequeueTask(taskID string) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyRequeue(t, time.Now().UTC())
	})
}

func (s *MemoryStore) FindExpiredLeases() ([]*types.Task, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableTask, "id")
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to scan tasks")
	}
	now := time.Now().UTC()
	var expired []*types.Task
	for raw := it.Next(); raw != nil; raw = it.Next() {
		t := raw.(*taskRecord).Task
		if t.Status == types.TaskStatusRunning && t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now) {
			expired = append(expired, copyTask(t))
		}
	}
	return expired, nil
}

// Queries

func (s *MemoryStore) FindDuplicateTask(projectID, typeID string, variables map[string]string) (*types.Task, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableTask, "project", projectID)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to scan tasks")
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		t := raw.(*taskRecord).Task
		if isDuplicate(t, typeID, variables) {
			return copyTask(t), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetTaskHistory(taskID string) ([]types.Attempt, error) {
	t, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	return t.Attempts, nil
}

// Health

func (s *MemoryStore) HealthCheck() types.HealthStatus {
	return types.HealthStatus{Healthy: true, Message: "memory store"}
}

func (s *MemoryStore) GetMetrics() (map[string]float64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	metrics := map[string]float64{}

	it, err := txn.Get(tableProject, "id")
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to scan projects")
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		metrics["projects_total"]++
	}

	it, err = txn.Get(tableTask, "id")
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to scan tasks")
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		t := raw.(*taskRecord).Task
		metrics["tasks_total"]++
		metrics["tasks_"+string(t.Status)]++
	}

	it, err = txn.Get(tableSession, "id")
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to scan sessions")
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		metrics["sessions_total"]++
	}
	return metrics, nil
}

// Session operations

func (s *MemoryStore) CreateSession(sess *types.Session) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if existing, _ := txn.First(tableSession, "id", sess.Token); existing != nil {
		return errors.Conflictf("session already exists")
	}
	if err := txn.Insert(tableSession, copySession(sess)); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to insert session")
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) GetSession(token string) (*types.Session, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableSession, "id", token)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read session")
	}
	if raw == nil {
		return nil, errors.NotFoundf("session not found")
	}
	return copySession(raw.(*types.Session)), nil
}

func (s *MemoryStore) UpdateSession(sess *types.Session) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableSession, "id", sess.Token)
	if err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to read session")
	}
	if existing == nil {
		return errors.NotFoundf("session not found")
	}
	if err := txn.Insert(tableSession, copySession(sess)); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to update session")
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) DeleteSession(token string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableSession, "id", token)
	if err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to read session")
	}
	if existing == nil {
		return errors.NotFoundf("session not found")
	}
	if err := txn.Delete(tableSession, existing); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to delete session")
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) FindSessionsByAgent(agentName string) ([]*types.Session, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableSession, "agent", agentName)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to scan sessions")
	}
	var sessions []*types.Session
	for raw := it.Next(); raw != nil; raw = it.Next() {
		sessions = append(sessions, copySession(raw.(*types.Session)))
	}
	return sessions, nil
}

func (s *MemoryStore) CleanupExpiredSessions() (int, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tableSession, "id")
	if err != nil {
		return 0, errors.Wrap(errors.KindStorage, err, "failed to scan sessions")
	}
	now := time.Now().UTC()
	var expired []*types.Session
	for raw := it.Next(); raw != nil; raw = it.Next() {
		sess := raw.(*types.Session)
		if sess.Expired(now) {
			expired = append(expired, sess)
		}
	}
	for _, sess := range expired {
		if err := txn.Delete(tableSession, sess); err != nil {
			return 0, errors.Wrap(errors.KindStorage, err, "failed to delete session")
		}
	}
	txn.Commit()
	return len(expired), nil
}
