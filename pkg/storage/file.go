package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/types"
)

// DefaultLockTimeout bounds how long a file-backend operation waits on a
// project lock before failing with a lock error.
const DefaultLockTimeout = 5 * time.Second

// FileStore implements Store as JSON files on disk: one directory per
// project holding one file per task and per task type, coordinated by a
// per-project advisory lockfile. Writes are atomic via write-then-rename.
type FileStore struct {
	dataDir     string
	lockTimeout time.Duration
}

// NewFileStore creates a file-backed store rooted at dataDir
func NewFileStore(dataDir string, lockTimeout time.Duration) (*FileStore, error) {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	s := &FileStore{dataDir: dataDir, lockTimeout: lockTimeout}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init creates the directory skeleton; safe to call repeatedly
func (s *FileStore) Init() error {
	for _, dir := range []string{s.dataDir, s.projectsDir(), s.sessionsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(errors.KindStorage, err, "failed to create data directory")
		}
	}
	return nil
}

// Close is a no-op; nothing is held open between operations
func (s *FileStore) Close() error { return nil }

func (s *FileStore) projectsDir() string { return filepath.Join(s.dataDir, "projects") }
func (s *FileStore) sessionsDir() string { return filepath.Join(s.dataDir, "sessions") }

func (s *FileStore) projectDir(id string) string  { return filepath.Join(s.projectsDir(), id) }
func (s *FileStore) projectFile(id string) string { return filepath.Join(s.projectDir(id), "project.json") }
func (s *FileStore) typesDir(id string) string    { return filepath.Join(s.projectDir(id), "task_types") }
func (s *FileStore) tasksDir(id string) string    { return filepath.Join(s.projectDir(id), "tasks") }

func (s *FileStore) rootLock() (func(), error) {
	return acquireLock(filepath.Join(s.dataDir, ".lock"), s.lockTimeout)
}

func (s *FileStore) projectLock(projectID string) (func(), error) {
	return acquireLock(filepath.Join(s.projectDir(projectID), ".lock"), s.lockTimeout)
}

// writeJSON writes v atomically via a temp file and rename
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *FileStore) listProjectIDs() ([]string, error) {
	entries, err := os.ReadDir(s.projectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read projects directory")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Project operations

func (s *FileStore) CreateProject(p *types.Project) error {
	release, err := s.rootLock()
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(s.projectFile(p.ID)); err == nil {
		return errors.Conflictf("project %s already exists", p.ID)
	}
	existing, err := s.findProjectByName(p.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return errors.Conflictf("project name %q already exists", p.Name)
	}

	for _, dir := range []string{s.projectDir(p.ID), s.typesDir(p.ID), s.tasksDir(p.ID)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(errors.KindStorage, err, "failed to create project directory")
		}
	}
	if err := writeJSON(s.projectFile(p.ID), p); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to write project")
	}
	return nil
}

func (s *FileStore) GetProject(id string) (*types.Project, error) {
	var p types.Project
	if err := readJSON(s.projectFile(id), &p); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("project not found: %s", id)
		}
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read project")
	}
	return &p, nil
}

func (s *FileStore) findProjectByName(name string) (*types.Project, error) {
	ids, err := s.listProjectIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		var p types.Project
		if err := readJSON(s.projectFile(id), &p); err != nil {
			continue
		}
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *FileStore) GetProjectByName(name string) (*types.Project, error) {
	p, err := s.findProjectByName(name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.NotFoundf("project not found: %s", name)
	}
	return p, nil
}

func (s *FileStore) UpdateProject(p *types.Project) error {
	release, err := s.rootLock()
	if err != nil {
		return err
	}
	defer release()

	old, err := s.GetProject(p.ID)
	if err != nil {
		return err
	}
	if old.Name != p.Name {
		other, err := s.findProjectByName(p.Name)
		if err != nil {
			return err
		}
		if other != nil && other.ID != p.ID {
			return errors.Conflictf("project name %q already exists", p.Name)
		}
	}
	if err := writeJSON(s.projectFile(p.ID), p); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to write project")
	}
	return nil
}

func (s *FileStore) ListProjects(includeClosed bool) ([]*types.Project, error) {
	ids, err := s.listProjectIDs()
	if err != nil {
		return nil, err
	}
	var projects []*types.Project
	for _, id := range ids {
		var p types.Project
		if err := readJSON(s.projectFile(id), &p); err != nil {
			continue
		}
		if !includeClosed && p.Status == types.ProjectStatusClosed {
			continue
		}
		cp := p
		projects = append(projects, &cp)
	}
	sortProjectsNewestFirst(projects)
	return projects, nil
}

func (s *FileStore) DeleteProject(id string) error {
	release, err := s.rootLock()
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(s.projectFile(id)); err != nil {
		return errors.NotFoundf("project not found: %s", id)
	}
	if err := os.RemoveAll(s.projectDir(id)); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to delete project directory")
	}
	return nil
}

// Task type operations

func (s *FileStore) typeFile(projectID, typeID string) string {
	return filepath.Join(s.typesDir(projectID), typeID+".json")
}

func (s *FileStore) CreateTaskType(tt *types.TaskType) error {
	release, err := s.projectLock(tt.ProjectID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(s.typeFile(tt.ProjectID, tt.ID)); err == nil {
		return errors.Conflictf("task type %s already exists", tt.ID)
	}
	existing, err := s.findTypeByName(tt.ProjectID, tt.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return errors.Conflictf("task type %q already exists in project %s", tt.Name, tt.ProjectID)
	}
	if err := writeJSON(s.typeFile(tt.ProjectID, tt.ID), tt); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to write task type")
	}
	return nil
}

// findType scans all projects for a type id
func (s *FileStore) findType(typeID string) (*types.TaskType, error) {
	ids, err := s.listProjectIDs()
	if err != nil {
		return nil, err
	}
	for _, pid := range ids {
		var tt types.TaskType
		if err := readJSON(s.typeFile(pid, typeID), &tt); err == nil {
			return &tt, nil
		}
	}
	return nil, nil
}

func (s *FileStore) findTypeByName(projectID, name string) (*types.TaskType, error) {
	tts, err := s.ListTaskTypes(projectID)
	if err != nil {
		return nil, err
	}
	for _, tt := range tts {
		if tt.Name == name {
			return tt, nil
		}
	}
	return nil, nil
}

func (s *FileStore) GetTaskType(id string) (*types.TaskType, error) {
	tt, err := s.findType(id)
	if err != nil {
		return nil, err
	}
	if tt == nil {
		return nil, errors.NotFoundf("task type not found: %s", id)
	}
	return tt, nil
}

func (s *FileStore) GetTaskTypeByName(projectID, name string) (*types.TaskType, error) {
	tt, err := s.findTypeByName(projectID, name)
	if err != nil {
		return nil, err
	}
	if tt == nil {
		return nil, errors.NotFoundf("task type not found: %s", name)
	}
	return tt, nil
}

func (s *FileStore) UpdateTaskType(tt *types.TaskType) error {
	release, err := s.projectLock(tt.ProjectID)
	if err != nil {
		return err
	}
	defer release()

	var old types.TaskType
	if err := readJSON(s.typeFile(tt.ProjectID, tt.ID), &old); err != nil {
		return errors.NotFoundf("task type not found: %s", tt.ID)
	}
	if old.Name != tt.Name {
		other, err := s.findTypeByName(tt.ProjectID, tt.Name)
		if err != nil {
			return err
		}
		if other != nil && other.ID != tt.ID {
			return errors.Conflictf("task type %q already exists in project %s", tt.Name, tt.ProjectID)
		}
	}
	if err := writeJSON(s.typeFile(tt.ProjectID, tt.ID), tt); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to write task type")
	}
	return nil
}

func (s *FileStore) ListTaskTypes(projectID string) ([]*types.TaskType, error) {
	entries, err := os.ReadDir(s.typesDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read task types directory")
	}
	var tts []*types.TaskType
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var tt types.TaskType
		if err := readJSON(filepath.Join(s.typesDir(projectID), e.Name()), &tt); err != nil {
			continue
		}
		cp := tt
		tts = append(tts, &cp)
	}
	sortTypesNewestFirst(tts)
	return tts, nil
}

func (s *FileStore) DeleteTaskType(id string) error {
	tt, err := s.findType(id)
	if err != nil {
		return err
	}
	if tt == nil {
		return errors.NotFoundf("task type not found: %s", id)
	}

	release, err := s.projectLock(tt.ProjectID)
	if err != nil {
		return err
	}
	defer release()

	if err := os.Remove(s.typeFile(tt.ProjectID, id)); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundf("task type not found: %s", id)
		}
		return errors.Wrap(errors.KindStorage, err, "failed to delete task type")
	}
	return nil
}

// Task operations

func (s *FileStore) taskFile(projectID, taskID string) string {
	return filepath.Join(s.tasksDir(projectID), taskID+".json")
}

// nextSeq bumps the per-project insertion counter; caller holds the
// project lock.
func (s *FileStore) nextSeq(projectID string) (uint64, error) {
	path := filepath.Join(s.projectDir(projectID), "seq")
	var n uint64
	if data, err := os.ReadFile(path); err == nil {
		n, _ = strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	}
	n++
	if err := os.WriteFile(path, []byte(strconv.FormatUint(n, 10)), 0644); err != nil {
		return 0, errors.Wrap(errors.KindStorage, err, "failed to write sequence file")
	}
	return n, nil
}

func (s *FileStore) CreateTask(t *types.Task) error {
	release, err := s.projectLock(t.ProjectID)
	if err != nil {
		return err
	}
	defer release()

	if err := os.MkdirAll(s.tasksDir(t.ProjectID), 0755); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to create tasks directory")
	}
	if _, err := os.Stat(s.taskFile(t.ProjectID, t.ID)); err == nil {
		return errors.Conflictf("task %s already exists in project %s", t.ID, t.ProjectID)
	}
	if t.Seq == 0 {
		seq, err := s.nextSeq(t.ProjectID)
		if err != nil {
			return err
		}
		t.Seq = seq
	}
	if err := writeJSON(s.taskFile(t.ProjectID, t.ID), t); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to write task")
	}
	return nil
}

// findTaskProject locates the project holding a task id
func (s *FileStore) findTaskProject(taskID string) (string, *types.Task, error) {
	ids, err := s.listProjectIDs()
	if err != nil {
		return "", nil, err
	}
	for _, pid := range ids {
		var t types.Task
		if err := readJSON(s.taskFile(pid, taskID), &t); err == nil {
			return pid, &t, nil
		}
	}
	return "", nil, nil
}

func (s *FileStore) GetTask(id string) (*types.Task, error) {
	_, t, err := s.findTaskProject(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.NotFoundf("task not found: %s", id)
	}
	return t, nil
}

func (s *FileStore) UpdateTask(t *types.Task) error {
	release, err := s.projectLock(t.ProjectID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(s.taskFile(t.ProjectID, t.ID)); err != nil {
		return errors.NotFoundf("task not found: %s", t.ID)
	}
	if err := writeJSON(s.taskFile(t.ProjectID, t.ID), t); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to write task")
	}
	return nil
}

func (s *FileStore) readProjectTasks(projectID string) ([]*types.Task, error) {
	entries, err := os.ReadDir(s.tasksDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read tasks directory")
	}
	var tasks []*types.Task
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var t types.Task
		if err := readJSON(filepath.Join(s.tasksDir(projectID), e.Name()), &t); err != nil {
			continue
		}
		cp := t
		tasks = append(tasks, &cp)
	}
	return tasks, nil
}

func (s *FileStore) ListTasks(projectID string, filter types.TaskFilter) ([]*types.Task, error) {
	all, err := s.readProjectTasks(projectID)
	if err != nil {
		return nil, err
	}
	var tasks []*types.Task
	for _, t := range all {
		if matchFilter(t, filter) {
			tasks = append(tasks, t)
		}
	}
	sortNewestFirst(tasks)
	return paginate(tasks, filter.Limit, filter.Offset), nil
}

func (s *FileStore) DeleteTask(id string) error {
	pid, t, err := s.findTaskProject(id)
	if err != nil {
		return err
	}
	if t == nil {
		return errors.NotFoundf("task not found: %s", id)
	}

	release, err := s.projectLock(pid)
	if err != nil {
		return err
	}
	defer release()

	if err := os.Remove(s.taskFile(pid, id)); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundf("task not found: %s", id)
		}
		return errors.Wrap(errors.KindStorage, err, "failed to delete task")
	}
	return nil
}

func (s *FileStore) NextTaskID(projectID string) (string, error) {
	release, err := s.projectLock(projectID)
	if err != nil {
		return "", err
	}
	defer release()

	path := filepath.Join(s.projectDir(projectID), "counter")
	n := 0
	if data, err := os.ReadFile(path); err == nil {
		n, _ = strconv.Atoi(strings.TrimSpace(string(data)))
	}
	for {
		n++
		candidate := fmt.Sprintf("task-%d", n)
		if _, err := os.Stat(s.taskFile(projectID, candidate)); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(strconv.Itoa(n)), 0644); err != nil {
				return "", errors.Wrap(errors.KindStorage, err, "failed to write counter file")
			}
			return candidate, nil
		}
	}
}

// Atomic lease primitives. Each acquires the project lock, reads, applies
// the transition and writes back, so concurrent callers serialize on the
// lockfile.

func (s *FileStore) AssignTask(projectID, workerName string) (*types.Task, error) {
	release, err := s.projectLock(projectID)
	if err != nil {
		return nil, err
	}
	defer release()

	tasks, err := s.readProjectTasks(projectID)
	if err != nil {
		return nil, err
	}
	head := pickQueued(tasks)
	if head == nil {
		return nil, nil
	}

	leaseMinutes := 0
	if head.TypeID != "" {
		var tt types.TaskType
		if err := readJSON(s.typeFile(projectID, head.TypeID), &tt); err == nil {
			leaseMinutes = tt.LeaseDurationMinutes
		}
	}
	if leaseMinutes <= 0 {
		var p types.Project
		if err := readJSON(s.projectFile(projectID), &p); err == nil {
			leaseMinutes = p.Config.DefaultLeaseDurationMinutes
		}
	}
	if leaseMinutes <= 0 {
		leaseMinutes = DefaultLeaseMinutes
	}

	applyAssign(head, workerName, leaseMinutes, time.Now().UTC())
	if err := writeJSON(s.taskFile(projectID, head.ID), head); err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to write task")
	}
	return head, nil
}

// mutateTask runs fn on a task while holding its project lock
func (s *FileStore) mutateTask(taskID string, fn func(*types.Task) error) (*types.Task, error) {
	pid, probe, err := s.findTaskProject(taskID)
	if err != nil {
		return nil, err
	}
	if probe == nil {
		return nil, errors.NotFoundf("task not found: %s", taskID)
	}

	release, err := s.projectLock(pid)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock; the probe may be stale.
	var t types.Task
	if err := readJSON(s.taskFile(pid, taskID), &t); err != nil {
		return nil, errors.NotFoundf("task not found: %s", taskID)
	}
	if err := fn(&t); err != nil {
		return nil, err
	}
	if err := writeJSON(s.taskFile(pid, taskID), &t); err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to write task")
	}
	return &t, nil
}

func (s *FileStore) CompleteTask(taskID string, result *types.TaskResult) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyComplete(t, result, time.Now().UTC())
	})
}

func (s *FileStore) FailTask(taskID string, result *types.TaskResult, canRetry bool) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyFail(t, result, canRetry, time.Now().UTC())
	})
}

func (s *FileStore) ExtendLease(taskID string, minutes int) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyExtend(t, minutes)
	})
}

func (s *FileStore) RequeueTask(taskID string) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyRequeue(t, time.Now().UTC())
	})
}

func (s *FileStore) FindExpiredLeases() ([]*types.Task, error) {
	ids, err := s.listProjectIDs()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var expired []*types.Task
	for _, pid := range ids {
		tasks, err := s.readProjectTasks(pid)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.Status == types.TaskStatusRunning && t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now) {
				expired = append(expired, t)
			}
		}
	}
	return expired, nil
}

// Queries

func (s *FileStore) FindDuplicateTask(projectID, typeID string, variables map[string]string) (*types.Task, error) {
	tasks, err := s.readProjectTasks(projectID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if isDuplicate(t, typeID, variables) {
			return t, nil
		}
	}
	return nil, nil
}

func (s *FileStore) GetTaskHistory(taskID string) ([]types.Attempt, error) {
	t, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	return t.Attempts, nil
}

// Health

func (s *FileStore) HealthCheck() types.HealthStatus {
	if _, err := os.Stat(s.dataDir); err != nil {
		return types.HealthStatus{Healthy: false, Message: fmt.Sprintf("data directory unavailable: %v", err)}
	}
	probe := filepath.Join(s.dataDir, ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return types.HealthStatus{Healthy: false, Message: fmt.Sprintf("data directory not writable: %v", err)}
	}
	os.Remove(probe)
	return types.HealthStatus{Healthy: true, Message: "file store: " + s.dataDir}
}

func (s *FileStore) GetMetrics() (map[string]float64, error) {
	metrics := map[string]float64{}
	ids, err := s.listProjectIDs()
	if err != nil {
		return nil, err
	}
	metrics["projects_total"] = float64(len(ids))
	for _, pid := range ids {
		tasks, err := s.readProjectTasks(pid)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			metrics["tasks_total"]++
			metrics["tasks_"+string(t.Status)]++
		}
	}
	entries, err := os.ReadDir(s.sessionsDir())
	if err == nil {
		metrics["sessions_total"] = float64(len(entries))
	}
	return metrics, nil
}

// Session operations

func (s *FileStore) sessionFile(token string) string {
	return filepath.Join(s.sessionsDir(), token+".json")
}

func (s *FileStore) CreateSession(sess *types.Session) error {
	release, err := s.rootLock()
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(s.sessionFile(sess.Token)); err == nil {
		return errors.Conflictf("session already exists")
	}
	if err := writeJSON(s.sessionFile(sess.Token), sess); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to write session")
	}
	return nil
}

func (s *FileStore) GetSession(token string) (*types.Session, error) {
	var sess types.Session
	if err := readJSON(s.sessionFile(token), &sess); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("session not found")
		}
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read session")
	}
	return &sess, nil
}

func (s *FileStore) UpdateSession(sess *types.Session) error {
	release, err := s.rootLock()
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(s.sessionFile(sess.Token)); err != nil {
		return errors.NotFoundf("session not found")
	}
	if err := writeJSON(s.sessionFile(sess.Token), sess); err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to write session")
	}
	return nil
}

func (s *FileStore) DeleteSession(token string) error {
	release, err := s.rootLock()
	if err != nil {
		return err
	}
	defer release()

	if err := os.Remove(s.sessionFile(token)); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundf("session not found")
		}
		return errors.Wrap(errors.KindStorage, err, "failed to delete session")
	}
	return nil
}

func (s *FileStore) readSessions() ([]*types.Session, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, err, "failed to read sessions directory")
	}
	var sessions []*types.Session
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var sess types.Session
		if err := readJSON(filepath.Join(s.sessionsDir(), e.Name()), &sess); err != nil {
			continue
		}
		cp := sess
		sessions = append(sessions, &cp)
	}
	return sessions, nil
}

func (s *FileStore) FindSessionsByAgent(agentName string) ([]*types.Session, error) {
	all, err := s.readSessions()
	if err != nil {
		return nil, err
	}
	var sessions []*types.Session
	for _, sess := range all {
		if sess.AgentName == agentName {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

func (s *FileStore) CleanupExpiredSessions() (int, error) {
	release, err := s.rootLock()
	if err != nil {
		return 0, err
	}
	defer release()

	all, err := s.readSessions()
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	removed := 0
	for _, sess := range all {
		if sess.Expired(now) {
			if err := os.Remove(s.sessionFile(sess.Token)); err != nil && !os.IsNotExist(err) {
				return removed, errors.Wrap(errors.KindStorage, err, "failed to delete session")
			}
			removed++
		}
	}
	return removed, nil
}

// ensure interface conformance
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*BoltStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
