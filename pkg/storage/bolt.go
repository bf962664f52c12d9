package storage

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/types"
)

var (
	// Bucket names
	bucketProjects     = []byte("projects")
	bucketProjectNames = []byte("project_names")
	bucketTaskTypes    = []byte("task_types")
	bucketTypeNames    = []byte("type_names")
	bucketTasks        = []byte("tasks") // one child bucket per project
	bucketTaskCounters = []byte("task_counters")
	bucketSessions     = []byte("sessions")
)

// BoltStore implements Store using bbolt. Every mutation runs in a single
// write transaction, so AssignTask's find-and-modify is linearizable by
// construction: bbolt admits one writer at a time.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens (or creates) the database file under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, err, "failed to open database")
	}

	s := &BoltStore{db: db, path: dbPath}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the buckets; safe to call repeatedly
func (s *BoltStore) Init() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProjects,
			bucketProjectNames,
			bucketTaskTypes,
			bucketTypeNames,
			bucketTasks,
			bucketTaskCounters,
			bucketSessions,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.KindStorage, err, "failed to initialize database")
	}
	return nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func typeNameKey(projectID, name string) []byte {
	return []byte(projectID + "/" + name)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// Project operations

func (s *BoltStore) CreateProject(p *types.Project) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		names := tx.Bucket(bucketProjectNames)
		if b.Get([]byte(p.ID)) != nil {
			return errors.Conflictf("project %s already exists", p.ID)
		}
		if names.Get([]byte(p.Name)) != nil {
			return errors.Conflictf("project name %q already exists", p.Name)
		}
		if err := names.Put([]byte(p.Name), []byte(p.ID)); err != nil {
			return err
		}
		return putJSON(b, []byte(p.ID), p)
	})
	return storageErr(err, "failed to create project")
}

func (s *BoltStore) GetProject(id string) (*types.Project, error) {
	var p types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProjects).Get([]byte(id))
		if data == nil {
			return errors.NotFoundf("project not found: %s", id)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, storageErr(err, "failed to read project")
	}
	return &p, nil
}

func (s *BoltStore) GetProjectByName(name string) (*types.Project, error) {
	var p types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketProjectNames).Get([]byte(name))
		if id == nil {
			return errors.NotFoundf("project not found: %s", name)
		}
		data := tx.Bucket(bucketProjects).Get(id)
		if data == nil {
			return errors.NotFoundf("project not found: %s", name)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, storageErr(err, "failed to read project")
	}
	return &p, nil
}

func (s *BoltStore) UpdateProject(p *types.Project) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		names := tx.Bucket(bucketProjectNames)
		data := b.Get([]byte(p.ID))
		if data == nil {
			return errors.NotFoundf("project not found: %s", p.ID)
		}
		var old types.Project
		if err := json.Unmarshal(data, &old); err != nil {
			return err
		}
		if old.Name != p.Name {
			if owner := names.Get([]byte(p.Name)); owner != nil && string(owner) != p.ID {
				return errors.Conflictf("project name %q already exists", p.Name)
			}
			if err := names.Delete([]byte(old.Name)); err != nil {
				return err
			}
			if err := names.Put([]byte(p.Name), []byte(p.ID)); err != nil {
				return err
			}
		}
		return putJSON(b, []byte(p.ID), p)
	})
	return storageErr(err, "failed to update project")
}

func (s *BoltStore) ListProjects(includeClosed bool) ([]*types.Project, error) {
	var projects []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p types.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if !includeClosed && p.Status == types.ProjectStatusClosed {
				return nil
			}
			projects = append(projects, &p)
			return nil
		})
	})
	if err != nil {
		return nil, storageErr(err, "failed to list projects")
	}
	sortProjectsNewestFirst(projects)
	return projects, nil
}

func (s *BoltStore) DeleteProject(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		data := b.Get([]byte(id))
		if data == nil {
			return errors.NotFoundf("project not found: %s", id)
		}
		var p types.Project
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if err := tx.Bucket(bucketProjectNames).Delete([]byte(p.Name)); err != nil {
			return err
		}
		// Cascade: project tasks and task types go with the project.
		tasks := tx.Bucket(bucketTasks)
		if tasks.Bucket([]byte(id)) != nil {
			if err := tasks.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}
		tts := tx.Bucket(bucketTaskTypes)
		typeNames := tx.Bucket(bucketTypeNames)
		var typeIDs [][]byte
		if err := tts.ForEach(func(k, v []byte) error {
			var tt types.TaskType
			if err := json.Unmarshal(v, &tt); err != nil {
				return err
			}
			if tt.ProjectID == id {
				typeIDs = append(typeIDs, append([]byte(nil), k...))
				if err := typeNames.Delete(typeNameKey(id, tt.Name)); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range typeIDs {
			if err := tts.Delete(k); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketTaskCounters).Delete([]byte(id)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
	return storageErr(err, "failed to delete project")
}

// Task type operations

func (s *BoltStore) CreateTaskType(tt *types.TaskType) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaskTypes)
		names := tx.Bucket(bucketTypeNames)
		if b.Get([]byte(tt.ID)) != nil {
			return errors.Conflictf("task type %s already exists", tt.ID)
		}
		nameKey := typeNameKey(tt.ProjectID, tt.Name)
		if names.Get(nameKey) != nil {
			return errors.Conflictf("task type %q already exists in project %s", tt.Name, tt.ProjectID)
		}
		if err := names.Put(nameKey, []byte(tt.ID)); err != nil {
			return err
		}
		return putJSON(b, []byte(tt.ID), tt)
	})
	return storageErr(err, "failed to create task type")
}

func (s *BoltStore) GetTaskType(id string) (*types.TaskType, error) {
	var tt types.TaskType
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTaskTypes).Get([]byte(id))
		if data == nil {
			return errors.NotFoundf("task type not found: %s", id)
		}
		return json.Unmarshal(data, &tt)
	})
	if err != nil {
		return nil, storageErr(err, "failed to read task type")
	}
	return &tt, nil
}

func (s *BoltStore) GetTaskTypeByName(projectID, name string) (*types.TaskType, error) {
	var tt types.TaskType
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTypeNames).Get(typeNameKey(projectID, name))
		if id == nil {
			return errors.NotFoundf("task type not found: %s", name)
		}
		data := tx.Bucket(bucketTaskTypes).Get(id)
		if data == nil {
			return errors.NotFoundf("task type not found: %s", name)
		}
		return json.Unmarshal(data, &tt)
	})
	if err != nil {
		return nil, storageErr(err, "failed to read task type")
	}
	return &tt, nil
}

func (s *BoltStore) UpdateTaskType(tt *types.TaskType) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaskTypes)
		names := tx.Bucket(bucketTypeNames)
		data := b.Get([]byte(tt.ID))
		if data == nil {
			return errors.NotFoundf("task type not found: %s", tt.ID)
		}
		var old types.TaskType
		if err := json.Unmarshal(data, &old); err != nil {
			return err
		}
		if old.Name != tt.Name {
			nameKey := typeNameKey(tt.ProjectID, tt.Name)
			if owner := names.Get(nameKey); owner != nil && string(owner) != tt.ID {
				return errors.Conflictf("task type %q already exists in project %s", tt.Name, tt.ProjectID)
			}
			if err := names.Delete(typeNameKey(old.ProjectID, old.Name)); err != nil {
				return err
			}
			if err := names.Put(nameKey, []byte(tt.ID)); err != nil {
				return err
			}
		}
		return putJSON(b, []byte(tt.ID), tt)
	})
	return storageErr(err, "failed to update task type")
}

func (s *BoltStore) ListTaskTypes(projectID string) ([]*types.TaskType, error) {
	var tts []*types.TaskType
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTaskTypes).ForEach(func(k, v []byte) error {
			var tt types.TaskType
			if err := json.Unmarshal(v, &tt); err != nil {
				return err
			}
			if tt.ProjectID == projectID {
				tts = append(tts, &tt)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storageErr(err, "failed to list task types")
	}
	sortTypesNewestFirst(tts)
	return tts, nil
}

func (s *BoltStore) DeleteTaskType(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaskTypes)
		data := b.Get([]byte(id))
		if data == nil {
			return errors.NotFoundf("task type not found: %s", id)
		}
		var tt types.TaskType
		if err := json.Unmarshal(data, &tt); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTypeNames).Delete(typeNameKey(tt.ProjectID, tt.Name)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
	return storageErr(err, "failed to delete task type")
}

// Task operations

func (s *BoltStore) projectTasks(tx *bolt.Tx, projectID string, create bool) (*bolt.Bucket, error) {
	parent := tx.Bucket(bucketTasks)
	b := parent.Bucket([]byte(projectID))
	if b == nil && create {
		return parent.CreateBucket([]byte(projectID))
	}
	return b, nil
}

func (s *BoltStore) CreateTask(t *types.Task) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.projectTasks(tx, t.ProjectID, true)
		if err != nil {
			return err
		}
		if b.Get([]byte(t.ID)) != nil {
			return errors.Conflictf("task %s already exists in project %s", t.ID, t.ProjectID)
		}
		if t.Seq == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			t.Seq = seq
		}
		return putJSON(b, []byte(t.ID), t)
	})
	return storageErr(err, "failed to create task")
}

// findTask scans project buckets for a task id; ids are unique per
// project so the first match wins.
func findTask(tx *bolt.Tx, taskID string) (*types.Task, error) {
	parent := tx.Bucket(bucketTasks)
	c := parent.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v != nil {
			continue // only child buckets expected
		}
		b := parent.Bucket(k)
		if data := b.Get([]byte(taskID)); data != nil {
			var t types.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return nil, err
			}
			return &t, nil
		}
	}
	return nil, nil
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := findTask(tx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return errors.NotFoundf("task not found: %s", id)
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "failed to read task")
	}
	return task, nil
}

func (s *BoltStore) UpdateTask(t *types.Task) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.projectTasks(tx, t.ProjectID, false)
		if err != nil {
			return err
		}
		if b == nil || b.Get([]byte(t.ID)) == nil {
			return errors.NotFoundf("task not found: %s", t.ID)
		}
		return putJSON(b, []byte(t.ID), t)
	})
	return storageErr(err, "failed to update task")
}

func (s *BoltStore) ListTasks(projectID string, filter types.TaskFilter) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.projectTasks(tx, projectID, false)
		if err != nil || b == nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if matchFilter(&t, filter) {
				tasks = append(tasks, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storageErr(err, "failed to list tasks")
	}
	sortNewestFirst(tasks)
	return paginate(tasks, filter.Limit, filter.Offset), nil
}

func (s *BoltStore) DeleteTask(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketTasks)
		c := parent.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v != nil {
				continue
			}
			b := parent.Bucket(k)
			if b.Get([]byte(id)) != nil {
				return b.Delete([]byte(id))
			}
		}
		return errors.NotFoundf("task not found: %s", id)
	})
	return storageErr(err, "failed to delete task")
}

func (s *BoltStore) NextTaskID(projectID string) (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		counters := tx.Bucket(bucketTaskCounters)
		n := 0
		if data := counters.Get([]byte(projectID)); data != nil {
			n, _ = strconv.Atoi(string(data))
		}
		b, err := s.projectTasks(tx, projectID, true)
		if err != nil {
			return err
		}
		for {
			n++
			candidate := fmt.Sprintf("task-%d", n)
			if b.Get([]byte(candidate)) == nil {
				id = candidate
				return counters.Put([]byte(projectID), []byte(strconv.Itoa(n)))
			}
		}
	})
	if err != nil {
		return "", storageErr(err, "failed to allocate task id")
	}
	return id, nil
}

// Atomic lease primitives

func (s *BoltStore) AssignTask(projectID, workerName string) (*types.Task, error) {
	var assigned *types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.projectTasks(tx, projectID, false)
		if err != nil || b == nil {
			return err
		}
		var candidates []*types.Task
		if err := b.ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Status == types.TaskStatusQueued {
				candidates = append(candidates, &t)
			}
			return nil
		}); err != nil {
			return err
		}
		head := pickQueued(candidates)
		if head == nil {
			return nil
		}

		leaseMinutes := 0
		if head.TypeID != "" {
			if data := tx.Bucket(bucketTaskTypes).Get([]byte(head.TypeID)); data != nil {
				var tt types.TaskType
				if err := json.Unmarshal(data, &tt); err == nil {
					leaseMinutes = tt.LeaseDurationMinutes
				}
			}
		}
		if leaseMinutes <= 0 {
			if data := tx.Bucket(bucketProjects).Get([]byte(projectID)); data != nil {
				var p types.Project
				if err := json.Unmarshal(data, &p); err == nil {
					leaseMinutes = p.Config.DefaultLeaseDurationMinutes
				}
			}
		}
		if leaseMinutes <= 0 {
			leaseMinutes = DefaultLeaseMinutes
		}

		applyAssign(head, workerName, leaseMinutes, time.Now().UTC())
		if err := putJSON(b, []byte(head.ID), head); err != nil {
			return err
		}
		assigned = head
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "failed to assign task")
	}
	return assigned, nil
}

// mutateTask runs fn on a task inside a write transaction
func (s *BoltStore) mutateTask(taskID string, fn func(*types.Task) error) (*types.Task, error) {
	var updated *types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := findTask(tx, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return errors.NotFoundf("task not found: %s", taskID)
		}
		if err := fn(t); err != nil {
			return err
		}
		b, err := s.projectTasks(tx, t.ProjectID, false)
		if err != nil {
			return err
		}
		if err := putJSON(b, []byte(t.ID), t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "failed to update task")
	}
	return updated, nil
}

func (s *BoltStore) CompleteTask(taskID string, result *types.TaskResult) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyComplete(t, result, time.Now().UTC())
	})
}

func (s *BoltStore) FailTask(taskID string, result *types.TaskResult, canRetry bool) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyFail(t, result, canRetry, time.Now().UTC())
	})
}

func (s *BoltStore) ExtendLease(taskID string, minutes int) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyExtend(t, minutes)
	})
}

func (s *BoltStore) RequeueTask(taskID string) (*types.Task, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return applyRequeue(t, time.Now().UTC())
	})
}

func (s *BoltStore) FindExpiredLeases() ([]*types.Task, error) {
	now := time.Now().UTC()
	var expired []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketTasks)
		c := parent.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v != nil {
				continue
			}
			if err := parent.Bucket(k).ForEach(func(_, data []byte) error {
				var t types.Task
				if err := json.Unmarshal(data, &t); err != nil {
					return err
				}
				if t.Status == types.TaskStatusRunning && t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now) {
					expired = append(expired, &t)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "failed to scan leases")
	}
	return expired, nil
}

// Queries

func (s *BoltStore) FindDuplicateTask(projectID, typeID string, variables map[string]string) (*types.Task, error) {
	var found *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.projectTasks(tx, projectID, false)
		if err != nil || b == nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if isDuplicate(&t, typeID, variables) {
				found = &t
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "failed to scan for duplicates")
	}
	return found, nil
}

func (s *BoltStore) GetTaskHistory(taskID string) ([]types.Attempt, error) {
	t, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	return t.Attempts, nil
}

// Health

func (s *BoltStore) HealthCheck() types.HealthStatus {
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketProjects) == nil {
			return fmt.Errorf("projects bucket missing")
		}
		return nil
	})
	if err != nil {
		return types.HealthStatus{Healthy: false, Message: err.Error()}
	}
	return types.HealthStatus{Healthy: true, Message: "bolt store: " + s.path}
}

func (s *BoltStore) GetMetrics() (map[string]float64, error) {
	metrics := map[string]float64{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketProjects).ForEach(func(_, _ []byte) error {
			metrics["projects_total"]++
			return nil
		}); err != nil {
			return err
		}
		parent := tx.Bucket(bucketTasks)
		c := parent.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v != nil {
				continue
			}
			if err := parent.Bucket(k).ForEach(func(_, data []byte) error {
				var t types.Task
				if err := json.Unmarshal(data, &t); err != nil {
					return err
				}
				metrics["tasks_total"]++
				metrics["tasks_"+string(t.Status)]++
				return nil
			}); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketSessions).ForEach(func(_, _ []byte) error {
			metrics["sessions_total"]++
			return nil
		})
	})
	if err != nil {
		return nil, storageErr(err, "failed to collect metrics")
	}
	return metrics, nil
}

// Session operations

func (s *BoltStore) CreateSession(sess *types.Session) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(sess.Token)) != nil {
			return errors.Conflictf("session already exists")
		}
		return putJSON(b, []byte(sess.Token), sess)
	})
	return storageErr(err, "failed to create session")
}

func (s *BoltStore) GetSession(token string) (*types.Session, error) {
	var sess types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(token))
		if data == nil {
			return errors.NotFoundf("session not found")
		}
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return nil, storageErr(err, "failed to read session")
	}
	return &sess, nil
}

func (s *BoltStore) UpdateSession(sess *types.Session) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(sess.Token)) == nil {
			return errors.NotFoundf("session not found")
		}
		return putJSON(b, []byte(sess.Token), sess)
	})
	return storageErr(err, "failed to update session")
}

func (s *BoltStore) DeleteSession(token string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(token)) == nil {
			return errors.NotFoundf("session not found")
		}
		return b.Delete([]byte(token))
	})
	return storageErr(err, "failed to delete session")
}

func (s *BoltStore) FindSessionsByAgent(agentName string) ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			var sess types.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.AgentName == agentName {
				sessions = append(sessions, &sess)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storageErr(err, "failed to scan sessions")
	}
	return sessions, nil
}

func (s *BoltStore) CleanupExpiredSessions() (int, error) {
	removed := 0
	now := time.Now().UTC()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		var expired [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var sess types.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.Expired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, storageErr(err, "failed to cleanup sessions")
	}
	return removed, nil
}

// storageErr classifies err as a storage failure unless it already
// carries a kind.
func storageErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	return errors.Wrap(errors.KindStorage, err, msg)
}
