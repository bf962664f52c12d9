/*
Package storage persists all Burrow entities and implements the atomic
assignment and lease primitives the scheduler's correctness rests on.

The Store interface is the contract; the file, bolt and memory backends
are the media. Services never talk to a backend directly, and nothing
above this package may assume which backend is active.

# Architecture

	┌───────────────────── STORE INTERFACE ─────────────────────┐
	│                                                            │
	│  Entity CRUD          Atomic primitives       Sessions     │
	│  - Projects           - AssignTask            - Create     │
	│  - TaskTypes          - CompleteTask          - Get        │
	│  - Tasks              - FailTask              - Delete     │
	│  - NextTaskID         - ExtendLease           - Cleanup    │
	│                       - RequeueTask                        │
	│                       - FindExpiredLeases                  │
	└──────┬──────────────────────┬──────────────────────┬───────┘
	       │                      │                      │
	  ┌────▼─────┐         ┌──────▼────┐         ┌───────▼────┐
	  │ BoltStore│         │MemoryStore│         │ FileStore  │
	  │ bbolt,   │         │ go-memdb, │         │ JSON dirs, │
	  │ buckets  │         │ indexed   │         │ lockfiles  │
	  │ per      │         │ tables    │         │ per        │
	  │ entity   │         │           │         │ project    │
	  └──────────┘         └───────────┘         └────────────┘

# Atomicity

Each backend supplies its own atomic context and runs the shared
transition functions (applyAssign, applyComplete, applyFail,
applyExtend, applyRequeue) inside it:

  - BoltStore: one bbolt write transaction per operation. Bolt
    serializes writers, so find-and-modify inside db.Update is
    linearizable.
  - MemoryStore: one go-memdb write transaction per operation. Readers
    see the last committed snapshot.
  - FileStore: a per-project advisory lockfile held across
    read-modify-write. Writes go to a temp file and rename into place.
    Lock acquisition times out after the configured interval and
    surfaces a lock error; stale locks are taken over.

AssignTask is the contended path: it picks the queued head (FIFO by
CreatedAt, insertion order on ties), resolves the lease duration from
the task's type, falling back to the project default, and stamps the
assignment in the same atomic context. Concurrent callers on the same
project observe exactly one winner per task.

# Layout

Entities serialize as JSON. The bolt backend keys buckets per entity
with a per-project task sub-bucket; the file backend keeps one
directory per project holding project.json, task_types/, tasks/, a
monotonic id counter and the lockfile.
*/
package storage
