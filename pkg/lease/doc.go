/*
Package lease implements the assignment engine: pulling queued tasks
under time-bounded leases, releasing them via complete or fail, and
reclaiming expired leases back into the queue.

# Lifecycle

	queued ──GetNextTask──▶ running ──CompleteTask──▶ completed
	   ▲                       │
	   │                       ├──FailTask (retry left)──▶ queued
	   │                       ├──FailTask (exhausted)──▶ failed
	   └──lease expiry─────────┘   (CleanupExpiredLeases)

The engine layers policy over the storage primitives, which own all
atomicity:

  - Reconnection: a worker that already holds a running task in the
    project gets that task back instead of a second one, so a retried
    poll after a dropped response is harmless.
  - Worker identity: callers without a name get a generated
    worker-<ts>-<uuid8>; complete, fail and extend verify the caller
    against the task's assignedTo and surface an authorization error
    on mismatch.
  - Cleanup: expired running tasks are requeued with their retry count
    bumped. A sweep runs best-effort before every assignment and on the
    reaper's timer; lost races with a late complete are tolerated.

Lease durations come from the task's type, or the project default for
typeless tasks. Extension shifts the current expiry, not now.
*/
package lease
