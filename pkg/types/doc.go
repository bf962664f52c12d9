// Package types defines the core data structures shared across Burrow:
// projects, task types, tasks with their attempts and leases, the
// ephemeral agent projection, and the HTTP-shell session record.
package types
