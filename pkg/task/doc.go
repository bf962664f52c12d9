// Package task implements task creation (single and bulk), listing,
// effective-instruction resolution and deletion.
package task
