// Package log wraps zerolog with a process-global logger and child-logger
// helpers carrying the fields used throughout Burrow (component, project,
// task, worker).
package log
