// Package template implements the {{name}} placeholder syntax used by task
// type templates: extraction, purely textual interpolation, and
// reconciliation of explicit variable lists at type-creation time. There
// are no conditionals or loops.
package template
