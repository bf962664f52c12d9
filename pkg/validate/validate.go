package validate

import (
	"regexp"

	"github.com/burrowq/burrow/pkg/errors"
)

const (
	// MaxNameLength bounds project, task type and task identifiers
	MaxNameLength = 128
	// MaxTextLength bounds free-text fields (descriptions, instructions, templates)
	MaxTextLength = 65536
	// MaxBulkTasks bounds a single bulk-create batch
	MaxBulkTasks = 1000
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Name validates a slug-like identifier (letters, digits, '-', '_',
// starting with a letter or digit).
func Name(field, value string) error {
	if value == "" {
		return errors.Validationf("%s is required", field).WithField(field, "required")
	}
	if len(value) > MaxNameLength {
		return errors.Validationf("%s exceeds %d characters", field, MaxNameLength).WithField(field, "too long")
	}
	if !nameRe.MatchString(value) {
		return errors.Validationf("%s %q must contain only letters, digits, '-' and '_'", field, value).WithField(field, "bad format")
	}
	return nil
}

// Text validates a bounded free-text field
func Text(field, value string) error {
	if len(value) > MaxTextLength {
		return errors.Validationf("%s exceeds %d characters", field, MaxTextLength).WithField(field, "too long")
	}
	return nil
}

// NonNegative validates a >= 0 numeric field (retry counts)
func NonNegative(field string, value int) error {
	if value < 0 {
		return errors.Validationf("%s must be >= 0, got %d", field, value).WithField(field, "out of range")
	}
	return nil
}

// MinOne validates a >= 1 numeric field (durations, intervals)
func MinOne(field string, value int) error {
	if value < 1 {
		return errors.Validationf("%s must be >= 1, got %d", field, value).WithField(field, "out of range")
	}
	return nil
}
