package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for uniform mapping into command results
// and HTTP status codes.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindState         Kind = "state"
	KindLock          Kind = "lock"
	KindStorage       Kind = "storage"
	KindAuthorization Kind = "authorization"
)

// Error is the classified error type used across all Burrow layers.
// Lower layers return it unwrapped; the command layer maps it.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string // field-level validation details
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithField attaches a field-level detail and returns the error
func (e *Error) WithField(field, detail string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = detail
	return e
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validationf reports input that fails schema validation
func Validationf(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

// NotFoundf reports a missing project, task type, task or session
func NotFoundf(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

// Conflictf reports a uniqueness or duplicate-handling violation
func Conflictf(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

// Statef reports an operation disallowed in the entity's current state
func Statef(format string, args ...any) *Error {
	return newf(KindState, format, args...)
}

// Lockf reports a lock that could not be acquired within its timeout
func Lockf(format string, args ...any) *Error {
	return newf(KindLock, format, args...)
}

// Storagef reports a lower-level backend failure
func Storagef(format string, args ...any) *Error {
	return newf(KindStorage, format, args...)
}

// Authorizationf reports a worker-name mismatch on complete/fail/extend
func Authorizationf(format string, args ...any) *Error {
	return newf(KindAuthorization, format, args...)
}

// Wrap attaches a cause to a classified error
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the classification of err, or KindStorage for
// unclassified errors bubbling up from a backend.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

func is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func IsValidation(err error) bool    { return is(err, KindValidation) }
func IsNotFound(err error) bool      { return is(err, KindNotFound) }
func IsConflict(err error) bool      { return is(err, KindConflict) }
func IsState(err error) bool         { return is(err, KindState) }
func IsLock(err error) bool          { return is(err, KindLock) }
func IsStorage(err error) bool       { return is(err, KindStorage) }
func IsAuthorization(err error) bool { return is(err, KindAuthorization) }
