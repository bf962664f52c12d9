// Package errors defines Burrow's error taxonomy. Every error surfaced by
// the services and storage backends carries a Kind (validation, not_found,
// conflict, state, lock, storage, authorization) so the command layer can
// map it uniformly without string matching.
package errors
