// Package sentinel holds storage-level facts that services translate into
// domain errors. Validation failures belong in pkg/domain-errors instead.
package sentinel

import "errors"

var (
	// ErrNotFound means the record does not exist, or belongs to someone else.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a competing record already exists.
	ErrConflict = errors.New("conflict")
)
