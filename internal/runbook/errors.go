package runbook

import "errors"

var (
	// ErrInvalid marks a request that failed validation.
	ErrInvalid = errors.New("invalid request")
	// ErrNotFound marks a missing project, phase, row, role or script.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a change whose target no longer fits the store,
	// such as a move into a phase that was deleted.
	ErrConflict = errors.New("conflict")
)
