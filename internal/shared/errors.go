package shared

import "errors"

var (
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrBalance indicates debit and credit totals diverge beyond tolerance.
	ErrBalance = errors.New("entry not balanced")
	// ErrAuthorization indicates an entity or record outside the caller's tenant.
	ErrAuthorization = errors.New("not authorized for tenant")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPersistence indicates a downstream store failure mid-operation.
	ErrPersistence = errors.New("persistence failure")
	// ErrLocked indicates another writer holds the critical section.
	ErrLocked = errors.New("resource locked")
)
