package domain

import "errors"

var (
	// Purchase and entitlement errors
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("entity not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConcurrencyConflict = errors.New("concurrent modification")
	ErrTrialAlreadyUsed    = errors.New("trial already used")

	// Infrastructure errors
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid exec context")
	ErrLockNotAcquired    = errors.New("lock not acquired")
	ErrRateLimited        = errors.New("rate limit exceeded")
)
