package audit

import "errors"

// Sentinel errors for the audit subsystem. Callers classify with errors.Is.
var (
	// ErrValidation marks malformed input rejected before touching the store.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a lookup for an event that does not exist.
	ErrNotFound = errors.New("audit event not found")

	// ErrStoreUnavailable marks a durable-store failure. Recording never
	// best-effort-succeeds: the caller decides whether the parent business
	// operation fails with it.
	ErrStoreUnavailable = errors.New("audit store unavailable")
)
