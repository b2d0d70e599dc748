package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a status transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// Engine error taxonomy. Callers match with errors.Is; messages are wrapped with %w.
var (
	// ErrConfiguration: no applicable template, or a level with no resolvable approvers
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthorization: the actor is not permitted to perform the operation
	ErrAuthorization = errors.New("authorization error")

	// ErrState: the request is not in a status that permits the operation
	ErrState = errors.New("state error")

	// ErrValidation: the input is malformed or violates a template rule
	ErrValidation = errors.New("validation error")

	// ErrLimit: a configured limit such as maxResubmissions was reached
	ErrLimit = errors.New("limit error")

	// ErrNotFound is returned when a request or template does not exist
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when the stored version moved underneath a write
	ErrConcurrentModification = errors.New("concurrent modification")
)
