package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict covers id collisions and duplicate roots.
	ErrConflict = errors.New("conflict")
	// ErrBoundary reports a swipe or switch past a valid edge of the tree.
	ErrBoundary = errors.New("boundary")
	// ErrStreamActive reports that a chat already has a generation in flight.
	ErrStreamActive = errors.New("stream already active")
)

// Is re-exports errors.Is so callers don't need a second import.
func Is(err, target error) bool { return errors.Is(err, target) }
