package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when an operation names an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateSession is returned by Create when the id is already taken.
	ErrDuplicateSession = errors.New("session already exists")

	// ErrInvalidConfig is returned when a store is missing required options.
	ErrInvalidConfig = errors.New("invalid session store configuration")

	// ErrInvalidStoreType is returned for unknown driver names.
	ErrInvalidStoreType = errors.New("invalid session store type")
)

// NotFoundError carries the id of the missing session.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrSessionNotFound }

// DuplicateError carries the id that was already taken.
type DuplicateError struct {
	ID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("session %q already exists", e.ID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateSession }
