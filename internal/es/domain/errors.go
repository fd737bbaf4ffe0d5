package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionConflict is returned when an append is not exactly one
	// version past the last stored event of its stream. The caller must
	// reload and retry; the engine never retries on its own.
	ErrVersionConflict = errors.New("version conflict")

	// ErrAggregateVersionOutdated is returned by the explicit version gate
	// of DispatchCommand before any events are derived. It wraps
	// ErrVersionConflict so errors.Is covers both conflict flavors.
	ErrAggregateVersionOutdated = fmt.Errorf("aggregate version outdated: %w", ErrVersionConflict)

	// ErrAggregateNotFound is returned when an aggregate has no events or
	// its removed predicate holds.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrUnknownEvent signals a stored event name the running code does not
	// recognize. Fatal, never retried: it means deployment version skew.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrUnknownCommand signals a command the aggregate does not handle.
	ErrUnknownCommand = errors.New("unknown command")
)
