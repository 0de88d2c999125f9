// Package profile provides the remote per-user profile document store.
//
// Documents are loosely-typed field maps in the persisted record layout. The
// Guarded wrapper bounds every call with a timeout and disables the store for
// the rest of the process after the first failure.
package profile

import (
	"context"
	"errors"
)

// Store is a remote document store keyed by authenticated user id.
type Store interface {
	// Fetch returns the user's document, or ErrNotFound when none exists.
	Fetch(ctx context.Context, uid string) (map[string]any, error)

	// Upsert writes the given fields with merge semantics. Fields absent from
	// doc are left untouched on the server.
	Upsert(ctx context.Context, uid string, doc map[string]any) error
}

var (
	// ErrNotFound is returned when the user has no remote document.
	ErrNotFound = errors.New("profile not found")

	// ErrTimeout is returned when a call exceeds the guard's timeout.
	ErrTimeout = errors.New("profile store timed out")

	// ErrUnavailable is returned once the circuit breaker has tripped.
	ErrUnavailable = errors.New("profile store unavailable")
)
