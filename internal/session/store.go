package session

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
	// ErrConflict is returned by UpdateIf when the stored status does not
	// match the expected one. Callers treat it as a lost CAS race and
	// re-read the session.
	ErrConflict = errors.New("session status conflict")
	// ErrIllegalTransition is returned by UpdateIf when the write would take
	// the session across an edge the status machine does not allow. Unlike
	// ErrConflict this is a caller bug, not a race.
	ErrIllegalTransition = errors.New("session: illegal status transition")
)

// Store is the persistence contract for session records.
//
// UpdateIf is the only mutation path after Create; it compares the stored
// status against expect before writing, which gives the coordinator,
// metering engine and watchdog a compare-and-set discipline so that exactly
// one of them wins any racing transition.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)

	// UpdateIf persists s only if the stored status equals expect. A write
	// that changes the status must follow a legal edge per CanTransition;
	// same-status writes (progress updates while ongoing) are always allowed.
	UpdateIf(ctx context.Context, s Session, expect Status) error

	// FindActiveByUser returns the user's non-terminal session, if any.
	FindActiveByUser(ctx context.Context, userID string) (Session, bool, error)

	// ListByStatus returns sessions currently in any of the given statuses.
	// Used by the interruption watchdog.
	ListByStatus(ctx context.Context, statuses ...Status) ([]Session, error)
}
