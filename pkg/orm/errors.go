package orm

import (
	"errors"

	"github.com/ammar0144/nplusone/pkg/db"
)

// Sentinel errors for session and proxy operations
var (
	// ErrDetachedAccess is returned when a proxy is touched after its session was
	// cleared or closed
	ErrDetachedAccess = errors.New("detached access")

	// ErrSessionClosed is returned when using a closed session
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionFailed is returned by every query after a store or
	// materialization error, until Clear
	ErrSessionFailed = errors.New("session failed")

	// ErrTransientReference is returned at flush when a foreign key points to an
	// entity that was never saved
	ErrTransientReference = errors.New("reference to a transient entity")

	// ErrNotFound is returned by Find when no row has the id
	ErrNotFound = errors.New("entity not found")

	// ErrIdentityConflict is returned by Put when another instance already holds the key
	ErrIdentityConflict = errors.New("identity map already holds another instance")

	// ErrNotEntity is returned when a descriptor's constructor does not produce an Entity
	ErrNotEntity = errors.New("descriptor constructor does not return an Entity")
)

// Store errors surfaced unchanged by the session
var (
	ErrConstraintViolation = db.ErrConstraintViolation
	ErrQueryTimeout        = db.ErrQueryTimeout
)

// IsDetachedAccess checks if an error is ErrDetachedAccess
func IsDetachedAccess(err error) bool {
	return errors.Is(err, ErrDetachedAccess)
}

// IsSessionFailed checks if an error is ErrSessionFailed
func IsSessionFailed(err error) bool {
	return errors.Is(err, ErrSessionFailed)
}

// IsNotFound checks if an error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
