// Package repository implements the persistence layer against MySQL.
// This file defines the sentinel errors shared by every repository and
// the classification of low-level driver errors into them.  Higher
// layers compare with errors.Is and translate into HTTP responses;
// ErrConcurrencyConflict is the only kind that is safe to retry
// automatically.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrEventNotFound is returned when no event matches the given
// id, slug or code.
var ErrEventNotFound = errors.New("event not found")

// ErrStandNotFound is returned when no stand matches the given id or
// code within the event.
var ErrStandNotFound = errors.New("stand not found")

// ErrParticipantNotFound is returned when no active participant
// matches the identifier within the event.  A participant registered
// for a different event is deliberately reported as not found rather
// than leaked across the event boundary.
var ErrParticipantNotFound = errors.New("participant not found")

// ErrCapacityExceeded is returned when an atomic reserve against a
// bounded counter (stand slots or event capacity) finds no free slot.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrNotApproved is returned when a check-in is attempted for a
// participant whose approval status is not "approved".
var ErrNotApproved = errors.New("participant not approved")

// ErrAlreadyInside is returned when a check-in is attempted for a
// participant whose last ledger entry is an ENTRY.
var ErrAlreadyInside = errors.New("participant already inside")

// ErrNotInside is returned when a check-out is attempted for a
// participant who has no open ENTRY.
var ErrNotInside = errors.New("participant not inside")

// ErrConcurrencyConflict is returned when the database reports a
// deadlock or lock wait timeout.  The operation left no partial state
// and may be retried.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrDuplicate is returned when a unique constraint is violated
// (event code/slug, stand code, participant short id, duplicated
// idempotency key).
var ErrDuplicate = errors.New("duplicate record")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they may not touch.  Handlers translate this into an
// HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because
// of conflicting state, such as lowering a capacity limit below the
// current count.  Handlers translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// MySQL server error numbers relevant to our transactional discipline.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// classifyMySQL maps driver-level errors onto the sentinels above.
// Unrecognized errors pass through unchanged.
func classifyMySQL(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDuplicateEntry:
			return ErrDuplicate
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return ErrConcurrencyConflict
		}
	}
	return err
}
