package booking

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the event does not exist.
	ErrNotFound = errors.New("event not found")
	// ErrEventClosed is returned when registering for a closed event.
	ErrEventClosed = errors.New("event is closed for registration")
	// ErrAlreadyRegistered is returned when the user already holds a seat.
	ErrAlreadyRegistered = errors.New("already registered for this event")
	// ErrAlreadyWaitlisted is returned when the user is already on the waitlist.
	ErrAlreadyWaitlisted = errors.New("already on the waitlist for this event")
	// ErrBranchIneligible is returned when the event targets other departments.
	ErrBranchIneligible = errors.New("event is not available for your department")
	// ErrRegistrationNotFound is returned when cancelling without a booking.
	ErrRegistrationNotFound = errors.New("registration not found")
	// ErrInvariantViolation signals a seat-counter defect. It must never be
	// reached through the coordinator and is logged at error level.
	ErrInvariantViolation = errors.New("seat invariant violation")
	// ErrTransientFailure is returned when the retry budget for write
	// conflicts is exhausted. Callers may retry.
	ErrTransientFailure = errors.New("transient failure, retry the request")
	// ErrWriteConflict is returned by a Store when an atomic section lost a
	// race with a concurrent one and can be re-run from scratch.
	ErrWriteConflict = errors.New("write conflict")
)

// ScheduleConflictError is returned when the event overlaps one of the
// user's confirmed bookings.
type ScheduleConflictError struct {
	EventID uuid.UUID
	Title   string
}

func (e *ScheduleConflictError) Error() string {
	return fmt.Sprintf("time conflict with: %s", e.Title)
}
