package models

import (
	"time"

	"github.com/google/uuid"
)

// RegistrationStatusConfirmed is the only status a stored registration can have;
// cancelling deletes the record.
const RegistrationStatusConfirmed = "confirmed"

// Registration is a confirmed seat booking for a user on an event.
type Registration struct {
	ID                   uuid.UUID `json:"id"`
	UserID               uuid.UUID `json:"user_id"`
	EventID              uuid.UUID `json:"event_id"`
	Status               string    `json:"status"`
	PromotedFromWaitlist bool      `json:"promoted_from_waitlist"`
	CreatedAt            time.Time `json:"created_at"`
}

// WaitlistEntry is a pending booking queued behind full capacity.
// Entries with a smaller Position are promoted first.
type WaitlistEntry struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	EventID   uuid.UUID `json:"event_id"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// BookingKind tags the relation between one user and one event.
type BookingKind string

const (
	BookingNone       BookingKind = "none"
	BookingConfirmed  BookingKind = "confirmed"
	BookingWaitlisted BookingKind = "waitlisted"
)

// BookingState is the per (user, event) state: none, confirmed, or
// waitlisted at a position.
type BookingState struct {
	Kind     BookingKind `json:"state"`
	Position int         `json:"position,omitempty"`
}

// RegisterStatus is the outcome of a successful register call.
type RegisterStatus string

const (
	RegisterStatusRegistered RegisterStatus = "registered"
	RegisterStatusWaitlisted RegisterStatus = "waitlisted"
)

// RegisterResult is returned by Register.
type RegisterResult struct {
	Status         RegisterStatus `json:"status"`
	Position       int            `json:"position,omitempty"`
	RegistrationID *uuid.UUID     `json:"registration_id,omitempty"`
	WaitlistID     *uuid.UUID     `json:"waitlist_id,omitempty"`
}

// CancelStatus is the outcome of a successful cancel call.
type CancelStatus string

const (
	CancelStatusCancelled           CancelStatus = "cancelled"
	CancelStatusCancelledAndPromote CancelStatus = "cancelled_and_promoted"
	CancelStatusRemovedFromWaitlist CancelStatus = "removed_from_waitlist"
)

// CancelResult is returned by Cancel.
type CancelResult struct {
	Status         CancelStatus `json:"status"`
	PromotedUserID *uuid.UUID   `json:"promoted_user_id,omitempty"`
}

// ConflictResult reports whether a candidate time window overlaps one of the
// user's confirmed bookings.
type ConflictResult struct {
	Conflict  bool       `json:"conflict"`
	WithTitle string     `json:"with_title,omitempty"`
	WithID    *uuid.UUID `json:"with_event_id,omitempty"`
}

// LedgerChangeKind names a committed ledger mutation.
type LedgerChangeKind string

const (
	LedgerRegistered          LedgerChangeKind = "registered"
	LedgerWaitlisted          LedgerChangeKind = "waitlisted"
	LedgerCancelled           LedgerChangeKind = "cancelled"
	LedgerPromoted            LedgerChangeKind = "promoted"
	LedgerRemovedFromWaitlist LedgerChangeKind = "removed_from_waitlist"
)

// LedgerChange describes one committed mutation of an event's seats, ledger
// or waitlist. It is delivered to notifiers after commit.
type LedgerChange struct {
	Kind           LedgerChangeKind `json:"kind"`
	EventID        uuid.UUID        `json:"event_id"`
	UserID         uuid.UUID        `json:"user_id"`
	PromotedUserID *uuid.UUID       `json:"promoted_user_id,omitempty"`
	AvailableSeats int              `json:"available_seats"`
	TotalSeats     int              `json:"total_seats"`
	At             time.Time        `json:"at"`
}
