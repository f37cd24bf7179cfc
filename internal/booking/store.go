// Package booking is the seat allocation and waitlist engine. It admits or
// waitlists registrations against an event's seat counter, promotes the
// waitlist head on cancellation and detects schedule conflicts.
//
// All mutations go through Store.Atomic; nothing outside an atomic section
// writes seats, registrations or waitlist entries.
package booking

import (
	"context"

	"github.com/google/uuid"

	"github.com/seatsync/backend/internal/models"
)

// Reader is the read side shared by a store snapshot and an open atomic section.
type Reader interface {
	// GetEvent returns the event or ErrNotFound. Inside an atomic section the
	// event row is locked until the section ends.
	GetEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error)
	// FindRegistration returns nil, nil when the user holds no seat.
	FindRegistration(ctx context.Context, userID, eventID uuid.UUID) (*models.Registration, error)
	// FindWaitlistEntry returns nil, nil when the user is not waitlisted.
	FindWaitlistEntry(ctx context.Context, userID, eventID uuid.UUID) (*models.WaitlistEntry, error)
	// RegisteredEvents returns the events of the user's confirmed
	// registrations in ledger order (registration time, then id).
	RegisteredEvents(ctx context.Context, userID uuid.UUID) ([]models.Event, error)
}

// Tx is an open atomic section. Writes become visible together on commit or
// not at all.
type Tx interface {
	Reader
	SetAvailableSeats(ctx context.Context, eventID uuid.UUID, seats int) error
	InsertRegistration(ctx context.Context, reg *models.Registration) error
	DeleteRegistration(ctx context.Context, id uuid.UUID) error
	InsertWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error
	DeleteWaitlistEntry(ctx context.Context, id uuid.UUID) error
	// MaxWaitlistPosition returns 0 for an empty waitlist.
	MaxWaitlistPosition(ctx context.Context, eventID uuid.UUID) (int, error)
	// WaitlistHead returns the minimum-position entry, or nil when empty.
	WaitlistHead(ctx context.Context, eventID uuid.UUID) (*models.WaitlistEntry, error)
}

// LedgerReader exposes the registration and waitlist collections for
// rosters and analytics. It never writes.
type LedgerReader interface {
	EventRegistrations(ctx context.Context, eventID uuid.UUID) ([]models.Registration, error)
	// EventWaitlist is ordered by position.
	EventWaitlist(ctx context.Context, eventID uuid.UUID) ([]models.WaitlistEntry, error)
	UserRegistrations(ctx context.Context, userID uuid.UUID) ([]models.Registration, error)
	UserWaitlist(ctx context.Context, userID uuid.UUID) ([]models.WaitlistEntry, error)
	AllRegistrations(ctx context.Context) ([]models.Registration, error)
	AllWaitlistEntries(ctx context.Context) ([]models.WaitlistEntry, error)
}

// Store is a durable store with serializable multi-record atomic sections.
type Store interface {
	Reader
	LedgerReader
	// Atomic runs fn in one serializable section. If fn returns an error
	// nothing is written. A lost race is reported as ErrWriteConflict.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
