package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/seatsync/backend/internal/models"
)

// Enqueue appends the user to the event's waitlist at max(position)+1.
// Positions are never reused or compacted.
func Enqueue(ctx context.Context, tx Tx, eventID, userID uuid.UUID, at time.Time) (*models.WaitlistEntry, error) {
	last, err := tx.MaxWaitlistPosition(ctx, eventID)
	if err != nil {
		return nil, err
	}
	entry := &models.WaitlistEntry{
		ID:        uuid.New(),
		UserID:    userID,
		EventID:   eventID,
		Position:  last + 1,
		CreatedAt: at,
	}
	if err := tx.InsertWaitlistEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DequeueHead removes and returns the entry with the smallest position, or
// nil when the waitlist is empty.
func DequeueHead(ctx context.Context, tx Tx, eventID uuid.UUID) (*models.WaitlistEntry, error) {
	head, err := tx.WaitlistHead(ctx, eventID)
	if err != nil || head == nil {
		return nil, err
	}
	if err := tx.DeleteWaitlistEntry(ctx, head.ID); err != nil {
		return nil, err
	}
	return head, nil
}

// Remove deletes the user's entry without renumbering the others. It returns
// nil when the user was not waitlisted.
func Remove(ctx context.Context, tx Tx, userID, eventID uuid.UUID) (*models.WaitlistEntry, error) {
	entry, err := tx.FindWaitlistEntry(ctx, userID, eventID)
	if err != nil || entry == nil {
		return nil, err
	}
	if err := tx.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
		return nil, err
	}
	return entry, nil
}
