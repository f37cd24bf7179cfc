package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AvailableSeats returns the event's current available seat count.
func AvailableSeats(ctx context.Context, tx Tx, eventID uuid.UUID) (int, error) {
	ev, err := tx.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return ev.AvailableSeats, nil
}

// DecrementSeat consumes one seat and returns the seats left.
func DecrementSeat(ctx context.Context, tx Tx, eventID uuid.UUID) (int, error) {
	ev, err := tx.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if ev.AvailableSeats <= 0 {
		return 0, fmt.Errorf("%w: decrement on event %s with no available seats", ErrInvariantViolation, eventID)
	}
	left := ev.AvailableSeats - 1
	if err := tx.SetAvailableSeats(ctx, eventID, left); err != nil {
		return 0, err
	}
	return left, nil
}

// IncrementSeat frees one seat and returns the seats left.
func IncrementSeat(ctx context.Context, tx Tx, eventID uuid.UUID) (int, error) {
	ev, err := tx.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if ev.AvailableSeats >= ev.TotalSeats {
		return 0, fmt.Errorf("%w: increment on event %s already at %d/%d seats",
			ErrInvariantViolation, eventID, ev.AvailableSeats, ev.TotalSeats)
	}
	left := ev.AvailableSeats + 1
	if err := tx.SetAvailableSeats(ctx, eventID, left); err != nil {
		return 0, err
	}
	return left, nil
}
