package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seatsync/backend/internal/models"
)

// Window is a candidate date and time-of-day range. Empty Start or End mean
// the start or end of the day.
type Window struct {
	Date  string // YYYY-MM-DD
	Start string // HH:MM
	End   string // HH:MM
}

// WindowOf returns the event's window with full-day defaults applied.
func WindowOf(ev *models.Event) Window {
	start, end := ev.Window()
	return Window{Date: ev.Date, Start: start, End: end}
}

// ParseClock parses an HH:MM time of day into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

func clockOr(s string, def int) int {
	if s == "" {
		return def
	}
	m, err := ParseClock(s)
	if err != nil {
		return def
	}
	return m
}

func (w Window) minutes() (start, end int) {
	return clockOr(w.Start, 0), clockOr(w.End, 23*60+59)
}

// CheckConflict scans the user's confirmed registrations in ledger order and
// reports the first event on the same date whose window overlaps the
// candidate. The event with id exclude, if any, is skipped.
func CheckConflict(ctx context.Context, r Reader, userID uuid.UUID, candidate Window, exclude *uuid.UUID) (models.ConflictResult, error) {
	booked, err := r.RegisteredEvents(ctx, userID)
	if err != nil {
		return models.ConflictResult{}, fmt.Errorf("load registered events: %w", err)
	}
	cs, ce := candidate.minutes()
	for i := range booked {
		ev := &booked[i]
		if exclude != nil && ev.ID == *exclude {
			continue
		}
		if ev.Date != candidate.Date {
			continue
		}
		es, ee := WindowOf(ev).minutes()
		if Overlaps(cs, ce, es, ee) {
			id := ev.ID
			return models.ConflictResult{Conflict: true, WithTitle: ev.Title, WithID: &id}, nil
		}
	}
	return models.ConflictResult{}, nil
}
