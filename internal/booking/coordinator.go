package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seatsync/backend/internal/models"
)

const (
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 10 * time.Millisecond
	maxRetryBackoff     = time.Second
)

// Config bounds the coordinator's retry loop on write conflicts.
type Config struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Notifier receives committed ledger changes. It runs after commit and its
// failures never affect the result returned to the caller.
type Notifier interface {
	LedgerChanged(ctx context.Context, change models.LedgerChange)
}

// Observer records how atomic sections end and how often they retry.
type Observer interface {
	ConflictRetried(op string)
	SectionFinished(op string, elapsed time.Duration, err error)
}

// Coordinator runs register and cancel as single atomic sections over the
// inventory, ledger and waitlist.
type Coordinator struct {
	store     Store
	cfg       Config
	logger    *zap.Logger
	notifiers []Notifier
	observer  Observer
	now       func() time.Time
}

// NewCoordinator returns a Coordinator over store.
func NewCoordinator(store Store, cfg Config, logger *zap.Logger, notifiers ...Notifier) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:     store,
		cfg:       cfg,
		logger:    logger,
		notifiers: notifiers,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddNotifier registers n for changes committed after this call.
func (c *Coordinator) AddNotifier(n Notifier) {
	c.notifiers = append(c.notifiers, n)
}

// SetObserver installs o to record section outcomes. Call before serving.
func (c *Coordinator) SetObserver(o Observer) {
	c.observer = o
}

// Register books a seat for the user or, when the event is full, appends the
// user to its waitlist. Department is the caller's branch, checked against
// the event's target branches.
func (c *Coordinator) Register(ctx context.Context, userID, eventID uuid.UUID, department string) (*models.RegisterResult, error) {
	var (
		result *models.RegisterResult
		change models.LedgerChange
	)
	err := c.atomic(ctx, "register", func(ctx context.Context, tx Tx) error {
		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.Status == models.EventStatusClosed {
			return ErrEventClosed
		}
		if !ev.EligibleFor(department) {
			return ErrBranchIneligible
		}
		if err := ensureUnbooked(ctx, tx, userID, eventID); err != nil {
			return err
		}
		conflict, err := CheckConflict(ctx, tx, userID, WindowOf(ev), &ev.ID)
		if err != nil {
			return err
		}
		if conflict.Conflict {
			return &ScheduleConflictError{EventID: *conflict.WithID, Title: conflict.WithTitle}
		}

		now := c.now()
		if ev.AvailableSeats > 0 {
			left, err := DecrementSeat(ctx, tx, eventID)
			if err != nil {
				return err
			}
			reg := &models.Registration{
				ID:        uuid.New(),
				UserID:    userID,
				EventID:   eventID,
				Status:    models.RegistrationStatusConfirmed,
				CreatedAt: now,
			}
			if err := tx.InsertRegistration(ctx, reg); err != nil {
				return err
			}
			result = &models.RegisterResult{Status: models.RegisterStatusRegistered, RegistrationID: &reg.ID}
			change = newChange(models.LedgerRegistered, ev, userID, left, now)
			return nil
		}

		entry, err := Enqueue(ctx, tx, eventID, userID, now)
		if err != nil {
			return err
		}
		result = &models.RegisterResult{
			Status:     models.RegisterStatusWaitlisted,
			Position:   entry.Position,
			WaitlistID: &entry.ID,
		}
		change = newChange(models.LedgerWaitlisted, ev, userID, ev.AvailableSeats, now)
		return nil
	})
	if err != nil {
		return nil, c.fail("register", userID, eventID, err)
	}

	c.logger.Debug("registration committed",
		zap.String("event_id", eventID.String()),
		zap.String("user_id", userID.String()),
		zap.String("status", string(result.Status)),
		zap.Int("position", result.Position),
	)
	c.notify(ctx, change)
	return result, nil
}

// Cancel removes the user's registration and promotes the waitlist head into
// the freed seat, or frees the seat when nobody is waiting. A user who is
// only waitlisted is removed from the waitlist.
func (c *Coordinator) Cancel(ctx context.Context, userID, eventID uuid.UUID) (*models.CancelResult, error) {
	var (
		result *models.CancelResult
		change models.LedgerChange
	)
	err := c.atomic(ctx, "cancel", func(ctx context.Context, tx Tx) error {
		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrRegistrationNotFound
			}
			return err
		}
		now := c.now()

		reg, err := tx.FindRegistration(ctx, userID, eventID)
		if err != nil {
			return err
		}
		if reg == nil {
			removed, err := Remove(ctx, tx, userID, eventID)
			if err != nil {
				return err
			}
			if removed == nil {
				return ErrRegistrationNotFound
			}
			result = &models.CancelResult{Status: models.CancelStatusRemovedFromWaitlist}
			change = newChange(models.LedgerRemovedFromWaitlist, ev, userID, ev.AvailableSeats, now)
			return nil
		}

		if err := tx.DeleteRegistration(ctx, reg.ID); err != nil {
			return err
		}
		head, err := DequeueHead(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if head != nil {
			promoted := &models.Registration{
				ID:                   uuid.New(),
				UserID:               head.UserID,
				EventID:              eventID,
				Status:               models.RegistrationStatusConfirmed,
				PromotedFromWaitlist: true,
				CreatedAt:            now,
			}
			if err := tx.InsertRegistration(ctx, promoted); err != nil {
				return err
			}
			result = &models.CancelResult{Status: models.CancelStatusCancelledAndPromote, PromotedUserID: &promoted.UserID}
			change = newChange(models.LedgerPromoted, ev, userID, ev.AvailableSeats, now)
			change.PromotedUserID = &promoted.UserID
			return nil
		}

		left, err := IncrementSeat(ctx, tx, eventID)
		if err != nil {
			return err
		}
		result = &models.CancelResult{Status: models.CancelStatusCancelled}
		change = newChange(models.LedgerCancelled, ev, userID, left, now)
		return nil
	})
	if err != nil {
		return nil, c.fail("cancel", userID, eventID, err)
	}

	c.logger.Debug("cancellation committed",
		zap.String("event_id", eventID.String()),
		zap.String("user_id", userID.String()),
		zap.String("status", string(result.Status)),
	)
	c.notify(ctx, change)
	return result, nil
}

// State returns the user's booking state for the event.
func (c *Coordinator) State(ctx context.Context, userID, eventID uuid.UUID) (models.BookingState, error) {
	none := models.BookingState{Kind: models.BookingNone}
	if _, err := c.store.GetEvent(ctx, eventID); err != nil {
		return none, err
	}
	reg, err := c.store.FindRegistration(ctx, userID, eventID)
	if err != nil {
		return none, err
	}
	if reg != nil {
		return models.BookingState{Kind: models.BookingConfirmed}, nil
	}
	entry, err := c.store.FindWaitlistEntry(ctx, userID, eventID)
	if err != nil {
		return none, err
	}
	if entry != nil {
		return models.BookingState{Kind: models.BookingWaitlisted, Position: entry.Position}, nil
	}
	return none, nil
}

// CheckConflict is the advisory form of the schedule check, run outside any
// atomic section. Register repeats it inside its section.
func (c *Coordinator) CheckConflict(ctx context.Context, userID uuid.UUID, candidate Window, exclude *uuid.UUID) (models.ConflictResult, error) {
	return CheckConflict(ctx, c.store, userID, candidate, exclude)
}

// CheckEventConflict checks the event's own window against the user's
// other bookings.
func (c *Coordinator) CheckEventConflict(ctx context.Context, userID, eventID uuid.UUID) (models.ConflictResult, error) {
	ev, err := c.store.GetEvent(ctx, eventID)
	if err != nil {
		return models.ConflictResult{}, err
	}
	return CheckConflict(ctx, c.store, userID, WindowOf(ev), &ev.ID)
}

// Event returns the event as currently stored.
func (c *Coordinator) Event(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	return c.store.GetEvent(ctx, eventID)
}

// EventRoster returns the confirmed registrations of an event.
func (c *Coordinator) EventRoster(ctx context.Context, eventID uuid.UUID) ([]models.Registration, error) {
	if _, err := c.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return c.store.EventRegistrations(ctx, eventID)
}

// EventWaitlist returns an event's waitlist in position order.
func (c *Coordinator) EventWaitlist(ctx context.Context, eventID uuid.UUID) ([]models.WaitlistEntry, error) {
	if _, err := c.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return c.store.EventWaitlist(ctx, eventID)
}

func (c *Coordinator) UserRegistrations(ctx context.Context, userID uuid.UUID) ([]models.Registration, error) {
	return c.store.UserRegistrations(ctx, userID)
}

func (c *Coordinator) UserWaitlist(ctx context.Context, userID uuid.UUID) ([]models.WaitlistEntry, error) {
	return c.store.UserWaitlist(ctx, userID)
}

func (c *Coordinator) AllRegistrations(ctx context.Context) ([]models.Registration, error) {
	return c.store.AllRegistrations(ctx)
}

func (c *Coordinator) AllWaitlistEntries(ctx context.Context) ([]models.WaitlistEntry, error) {
	return c.store.AllWaitlistEntries(ctx)
}

func ensureUnbooked(ctx context.Context, tx Tx, userID, eventID uuid.UUID) error {
	reg, err := tx.FindRegistration(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if reg != nil {
		return ErrAlreadyRegistered
	}
	entry, err := tx.FindWaitlistEntry(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if entry != nil {
		return ErrAlreadyWaitlisted
	}
	return nil
}

// atomic runs fn through the store, re-running it from scratch on write
// conflicts with exponential backoff until the attempt budget is spent.
func (c *Coordinator) atomic(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) (err error) {
	if c.observer != nil {
		start := time.Now()
		defer func() { c.observer.SectionFinished(op, time.Since(start), err) }()
	}
	backoff := c.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		err = c.store.Atomic(ctx, fn)
		if err == nil || !errors.Is(err, ErrWriteConflict) {
			return err
		}
		if attempt >= c.cfg.MaxAttempts {
			return fmt.Errorf("%w: %s gave up after %d attempts: %v", ErrTransientFailure, op, attempt, err)
		}
		if c.observer != nil {
			c.observer.ConflictRetried(op)
		}
		c.logger.Warn("write conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if backoff *= 2; backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

func (c *Coordinator) fail(op string, userID, eventID uuid.UUID, err error) error {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("event_id", eventID.String()),
		zap.String("user_id", userID.String()),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, ErrInvariantViolation):
		c.logger.Error("seat invariant violated", fields...)
	case errors.Is(err, ErrTransientFailure):
		c.logger.Warn("retry budget exhausted", fields...)
	}
	return err
}

func (c *Coordinator) notify(ctx context.Context, change models.LedgerChange) {
	if len(c.notifiers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, n := range c.notifiers {
		n.LedgerChanged(ctx, change)
	}
}

func newChange(kind models.LedgerChangeKind, ev *models.Event, userID uuid.UUID, available int, at time.Time) models.LedgerChange {
	return models.LedgerChange{
		Kind:           kind,
		EventID:        ev.ID,
		UserID:         userID,
		AvailableSeats: available,
		TotalSeats:     ev.TotalSeats,
		At:             at,
	}
}
