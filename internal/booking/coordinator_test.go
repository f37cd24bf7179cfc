package booking

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/seatsync/backend/internal/models"
)

// flakyStore fails the first n atomic sections with a write conflict.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return ErrWriteConflict
	}
	return f.MemoryStore.Atomic(ctx, fn)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []models.LedgerChange
}

func (r *recordingNotifier) LedgerChanged(_ context.Context, c models.LedgerChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recordingNotifier) kinds() []models.LedgerChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.LedgerChangeKind, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Kind
	}
	return out
}

type CoordinatorSuite struct {
	suite.Suite
	ctx      context.Context
	store    *MemoryStore
	notifier *recordingNotifier
	coord    *Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore()
	s.notifier = &recordingNotifier{}
	s.coord = NewCoordinator(s.store, Config{RetryBackoff: time.Millisecond}, nil, s.notifier)
}

func (s *CoordinatorSuite) addEvent(ev models.Event) models.Event {
	s.store.PutEvent(ev)
	return ev
}

// assertSeats checks total - available == confirmed registrations.
func (s *CoordinatorSuite) assertSeats(eventID uuid.UUID, wantAvailable int) {
	ev, err := s.store.GetEvent(s.ctx, eventID)
	s.Require().NoError(err)
	roster, err := s.store.EventRegistrations(s.ctx, eventID)
	s.Require().NoError(err)
	s.Equal(wantAvailable, ev.AvailableSeats)
	s.Equal(ev.TotalSeats-ev.AvailableSeats, len(roster))
}

func (s *CoordinatorSuite) TestRegister() {
	s.Run("seat available confirms and decrements", func() {
		ev := s.addEvent(newEvent("Intro to Go", "2025-05-01", strp("10:00"), strp("12:00"), 2))
		user := uuid.New()

		res, err := s.coord.Register(s.ctx, user, ev.ID, "CSE")
		s.Require().NoError(err)
		s.Equal(models.RegisterStatusRegistered, res.Status)
		s.NotNil(res.RegistrationID)
		s.assertSeats(ev.ID, 1)

		state, err := s.coord.State(s.ctx, user, ev.ID)
		s.Require().NoError(err)
		s.Equal(models.BookingConfirmed, state.Kind)
	})

	s.Run("full event waitlists in arrival order", func() {
		ev := s.addEvent(newEvent("Packed", "2025-05-02", nil, nil, 1))
		_, err := s.coord.Register(s.ctx, uuid.New(), ev.ID, "CSE")
		s.Require().NoError(err)

		for i := 1; i <= 3; i++ {
			u := uuid.New()
			res, err := s.coord.Register(s.ctx, u, ev.ID, "IT")
			s.Require().NoError(err)
			s.Equal(models.RegisterStatusWaitlisted, res.Status)
			s.Equal(i, res.Position)

			state, err := s.coord.State(s.ctx, u, ev.ID)
			s.Require().NoError(err)
			s.Equal(models.BookingWaitlisted, state.Kind)
			s.Equal(i, state.Position)
		}
		s.assertSeats(ev.ID, 0)
	})

	s.Run("second register is rejected", func() {
		ev := s.addEvent(newEvent("Once", "2025-05-03", nil, nil, 5))
		user := uuid.New()
		_, err := s.coord.Register(s.ctx, user, ev.ID, "CSE")
		s.Require().NoError(err)

		_, err = s.coord.Register(s.ctx, user, ev.ID, "CSE")
		s.ErrorIs(err, ErrAlreadyRegistered)
		s.assertSeats(ev.ID, 4)
	})

	s.Run("waitlisted user cannot queue twice", func() {
		ev := s.addEvent(newEvent("Queue once", "2025-05-04", nil, nil, 1))
		_, err := s.coord.Register(s.ctx, uuid.New(), ev.ID, "CSE")
		s.Require().NoError(err)
		user := uuid.New()
		_, err = s.coord.Register(s.ctx, user, ev.ID, "CSE")
		s.Require().NoError(err)

		_, err = s.coord.Register(s.ctx, user, ev.ID, "CSE")
		s.ErrorIs(err, ErrAlreadyWaitlisted)
		list, err := s.coord.EventWaitlist(s.ctx, ev.ID)
		s.Require().NoError(err)
		s.Len(list, 1)
	})

	s.Run("unknown event", func() {
		_, err := s.coord.Register(s.ctx, uuid.New(), uuid.New(), "CSE")
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("closed event", func() {
		ev := newEvent("Closed", "2025-05-05", nil, nil, 5)
		ev.Status = models.EventStatusClosed
		s.addEvent(ev)
		_, err := s.coord.Register(s.ctx, uuid.New(), ev.ID, "CSE")
		s.ErrorIs(err, ErrEventClosed)
		s.assertSeats(ev.ID, 5)
	})

	s.Run("branch restriction", func() {
		ev := newEvent("ECE only", "2025-05-06", nil, nil, 5)
		ev.TargetBranches = []string{"ECE", "EEE"}
		s.addEvent(ev)

		_, err := s.coord.Register(s.ctx, uuid.New(), ev.ID, "CSE")
		s.ErrorIs(err, ErrBranchIneligible)

		res, err := s.coord.Register(s.ctx, uuid.New(), ev.ID, "EEE")
		s.Require().NoError(err)
		s.Equal(models.RegisterStatusRegistered, res.Status)
	})

	s.Run("schedule conflict names the booked event", func() {
		user := uuid.New()
		first := s.addEvent(newEvent("Morning Lab", "2025-05-07", strp("10:00"), strp("11:00"), 5))
		clash := s.addEvent(newEvent("Overlap Talk", "2025-05-07", strp("10:30"), strp("11:30"), 5))
		after := s.addEvent(newEvent("Next Slot", "2025-05-07", strp("11:00"), strp("12:00"), 5))

		_, err := s.coord.Register(s.ctx, user, first.ID, "CSE")
		s.Require().NoError(err)

		_, err = s.coord.Register(s.ctx, user, clash.ID, "CSE")
		var conflict *ScheduleConflictError
		s.Require().ErrorAs(err, &conflict)
		s.Equal("Morning Lab", conflict.Title)
		s.Equal(first.ID, conflict.EventID)
		s.assertSeats(clash.ID, 5)

		res, err := s.coord.Register(s.ctx, user, after.ID, "CSE")
		s.Require().NoError(err)
		s.Equal(models.RegisterStatusRegistered, res.Status)
	})
}

func (s *CoordinatorSuite) TestCancel() {
	s.Run("cancel with empty waitlist frees the seat", func() {
		ev := s.addEvent(newEvent("Solo", "2025-06-01", nil, nil, 3))
		user := uuid.New()
		_, err := s.coord.Register(s.ctx, user, ev.ID, "CSE")
		s.Require().NoError(err)

		res, err := s.coord.Cancel(s.ctx, user, ev.ID)
		s.Require().NoError(err)
		s.Equal(models.CancelStatusCancelled, res.Status)
		s.Nil(res.PromotedUserID)
		s.assertSeats(ev.ID, 3)

		state, err := s.coord.State(s.ctx, user, ev.ID)
		s.Require().NoError(err)
		s.Equal(models.BookingNone, state.Kind)
	})

	s.Run("cancel promotes the waitlist head", func() {
		ev := s.addEvent(newEvent("One seat", "2025-06-02", nil, nil, 1))
		holder, first, second := uuid.New(), uuid.New(), uuid.New()
		for _, u := range []uuid.UUID{holder, first, second} {
			_, err := s.coord.Register(s.ctx, u, ev.ID, "CSE")
			s.Require().NoError(err)
		}

		res, err := s.coord.Cancel(s.ctx, holder, ev.ID)
		s.Require().NoError(err)
		s.Equal(models.CancelStatusCancelledAndPromote, res.Status)
		s.Require().NotNil(res.PromotedUserID)
		s.Equal(first, *res.PromotedUserID)
		s.assertSeats(ev.ID, 0)

		roster, err := s.coord.EventRoster(s.ctx, ev.ID)
		s.Require().NoError(err)
		s.Require().Len(roster, 1)
		s.Equal(first, roster[0].UserID)
		s.True(roster[0].PromotedFromWaitlist)

		state, err := s.coord.State(s.ctx, second, ev.ID)
		s.Require().NoError(err)
		s.Equal(models.BookingWaitlisted, state.Kind)
		s.Equal(2, state.Position)
	})

	s.Run("waitlisted user leaves the queue", func() {
		ev := s.addEvent(newEvent("Queue exit", "2025-06-03", nil, nil, 1))
		holder, waiting := uuid.New(), uuid.New()
		_, err := s.coord.Register(s.ctx, holder, ev.ID, "CSE")
		s.Require().NoError(err)
		_, err = s.coord.Register(s.ctx, waiting, ev.ID, "CSE")
		s.Require().NoError(err)

		res, err := s.coord.Cancel(s.ctx, waiting, ev.ID)
		s.Require().NoError(err)
		s.Equal(models.CancelStatusRemovedFromWaitlist, res.Status)
		s.assertSeats(ev.ID, 0)

		list, err := s.coord.EventWaitlist(s.ctx, ev.ID)
		s.Require().NoError(err)
		s.Empty(list)
	})

	s.Run("nothing to cancel", func() {
		ev := s.addEvent(newEvent("Nobody", "2025-06-04", nil, nil, 1))
		_, err := s.coord.Cancel(s.ctx, uuid.New(), ev.ID)
		s.ErrorIs(err, ErrRegistrationNotFound)

		_, err = s.coord.Cancel(s.ctx, uuid.New(), uuid.New())
		s.ErrorIs(err, ErrRegistrationNotFound)
	})

	s.Run("closing keeps existing bookings cancellable", func() {
		ev := s.addEvent(newEvent("Closing soon", "2025-06-06", nil, nil, 1))
		holder, first, second := uuid.New(), uuid.New(), uuid.New()
		for _, u := range []uuid.UUID{holder, first, second} {
			_, err := s.coord.Register(s.ctx, u, ev.ID, "CSE")
			s.Require().NoError(err)
		}
		current, err := s.store.GetEvent(s.ctx, ev.ID)
		s.Require().NoError(err)
		current.Status = models.EventStatusClosed
		s.store.PutEvent(*current)

		res, err := s.coord.Cancel(s.ctx, holder, ev.ID)
		s.Require().NoError(err)
		s.Equal(models.CancelStatusCancelledAndPromote, res.Status)
		s.Require().NotNil(res.PromotedUserID)
		s.Equal(first, *res.PromotedUserID)
		s.assertSeats(ev.ID, 0)

		res, err = s.coord.Cancel(s.ctx, second, ev.ID)
		s.Require().NoError(err)
		s.Equal(models.CancelStatusRemovedFromWaitlist, res.Status)
		list, err := s.coord.EventWaitlist(s.ctx, ev.ID)
		s.Require().NoError(err)
		s.Empty(list)

		_, err = s.coord.Register(s.ctx, second, ev.ID, "CSE")
		s.ErrorIs(err, ErrEventClosed)
	})

	s.Run("cancel then register again", func() {
		ev := s.addEvent(newEvent("Rejoin", "2025-06-05", nil, nil, 1))
		user := uuid.New()
		_, err := s.coord.Register(s.ctx, user, ev.ID, "CSE")
		s.Require().NoError(err)
		_, err = s.coord.Cancel(s.ctx, user, ev.ID)
		s.Require().NoError(err)

		res, err := s.coord.Register(s.ctx, user, ev.ID, "CSE")
		s.Require().NoError(err)
		s.Equal(models.RegisterStatusRegistered, res.Status)
		s.assertSeats(ev.ID, 0)
	})
}

func (s *CoordinatorSuite) TestNotifiers() {
	ev := s.addEvent(newEvent("Feed", "2025-06-10", nil, nil, 1))
	a, b := uuid.New(), uuid.New()

	_, err := s.coord.Register(s.ctx, a, ev.ID, "CSE")
	s.Require().NoError(err)
	_, err = s.coord.Register(s.ctx, b, ev.ID, "CSE")
	s.Require().NoError(err)
	_, err = s.coord.Register(s.ctx, b, ev.ID, "CSE")
	s.Require().Error(err)
	_, err = s.coord.Cancel(s.ctx, a, ev.ID)
	s.Require().NoError(err)
	_, err = s.coord.Cancel(s.ctx, b, ev.ID)
	s.Require().NoError(err)

	s.Equal([]models.LedgerChangeKind{
		models.LedgerRegistered,
		models.LedgerWaitlisted,
		models.LedgerPromoted,
		models.LedgerCancelled,
	}, s.notifier.kinds())

	last := s.notifier.changes[len(s.notifier.changes)-1]
	s.Equal(1, last.AvailableSeats)
	s.Equal(1, last.TotalSeats)
}

func (s *CoordinatorSuite) TestRetry() {
	s.Run("write conflicts are retried", func() {
		flaky := &flakyStore{MemoryStore: s.store, failures: 2}
		coord := NewCoordinator(flaky, Config{MaxAttempts: 3, RetryBackoff: time.Millisecond}, nil)
		ev := s.addEvent(newEvent("Retry", "2025-07-01", nil, nil, 1))

		res, err := coord.Register(s.ctx, uuid.New(), ev.ID, "CSE")
		s.Require().NoError(err)
		s.Equal(models.RegisterStatusRegistered, res.Status)
		s.Equal(3, flaky.calls)
	})

	s.Run("exhausted budget is transient and writes nothing", func() {
		flaky := &flakyStore{MemoryStore: s.store, failures: 10}
		coord := NewCoordinator(flaky, Config{MaxAttempts: 3, RetryBackoff: time.Millisecond}, nil)
		ev := s.addEvent(newEvent("Give up", "2025-07-02", nil, nil, 1))

		_, err := coord.Register(s.ctx, uuid.New(), ev.ID, "CSE")
		s.ErrorIs(err, ErrTransientFailure)
		s.Equal(3, flaky.calls)
		s.assertSeats(ev.ID, 1)
	})

	s.Run("domain errors are not retried", func() {
		flaky := &flakyStore{MemoryStore: s.store}
		coord := NewCoordinator(flaky, Config{MaxAttempts: 3, RetryBackoff: time.Millisecond}, nil)

		_, err := coord.Register(s.ctx, uuid.New(), uuid.New(), "CSE")
		s.ErrorIs(err, ErrNotFound)
		s.Equal(1, flaky.calls)
	})
}

func (s *CoordinatorSuite) TestConcurrentLastSeat() {
	ev := s.addEvent(newEvent("Last seat", "2025-08-01", nil, nil, 1))
	const n = 32

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*models.RegisterResult
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.coord.Register(s.ctx, uuid.New(), ev.ID, "CSE")
			if err != nil {
				s.Fail("register failed", err.Error())
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Require().Len(results, n)
	var positions []int
	registered := 0
	for _, r := range results {
		switch r.Status {
		case models.RegisterStatusRegistered:
			registered++
		case models.RegisterStatusWaitlisted:
			positions = append(positions, r.Position)
		}
	}
	s.Equal(1, registered)
	sort.Ints(positions)
	for i, p := range positions {
		s.Equal(i+1, p)
	}
	s.assertSeats(ev.ID, 0)
}

func (s *CoordinatorSuite) TestSeatInvariantUnderRandomTraffic() {
	ev := s.addEvent(newEvent("Busy", "2025-08-02", nil, nil, 4))
	users := make([]uuid.UUID, 10)
	for i := range users {
		users[i] = uuid.New()
	}
	rng := rand.New(rand.NewSource(7))

	for step := 0; step < 300; step++ {
		u := users[rng.Intn(len(users))]
		var err error
		if rng.Intn(2) == 0 {
			_, err = s.coord.Register(s.ctx, u, ev.ID, "CSE")
		} else {
			_, err = s.coord.Cancel(s.ctx, u, ev.ID)
		}
		if err != nil && !errors.Is(err, ErrAlreadyRegistered) &&
			!errors.Is(err, ErrAlreadyWaitlisted) && !errors.Is(err, ErrRegistrationNotFound) {
			s.FailNow("unexpected error", err.Error())
		}

		cur, err := s.store.GetEvent(s.ctx, ev.ID)
		s.Require().NoError(err)
		roster, err := s.store.EventRegistrations(s.ctx, ev.ID)
		s.Require().NoError(err)
		waiting, err := s.store.EventWaitlist(s.ctx, ev.ID)
		s.Require().NoError(err)

		s.Require().Equal(cur.TotalSeats-cur.AvailableSeats, len(roster))
		s.Require().True(cur.AvailableSeats >= 0 && cur.AvailableSeats <= cur.TotalSeats)
		if len(waiting) > 0 {
			s.Require().Zero(cur.AvailableSeats, "waitlist is non-empty while seats are free")
		}

		seen := map[uuid.UUID]bool{}
		for _, r := range roster {
			s.Require().False(seen[r.UserID])
			seen[r.UserID] = true
		}
		for _, w := range waiting {
			s.Require().False(seen[w.UserID], "user both registered and waitlisted")
			seen[w.UserID] = true
		}
	}
}
