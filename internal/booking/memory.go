package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/seatsync/backend/internal/models"
)

// MemoryStore is an in-process Store. Atomic sections run one at a time on a
// private copy of the state that replaces the live state only on success.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{events: map[uuid.UUID]models.Event{}}}
}

// PutEvent inserts or replaces an event.
func (s *MemoryStore) PutEvent(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.TargetBranches = append([]string(nil), ev.TargetBranches...)
	s.state.events[ev.ID] = ev
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetEvent(ctx, eventID)
}

func (s *MemoryStore) FindRegistration(ctx context.Context, userID, eventID uuid.UUID) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FindRegistration(ctx, userID, eventID)
}

func (s *MemoryStore) FindWaitlistEntry(ctx context.Context, userID, eventID uuid.UUID) (*models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FindWaitlistEntry(ctx, userID, eventID)
}

func (s *MemoryStore) RegisteredEvents(ctx context.Context, userID uuid.UUID) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RegisteredEvents(ctx, userID)
}

func (s *MemoryStore) EventRegistrations(_ context.Context, eventID uuid.UUID) ([]models.Registration, error) {
	return s.registrations(func(r *models.Registration) bool { return r.EventID == eventID }), nil
}

func (s *MemoryStore) UserRegistrations(_ context.Context, userID uuid.UUID) ([]models.Registration, error) {
	return s.registrations(func(r *models.Registration) bool { return r.UserID == userID }), nil
}

func (s *MemoryStore) AllRegistrations(context.Context) ([]models.Registration, error) {
	return s.registrations(func(*models.Registration) bool { return true }), nil
}

func (s *MemoryStore) EventWaitlist(_ context.Context, eventID uuid.UUID) ([]models.WaitlistEntry, error) {
	out := s.waitlist(func(w *models.WaitlistEntry) bool { return w.EventID == eventID })
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryStore) UserWaitlist(_ context.Context, userID uuid.UUID) ([]models.WaitlistEntry, error) {
	return s.waitlist(func(w *models.WaitlistEntry) bool { return w.UserID == userID }), nil
}

func (s *MemoryStore) AllWaitlistEntries(context.Context) ([]models.WaitlistEntry, error) {
	return s.waitlist(func(*models.WaitlistEntry) bool { return true }), nil
}

func (s *MemoryStore) registrations(keep func(*models.Registration) bool) []models.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Registration{}
	for i := range s.state.registrations {
		if keep(&s.state.registrations[i]) {
			out = append(out, s.state.registrations[i])
		}
	}
	return out
}

func (s *MemoryStore) waitlist(keep func(*models.WaitlistEntry) bool) []models.WaitlistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.WaitlistEntry{}
	for i := range s.state.waitlist {
		if keep(&s.state.waitlist[i]) {
			out = append(out, s.state.waitlist[i])
		}
	}
	return out
}

// memState holds one version of the data. Registrations are kept in ledger
// order. A *memState is also the Tx handed to atomic sections.
type memState struct {
	events        map[uuid.UUID]models.Event
	registrations []models.Registration
	waitlist      []models.WaitlistEntry
}

func (m *memState) clone() *memState {
	c := &memState{
		events:        make(map[uuid.UUID]models.Event, len(m.events)),
		registrations: append([]models.Registration(nil), m.registrations...),
		waitlist:      append([]models.WaitlistEntry(nil), m.waitlist...),
	}
	for id, ev := range m.events {
		c.events[id] = ev
	}
	return c
}

func (m *memState) GetEvent(_ context.Context, eventID uuid.UUID) (*models.Event, error) {
	ev, ok := m.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return &ev, nil
}

func (m *memState) FindRegistration(_ context.Context, userID, eventID uuid.UUID) (*models.Registration, error) {
	for _, r := range m.registrations {
		if r.UserID == userID && r.EventID == eventID {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memState) FindWaitlistEntry(_ context.Context, userID, eventID uuid.UUID) (*models.WaitlistEntry, error) {
	for _, w := range m.waitlist {
		if w.UserID == userID && w.EventID == eventID {
			return &w, nil
		}
	}
	return nil, nil
}

func (m *memState) RegisteredEvents(_ context.Context, userID uuid.UUID) ([]models.Event, error) {
	var out []models.Event
	for _, r := range m.registrations {
		if r.UserID != userID {
			continue
		}
		if ev, ok := m.events[r.EventID]; ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memState) SetAvailableSeats(_ context.Context, eventID uuid.UUID, seats int) error {
	ev, ok := m.events[eventID]
	if !ok {
		return ErrNotFound
	}
	if seats < 0 || seats > ev.TotalSeats {
		return fmt.Errorf("%w: available seats %d outside 0..%d", ErrInvariantViolation, seats, ev.TotalSeats)
	}
	ev.AvailableSeats = seats
	m.events[eventID] = ev
	return nil
}

func (m *memState) InsertRegistration(_ context.Context, reg *models.Registration) error {
	for _, r := range m.registrations {
		if r.UserID == reg.UserID && r.EventID == reg.EventID {
			return fmt.Errorf("%w: duplicate registration", ErrWriteConflict)
		}
	}
	m.registrations = append(m.registrations, *reg)
	return nil
}

func (m *memState) DeleteRegistration(_ context.Context, id uuid.UUID) error {
	for i, r := range m.registrations {
		if r.ID == id {
			m.registrations = append(m.registrations[:i:i], m.registrations[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memState) InsertWaitlistEntry(_ context.Context, entry *models.WaitlistEntry) error {
	for _, w := range m.waitlist {
		if w.EventID != entry.EventID {
			continue
		}
		if w.UserID == entry.UserID || w.Position == entry.Position {
			return fmt.Errorf("%w: duplicate waitlist entry", ErrWriteConflict)
		}
	}
	m.waitlist = append(m.waitlist, *entry)
	return nil
}

func (m *memState) DeleteWaitlistEntry(_ context.Context, id uuid.UUID) error {
	for i, w := range m.waitlist {
		if w.ID == id {
			m.waitlist = append(m.waitlist[:i:i], m.waitlist[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memState) MaxWaitlistPosition(_ context.Context, eventID uuid.UUID) (int, error) {
	last := 0
	for _, w := range m.waitlist {
		if w.EventID == eventID && w.Position > last {
			last = w.Position
		}
	}
	return last, nil
}

func (m *memState) WaitlistHead(_ context.Context, eventID uuid.UUID) (*models.WaitlistEntry, error) {
	var head *models.WaitlistEntry
	for i := range m.waitlist {
		w := m.waitlist[i]
		if w.EventID == eventID && (head == nil || w.Position < head.Position) {
			head = &w
		}
	}
	return head, nil
}
