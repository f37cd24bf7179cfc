// Package analytics derives read-only rollups from the event catalog and the
// booking ledger: seat utilization and demand per event, and mandatory-event
// compliance per student.
package analytics

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seatsync/backend/internal/events"
	"github.com/seatsync/backend/internal/models"
)

// DemandLevel buckets an event's utilization.
type DemandLevel string

const (
	DemandHigh   DemandLevel = "High"
	DemandMedium DemandLevel = "Medium"
	DemandLow    DemandLevel = "Low"
)

// EventAnalytics is the utilization rollup of one event.
type EventAnalytics struct {
	EventID            uuid.UUID        `json:"event_id"`
	Title              string           `json:"title"`
	Kind               models.EventKind `json:"type"`
	Date               string           `json:"date"`
	TotalSeats         int              `json:"total_seats"`
	EnrolledCount      int              `json:"enrolled_count"`
	WaitlistCount      int              `json:"waitlist_count"`
	UtilizationPercent int              `json:"utilization_percent"`
	DemandLevel        DemandLevel      `json:"demand_level"`
	IsMandatory        bool             `json:"is_mandatory"`
}

// ComplianceStatus is one student's progress on the mandatory events of
// their department.
type ComplianceStatus struct {
	UserID             uuid.UUID `json:"user_id"`
	FullName           string    `json:"full_name"`
	RegNo              string    `json:"reg_no"`
	Department         string    `json:"department"`
	TotalMandatory     int       `json:"total_mandatory"`
	CompletedMandatory int       `json:"completed_mandatory"`
	PendingMandatory   int       `json:"pending_mandatory"`
	CompliancePercent  int       `json:"compliance_percent"`
	IsCompliant        bool      `json:"is_compliant"`
	PendingEvents      []string  `json:"pending_events"`
}

// MandatoryItem pairs a mandatory event with whether the student holds a seat.
type MandatoryItem struct {
	Event     models.Event `json:"event"`
	Completed bool         `json:"completed"`
}

// StudentCompliance is the compliance view of the calling student.
type StudentCompliance struct {
	Mandatory         []MandatoryItem `json:"mandatory"`
	CompliancePercent int             `json:"compliance_percent"`
	IsCompliant       bool            `json:"is_compliant"`
}

func percent(part, whole int) int {
	return int(math.Round(float64(part) / float64(whole) * 100))
}

func demandFor(utilization, waitlisted int) DemandLevel {
	switch {
	case utilization >= 80 || waitlisted > 0:
		return DemandHigh
	case utilization >= 50:
		return DemandMedium
	}
	return DemandLow
}

// BuildEventAnalytics counts confirmed and waitlisted bookings per event.
func BuildEventAnalytics(evs []models.Event, regs []models.Registration, waitlist []models.WaitlistEntry) []EventAnalytics {
	enrolled := map[uuid.UUID]int{}
	for _, r := range regs {
		enrolled[r.EventID]++
	}
	waiting := map[uuid.UUID]int{}
	for _, w := range waitlist {
		waiting[w.EventID]++
	}

	out := make([]EventAnalytics, 0, len(evs))
	for _, ev := range evs {
		util := 0
		if ev.TotalSeats > 0 {
			util = percent(enrolled[ev.ID], ev.TotalSeats)
		}
		out = append(out, EventAnalytics{
			EventID:            ev.ID,
			Title:              ev.Title,
			Kind:               ev.Kind,
			Date:               ev.Date,
			TotalSeats:         ev.TotalSeats,
			EnrolledCount:      enrolled[ev.ID],
			WaitlistCount:      waiting[ev.ID],
			UtilizationPercent: util,
			DemandLevel:        demandFor(util, waiting[ev.ID]),
			IsMandatory:        ev.IsMandatory,
		})
	}
	return out
}

func mandatoryFor(evs []models.Event, department string) []models.Event {
	var out []models.Event
	for _, ev := range evs {
		if ev.IsMandatory && ev.EligibleFor(department) {
			out = append(out, ev)
		}
	}
	return out
}

// BuildCompliance reports every student's mandatory-event progress. Users
// that are not students are skipped. A student with no mandatory events is
// fully compliant.
func BuildCompliance(users []models.UserPublic, evs []models.Event, regs []models.Registration) []ComplianceStatus {
	booked := map[uuid.UUID]map[uuid.UUID]bool{}
	for _, r := range regs {
		if booked[r.UserID] == nil {
			booked[r.UserID] = map[uuid.UUID]bool{}
		}
		booked[r.UserID][r.EventID] = true
	}

	out := []ComplianceStatus{}
	for _, u := range users {
		if u.Role != models.RoleStudent {
			continue
		}
		relevant := mandatoryFor(evs, u.Department)
		st := ComplianceStatus{
			UserID:         u.ID,
			FullName:       u.FullName,
			RegNo:          u.RegNo,
			Department:     u.Department,
			TotalMandatory: len(relevant),
			PendingEvents:  []string{},
		}
		for _, ev := range relevant {
			if booked[u.ID][ev.ID] {
				st.CompletedMandatory++
			} else {
				st.PendingEvents = append(st.PendingEvents, ev.Title)
			}
		}
		st.PendingMandatory = st.TotalMandatory - st.CompletedMandatory
		st.CompliancePercent = 100
		if st.TotalMandatory > 0 {
			st.CompliancePercent = percent(st.CompletedMandatory, st.TotalMandatory)
		}
		st.IsCompliant = st.CompletedMandatory >= st.TotalMandatory
		out = append(out, st)
	}
	return out
}

// BuildStudentCompliance reports one student's mandatory events.
func BuildStudentCompliance(department string, evs []models.Event, regs []models.Registration) *StudentCompliance {
	mine := map[uuid.UUID]bool{}
	for _, r := range regs {
		mine[r.EventID] = true
	}
	sc := &StudentCompliance{Mandatory: []MandatoryItem{}, CompliancePercent: 100}
	done := 0
	for _, ev := range mandatoryFor(evs, department) {
		sc.Mandatory = append(sc.Mandatory, MandatoryItem{Event: ev, Completed: mine[ev.ID]})
		if mine[ev.ID] {
			done++
		}
	}
	if n := len(sc.Mandatory); n > 0 {
		sc.CompliancePercent = percent(done, n)
	}
	sc.IsCompliant = done >= len(sc.Mandatory)
	return sc
}

// EventLister lists events.
type EventLister interface {
	List(ctx context.Context, f events.Filter) ([]models.Event, error)
}

// Ledger is the booking data analytics reads.
type Ledger interface {
	AllRegistrations(ctx context.Context) ([]models.Registration, error)
	AllWaitlistEntries(ctx context.Context) ([]models.WaitlistEntry, error)
	UserRegistrations(ctx context.Context, userID uuid.UUID) ([]models.Registration, error)
}

// UserLister lists users.
type UserLister interface {
	List(ctx context.Context) ([]models.UserPublic, error)
}

// Cache key names.
const (
	keyEvents     = "seatsync:analytics:events"
	keyCompliance = "seatsync:analytics:compliance"
)

// Service computes rollups, serving them from cache when one is configured.
type Service struct {
	events EventLister
	ledger Ledger
	users  UserLister
	cache  Cache
	logger *zap.Logger
}

// NewService creates an analytics service. cache may be nil.
func NewService(evs EventLister, ledger Ledger, users UserLister, cache Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{events: evs, ledger: ledger, users: users, cache: cache, logger: logger}
}

// EventAnalytics returns the per-event rollup.
func (s *Service) EventAnalytics(ctx context.Context) ([]EventAnalytics, error) {
	var out []EventAnalytics
	if s.cached(ctx, keyEvents, &out) {
		return out, nil
	}
	out, err := s.computeEvents(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, keyEvents, out)
	return out, nil
}

// Compliance returns every student's compliance.
func (s *Service) Compliance(ctx context.Context) ([]ComplianceStatus, error) {
	var out []ComplianceStatus
	if s.cached(ctx, keyCompliance, &out) {
		return out, nil
	}
	out, err := s.computeCompliance(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, keyCompliance, out)
	return out, nil
}

// StudentCompliance returns one student's compliance. It is never cached.
func (s *Service) StudentCompliance(ctx context.Context, userID uuid.UUID, department string) (*StudentCompliance, error) {
	evs, err := s.events.List(ctx, events.Filter{Department: department})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	regs, err := s.ledger.UserRegistrations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return BuildStudentCompliance(department, evs, regs), nil
}

// Refresh recomputes every cached rollup.
func (s *Service) Refresh(ctx context.Context) error {
	evs, err := s.computeEvents(ctx)
	if err != nil {
		return err
	}
	comp, err := s.computeCompliance(ctx)
	if err != nil {
		return err
	}
	s.store(ctx, keyEvents, evs)
	s.store(ctx, keyCompliance, comp)
	s.logger.Debug("analytics refreshed", zap.Int("events", len(evs)), zap.Int("students", len(comp)))
	return nil
}

func (s *Service) computeEvents(ctx context.Context) ([]EventAnalytics, error) {
	var (
		evs  []models.Event
		regs []models.Registration
		wl   []models.WaitlistEntry
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if evs, err = s.events.List(ctx, events.Filter{}); err != nil {
			err = fmt.Errorf("list events: %w", err)
		}
		return err
	})
	g.Go(func() (err error) {
		if regs, err = s.ledger.AllRegistrations(ctx); err != nil {
			err = fmt.Errorf("list registrations: %w", err)
		}
		return err
	})
	g.Go(func() (err error) {
		if wl, err = s.ledger.AllWaitlistEntries(ctx); err != nil {
			err = fmt.Errorf("list waitlist: %w", err)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return BuildEventAnalytics(evs, regs, wl), nil
}

func (s *Service) computeCompliance(ctx context.Context) ([]ComplianceStatus, error) {
	var (
		users []models.UserPublic
		evs   []models.Event
		regs  []models.Registration
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if users, err = s.users.List(ctx); err != nil {
			err = fmt.Errorf("list users: %w", err)
		}
		return err
	})
	g.Go(func() (err error) {
		if evs, err = s.events.List(ctx, events.Filter{}); err != nil {
			err = fmt.Errorf("list events: %w", err)
		}
		return err
	})
	g.Go(func() (err error) {
		if regs, err = s.ledger.AllRegistrations(ctx); err != nil {
			err = fmt.Errorf("list registrations: %w", err)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return BuildCompliance(users, evs, regs), nil
}

func (s *Service) cached(ctx context.Context, key string, dst interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.logger.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (s *Service) store(ctx context.Context, key string, v interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, v); err != nil {
		s.logger.Warn("analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
}
