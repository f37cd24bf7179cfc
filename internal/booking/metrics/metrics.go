// Package metrics exposes Prometheus metrics for the booking coordinator.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seatsync/backend/internal/booking"
	"github.com/seatsync/backend/internal/models"
)

// Outcome labels for finished sections.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeTransient = "transient"
	OutcomeInvariant = "invariant"
	OutcomeError     = "error"
)

// Metrics tracks booking throughput, contention and seat levels.
type Metrics struct {
	LedgerChanges   *prometheus.CounterVec
	ConflictRetries *prometheus.CounterVec
	Sections        *prometheus.CounterVec
	SectionDuration *prometheus.HistogramVec
	AvailableSeats  *prometheus.GaugeVec
}

// New creates the booking metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LedgerChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seatsync_ledger_changes_total",
			Help: "Committed booking changes by kind",
		}, []string{"kind"}),
		ConflictRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seatsync_booking_conflict_retries_total",
			Help: "Atomic sections re-run after a write conflict",
		}, []string{"op"}),
		Sections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seatsync_booking_sections_total",
			Help: "Finished register/cancel sections by outcome",
		}, []string{"op", "outcome"}),
		SectionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seatsync_booking_section_duration_seconds",
			Help:    "Duration of register/cancel sections including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		AvailableSeats: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "seatsync_event_available_seats",
			Help: "Seats left per event as of its last committed change",
		}, []string{"event_id"}),
	}
}

// ConflictRetried implements booking.Observer.
func (m *Metrics) ConflictRetried(op string) {
	m.ConflictRetries.WithLabelValues(op).Inc()
}

// SectionFinished implements booking.Observer.
func (m *Metrics) SectionFinished(op string, elapsed time.Duration, err error) {
	m.Sections.WithLabelValues(op, Outcome(err)).Inc()
	m.SectionDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// LedgerChanged implements booking.Notifier.
func (m *Metrics) LedgerChanged(_ context.Context, change models.LedgerChange) {
	m.LedgerChanges.WithLabelValues(string(change.Kind)).Inc()
	m.AvailableSeats.WithLabelValues(change.EventID.String()).Set(float64(change.AvailableSeats))
}

// Outcome maps a section error to its label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, booking.ErrTransientFailure):
		return OutcomeTransient
	case errors.Is(err, booking.ErrInvariantViolation):
		return OutcomeInvariant
	case errors.Is(err, booking.ErrNotFound),
		errors.Is(err, booking.ErrEventClosed),
		errors.Is(err, booking.ErrAlreadyRegistered),
		errors.Is(err, booking.ErrAlreadyWaitlisted),
		errors.Is(err, booking.ErrBranchIneligible),
		errors.Is(err, booking.ErrRegistrationNotFound):
		return OutcomeRejected
	}
	var sc *booking.ScheduleConflictError
	if errors.As(err, &sc) {
		return OutcomeRejected
	}
	return OutcomeError
}
