package analytics

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seatsync/backend/internal/models"
	"github.com/seatsync/backend/pkg/queue"
)

// RefreshEnqueuer schedules a background analytics refresh.
type RefreshEnqueuer interface {
	EnqueueAnalyticsRefresh(ctx context.Context, payload queue.AnalyticsRefreshPayload) (bool, error)
}

// RefreshNotifier turns committed booking changes, catalog edits and new
// accounts into refresh jobs. It implements booking.Notifier,
// events.ChangeNotifier and auth.RegistrationNotifier.
type RefreshNotifier struct {
	queue  RefreshEnqueuer
	logger *zap.Logger
}

// NewRefreshNotifier creates a notifier backed by the job queue.
func NewRefreshNotifier(q RefreshEnqueuer, logger *zap.Logger) *RefreshNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshNotifier{queue: q, logger: logger}
}

// LedgerChanged enqueues a refresh for a committed booking.
func (n *RefreshNotifier) LedgerChanged(ctx context.Context, change models.LedgerChange) {
	n.enqueue(ctx, change.EventID, string(change.Kind))
}

// EventChanged enqueues a refresh for a created or edited event.
func (n *RefreshNotifier) EventChanged(ctx context.Context, ev *models.Event) {
	n.enqueue(ctx, ev.ID, ReasonEventChanged)
}

// UserRegistered enqueues a refresh so new students show up in compliance.
func (n *RefreshNotifier) UserRegistered(ctx context.Context, u models.UserPublic) {
	if u.Role != models.RoleStudent {
		return
	}
	n.enqueue(ctx, uuid.Nil, ReasonUserRegistered)
}

// Refresh reasons for changes that are not ledger changes.
const (
	ReasonEventChanged   = "event_changed"
	ReasonUserRegistered = "user_registered"
)

// enqueue logs and drops failures; the rollups also expire on their own.
func (n *RefreshNotifier) enqueue(ctx context.Context, eventID uuid.UUID, reason string) {
	_, err := n.queue.EnqueueAnalyticsRefresh(ctx, queue.AnalyticsRefreshPayload{EventID: eventID, Reason: reason})
	if err != nil {
		n.logger.Warn("enqueue analytics refresh failed",
			zap.String("event_id", eventID.String()),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}
