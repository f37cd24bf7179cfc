package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatsync/backend/internal/models"
	"github.com/seatsync/backend/pkg/queue"
)

type fakeRefreshQueue struct {
	got []queue.AnalyticsRefreshPayload
	err error
}

func (f *fakeRefreshQueue) EnqueueAnalyticsRefresh(_ context.Context, p queue.AnalyticsRefreshPayload) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.got = append(f.got, p)
	return true, nil
}

func TestRefreshNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("ledger change", func(t *testing.T) {
		q := &fakeRefreshQueue{}
		id := uuid.New()
		NewRefreshNotifier(q, nil).LedgerChanged(ctx, models.LedgerChange{EventID: id, Kind: models.LedgerPromoted})
		require.Len(t, q.got, 1)
		assert.Equal(t, id, q.got[0].EventID)
		assert.Equal(t, string(models.LedgerPromoted), q.got[0].Reason)
	})

	t.Run("event edit", func(t *testing.T) {
		q := &fakeRefreshQueue{}
		ev := event("Now mandatory", 20, true)
		NewRefreshNotifier(q, nil).EventChanged(ctx, &ev)
		require.Len(t, q.got, 1)
		assert.Equal(t, ev.ID, q.got[0].EventID)
		assert.Equal(t, ReasonEventChanged, q.got[0].Reason)
	})

	t.Run("new student", func(t *testing.T) {
		q := &fakeRefreshQueue{}
		n := NewRefreshNotifier(q, nil)
		n.UserRegistered(ctx, models.UserPublic{ID: uuid.New(), Role: models.RoleStudent})
		n.UserRegistered(ctx, models.UserPublic{ID: uuid.New(), Role: models.RoleAdmin})
		require.Len(t, q.got, 1)
		assert.Equal(t, ReasonUserRegistered, q.got[0].Reason)
	})

	t.Run("queue failure is swallowed", func(t *testing.T) {
		q := &fakeRefreshQueue{err: errors.New("redis down")}
		ev := event("Any", 5, false)
		assert.NotPanics(t, func() { NewRefreshNotifier(q, nil).EventChanged(ctx, &ev) })
	})
}
