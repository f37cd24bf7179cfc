package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatsync/backend/internal/models"
)

func testClient(eventID, userID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), EventID: eventID, UserID: userID, send: make(chan WSMessage, 8)}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, uuid.UUID, string, []byte) error {
	f.calls++
	return errors.New("redis down")
}

func TestHubLedgerChanged(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	eventID, other := uuid.New(), uuid.New()
	promotedUser := uuid.New()

	watcher := testClient(eventID, uuid.New())
	promoted := testClient(eventID, promotedUser)
	lobby := testClient(Lobby, uuid.New())
	elsewhere := testClient(other, uuid.New())
	for _, c := range []*Client{watcher, promoted, lobby, elsewhere} {
		hub.Register(c)
	}
	assert.Equal(t, 2, hub.Watchers(eventID))

	hub.LedgerChanged(context.Background(), models.LedgerChange{
		Kind:           models.LedgerPromoted,
		EventID:        eventID,
		UserID:         uuid.New(),
		PromotedUserID: &promotedUser,
		AvailableSeats: 0,
		TotalSeats:     30,
		At:             time.Now(),
	})

	msgs := drain(watcher)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventSeats, msgs[0].Event)
	var upd SeatUpdate
	require.NoError(t, json.Unmarshal(msgs[0].Data, &upd))
	assert.Equal(t, 30, upd.TotalSeats)
	assert.Equal(t, models.LedgerPromoted, upd.Change)

	msgs = drain(promoted)
	require.Len(t, msgs, 2)
	assert.Equal(t, EventPromoted, msgs[1].Event)

	assert.Len(t, drain(lobby), 1)
	assert.Empty(t, drain(elsewhere))
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	c := testClient(uuid.New(), uuid.New())
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c)

	_, open := <-c.send
	assert.False(t, open)
	assert.Zero(t, hub.Watchers(c.EventID))
}

func TestHubFallsBackToLocalDelivery(t *testing.T) {
	pub := &failingPublisher{}
	hub := NewHub(nil, pub, nil)
	ev := &models.Event{ID: uuid.New(), Title: "Renamed"}
	c := testClient(ev.ID, uuid.New())
	hub.Register(c)

	hub.EventChanged(context.Background(), ev)

	assert.Equal(t, 1, pub.calls)
	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventEventUpdated, msgs[0].Event)
}
