package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seatsync/backend/internal/models"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// Message names sent to clients.
const (
	EventSeats        = "seats"
	EventPromoted     = "promoted"
	EventEventUpdated = "event_updated"
	EventSnapshot     = "snapshot"
)

// Lobby is the room of clients watching every event.
var Lobby = uuid.Nil

// Publisher publishes a room message to every instance.
type Publisher interface {
	Publish(ctx context.Context, eventID uuid.UUID, event string, payload []byte) error
}

// Subscriber delivers room messages published by any instance until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(eventID uuid.UUID, event string, payload []byte)) error
}

// SeatUpdate is the payload of a seats message.
type SeatUpdate struct {
	EventID        uuid.UUID               `json:"event_id"`
	Change         models.LedgerChangeKind `json:"change"`
	AvailableSeats int                     `json:"available_seats"`
	TotalSeats     int                     `json:"total_seats"`
	At             time.Time               `json:"at"`
}

// Promotion is the payload of a promoted message.
type Promotion struct {
	EventID uuid.UUID `json:"event_id"`
	UserID  uuid.UUID `json:"user_id"`
}

// Hub keeps event_id -> connected clients and fans out seat changes. With
// Redis configured, messages go through pub/sub so every instance delivers
// them once.
type Hub struct {
	rooms  map[uuid.UUID]map[string]*Client
	mu     sync.RWMutex
	logger *zap.Logger
	pub    Publisher
	sub    Subscriber
}

// NewHub creates a hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[uuid.UUID]map[string]*Client),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Run relays messages from other instances until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	if h.sub == nil {
		<-ctx.Done()
		return nil
	}
	return h.sub.Subscribe(ctx, h.deliver)
}

// Register adds a client to its room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.EventID] == nil {
		h.rooms[c.EventID] = make(map[string]*Client)
	}
	h.rooms[c.EventID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined", zap.String("client_id", c.ID), zap.String("event_id", c.EventID.String()))
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.rooms[c.EventID]; ok {
		if _, ok := m[c.ID]; ok {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.rooms, c.EventID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left", zap.String("client_id", c.ID), zap.String("event_id", c.EventID.String()))
}

// Watchers returns the number of clients watching an event.
func (h *Hub) Watchers(eventID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[eventID])
}

// LedgerChanged broadcasts the new seat counts of a committed booking and
// tells a promoted user about their seat.
func (h *Hub) LedgerChanged(ctx context.Context, change models.LedgerChange) {
	h.Publish(ctx, change.EventID, EventSeats, SeatUpdate{
		EventID:        change.EventID,
		Change:         change.Kind,
		AvailableSeats: change.AvailableSeats,
		TotalSeats:     change.TotalSeats,
		At:             change.At,
	})
	if change.PromotedUserID != nil {
		h.Publish(ctx, change.EventID, EventPromoted, Promotion{EventID: change.EventID, UserID: *change.PromotedUserID})
	}
}

// EventChanged broadcasts admin edits to an event.
func (h *Hub) EventChanged(ctx context.Context, ev *models.Event) {
	h.Publish(ctx, ev.ID, EventEventUpdated, ev)
}

// Publish sends a message to an event's room and the lobby on every
// instance.
func (h *Hub) Publish(ctx context.Context, eventID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal realtime payload", zap.String("event", event), zap.Error(err))
		return
	}
	if h.pub != nil {
		err := h.pub.Publish(ctx, eventID, event, data)
		if err == nil {
			return
		}
		h.logger.Warn("realtime publish failed, delivering locally", zap.String("event", event), zap.Error(err))
	}
	h.deliver(eventID, event, data)
}

// deliver hands a message to local clients. Promotions only reach the
// promoted user's connections.
func (h *Hub) deliver(eventID uuid.UUID, event string, data []byte) {
	msg := WSMessage{Event: event, Data: data}
	var only uuid.UUID
	if event == EventPromoted {
		var p Promotion
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		only = p.UserID
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, room := range []uuid.UUID{eventID, Lobby} {
		for _, c := range h.rooms[room] {
			if only != uuid.Nil && c.UserID != only {
				continue
			}
			select {
			case c.send <- msg:
			default:
				h.logger.Debug("client buffer full, dropping message", zap.String("client_id", c.ID))
			}
		}
		if eventID == Lobby {
			break
		}
	}
}
