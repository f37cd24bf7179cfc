package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one WebSocket connection watching an event, or the lobby.
type Client struct {
	ID      string
	EventID uuid.UUID
	UserID  uuid.UUID
	hub     *Hub
	conn    *websocket.Conn
	send    chan WSMessage
	logger  *zap.Logger
}

// SnapshotFunc loads the current state sent to a client right after it joins.
type SnapshotFunc func(ctx context.Context, eventID uuid.UUID) (interface{}, error)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator func(token string) (uuid.UUID, error)

func newUpgrader(allowed []string) websocket.Upgrader {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(origins) == 0 || origins["*"] || origins[origin]
		},
	}
}

// ServeWs upgrades GET /ws?event_id=&token= and streams seat updates. Without
// event_id the client joins the lobby and sees every event.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator, snapshot SnapshotFunc, allowedOrigins []string) gin.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userID, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		eventID := Lobby
		if s := c.Query("event_id"); s != "" {
			if eventID, err = uuid.Parse(s); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_id"})
				return
			}
		}

		var initial interface{}
		if snapshot != nil && eventID != Lobby {
			if initial, err = snapshot(c.Request.Context(), eventID); err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:      uuid.New().String(),
			EventID: eventID,
			UserID:  userID,
			hub:     hub,
			conn:    conn,
			send:    make(chan WSMessage, 64),
			logger:  logger,
		}
		if initial != nil {
			if data, err := json.Marshal(initial); err == nil {
				client.send <- WSMessage{Event: EventSnapshot, Data: data}
			}
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// readPump only keeps the connection alive; clients do not send commands.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket closed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
