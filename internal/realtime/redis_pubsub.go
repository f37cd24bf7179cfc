package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "seatsync:event:"
	publishTimeout = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance broadcast.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub implements Publisher and Subscriber over Redis pub/sub, one
// channel per event.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for event rooms.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// Publish publishes a message on the event's channel.
func (r *RedisPubSub) Publish(ctx context.Context, eventID uuid.UUID, event string, payload []byte) error {
	body, err := json.Marshal(redisPayload{Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+eventID.String(), body).Err()
}

// Subscribe pattern-subscribes to every event channel and calls handler for
// each message until ctx ends.
func (r *RedisPubSub) Subscribe(ctx context.Context, handler func(eventID uuid.UUID, event string, payload []byte)) error {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eventID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
			if err != nil {
				r.logger.Warn("realtime message on unexpected channel", zap.String("channel", msg.Channel))
				continue
			}
			var p redisPayload
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				r.logger.Warn("malformed realtime message", zap.Error(err))
				continue
			}
			handler(eventID, p.Event, p.Data)
		}
	}
}
