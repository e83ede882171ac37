package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisSender publishes events on a per-session pub/sub channel
type RedisSender struct {
	client *redis.Client
}

func NewRedisSender(client *redis.Client) *RedisSender {
	return &RedisSender{client: client}
}

// Channel is the pub/sub channel of a session
func Channel(sessionID string) string {
	return "session:" + sessionID + ":events"
}

func (s *RedisSender) Send(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, Channel(event.SessionID), data).Err()
}
