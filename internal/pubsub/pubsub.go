// Package pubsub fans platform events out to every API instance over Redis.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const (
	ThreadCreated       = "thread-created"
	ThreadUpdated       = "thread-updated"
	ThreadDeleted       = "thread-deleted"
	MessageAdded        = "message-added"
	MessageUpdated      = "message-updated"
	MessageDeleted      = "message-deleted"
	Typing              = "typing"
	NotificationCreated = "notification-created"
	NotificationRead    = "notification-read"
)

// Event is a change notification. GroupID scopes delivery to group members;
// UserID targets a single user when GroupID is empty.
type Event struct {
	Type     string          `json:"type"`
	AppID    string          `json:"appID"`
	ThreadID string          `json:"threadID,omitempty"`
	GroupID  string          `json:"groupID,omitempty"`
	UserID   string          `json:"userID,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type Bus struct {
	client *redis.Client
}

func New(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func Channel(appID string) string {
	return "cord:app:" + appID
}

func (b *Bus) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(event.AppID), raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe streams the application's events until ctx is cancelled. The
// subscription is confirmed before Subscribe returns.
func (b *Bus) Subscribe(ctx context.Context, appID string) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, Channel(appID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", appID, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("pubsub: decode event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
