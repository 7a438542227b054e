package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// EventRepo pushes notification events to per-user channels consumed by
// the presentation layer. This is a side channel: the financial
// transaction has already committed by the time anything lands here.
type EventRepo struct {
	client *goredis.Client
	prefix string
}

type Event struct {
	Kind      string    `json:"kind"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func NewEventRepo(client *goredis.Client, prefix string) *EventRepo {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "notifications"
	}
	return &EventRepo{client: client, prefix: prefix}
}

func (r *EventRepo) Publish(ctx context.Context, event Event) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if event.UserID <= 0 || event.Message == "" {
		return fmt.Errorf("invalid event payload")
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := r.client.Publish(ctx, r.channelFor(event.UserID), raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// PublishOperator pushes to the shared operator channel instead of a
// per-user one. Used for alerts that need a human, not a customer.
func (r *EventRepo) PublishOperator(ctx context.Context, event Event) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if event.Message == "" {
		return fmt.Errorf("invalid event payload")
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := r.client.Publish(ctx, r.prefix+":operators", raw).Err(); err != nil {
		return fmt.Errorf("publish operator event: %w", err)
	}
	return nil
}

func (r *EventRepo) channelFor(userID int64) string {
	return fmt.Sprintf("%s:user:%d", r.prefix, userID)
}
