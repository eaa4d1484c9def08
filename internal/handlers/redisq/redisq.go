package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"dispatchd/internal/domain"
)

const DefaultKey = "dispatchd:push"

type pusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Queue hands push deliveries to a Redis list consumed by the push gateway.
type Queue struct {
	client pusher
	closer func() error
	key    string
}

type envelope struct {
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	Recipient string    `json:"recipient"`
	Priority  string    `json:"priority"`
	QueuedAt  time.Time `json:"queued_at"`
}

func New(addr, password string, db int, key string) *Queue {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	q := newQueue(rdb, key)
	q.closer = rdb.Close
	return q
}

func newQueue(c pusher, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: c, key: key}
}

func (q *Queue) Deliver(ctx context.Context, d domain.Delivery) error {
	if d.Recipient == "" {
		return &domain.DeliveryError{Channel: "push", Message: "recipient device token is required"}
	}
	b, err := json.Marshal(envelope{
		MessageID: d.MessageID,
		Content:   d.Content,
		Recipient: d.Recipient,
		Priority:  string(d.Priority),
		QueuedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode push envelope: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, b).Err(); err != nil {
		return &domain.DeliveryError{Channel: "push", Message: "enqueue to redis failed", Err: err}
	}
	return nil
}

func (q *Queue) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}
