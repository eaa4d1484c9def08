package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"

	"dispatchd/internal/domain"
)

type stubPusher struct {
	key    string
	values []interface{}
	err    error
}

func (s *stubPusher) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	s.key = key
	s.values = append(s.values, values...)
	return redis.NewIntResult(int64(len(s.values)), s.err)
}

func TestDeliverPushesEnvelope(t *testing.T) {
	t.Parallel()
	stub := &stubPusher{}
	q := newQueue(stub, "")
	err := q.Deliver(context.Background(), domain.Delivery{
		MessageID: "msg_9",
		Content:   "your order shipped",
		Recipient: "device-token",
		Priority:  domain.PriorityUrgent,
	})
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if stub.key != DefaultKey {
		t.Fatalf("key = %q, want %q", stub.key, DefaultKey)
	}
	if len(stub.values) != 1 {
		t.Fatalf("pushed %d values, want 1", len(stub.values))
	}
	var env envelope
	if err := json.Unmarshal(stub.values[0].([]byte), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.MessageID != "msg_9" || env.Priority != "urgent" || env.QueuedAt.IsZero() {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDeliverRedisError(t *testing.T) {
	t.Parallel()
	q := newQueue(&stubPusher{err: errors.New("connection refused")}, "custom")
	err := q.Deliver(context.Background(), domain.Delivery{MessageID: "msg_1", Recipient: "tok"})
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.Channel != "push" {
		t.Fatalf("error = %v, want push DeliveryError", err)
	}
	if err := q.Deliver(context.Background(), domain.Delivery{MessageID: "msg_2"}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}
