package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"dispatchd/internal/domain"
)

func TestDeliverWritesLogLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := Sink{Logger: zerolog.New(&buf)}
	err := s.Deliver(context.Background(), domain.Delivery{
		MessageID: "msg_7",
		Content:   "standup in 5",
		Recipient: "team-ops",
		Priority:  domain.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	want := map[string]string{
		"level":      "info",
		"message_id": "msg_7",
		"recipient":  "team-ops",
		"priority":   "high",
		"content":    "standup in 5",
		"message":    "internal message delivered",
	}
	for k, v := range want {
		if line[k] != v {
			t.Fatalf("%s = %v, want %q", k, line[k], v)
		}
	}
}

func TestDeliverRespectsLoggerLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := Sink{Logger: zerolog.New(&buf).Level(zerolog.WarnLevel)}
	if err := s.Deliver(context.Background(), domain.Delivery{MessageID: "msg_8"}); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("log output = %q, want none below warn", buf.String())
	}
}
