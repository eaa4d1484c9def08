package handlers

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"dispatchd/internal/domain"
	"dispatchd/internal/handlers/logsink"
)

type recorder struct{ got []domain.Delivery }

func (r *recorder) Deliver(ctx context.Context, d domain.Delivery) error {
	r.got = append(r.got, d)
	return nil
}

func TestRouterDispatchesByRecipientType(t *testing.T) {
	t.Parallel()
	email := &recorder{}
	var buf bytes.Buffer
	r := Router{
		domain.RecipientEmail:    email,
		domain.RecipientInternal: logsink.Sink{Logger: zerolog.New(&buf)},
	}

	if err := r.Deliver(context.Background(), domain.Delivery{MessageID: "m1", RecipientType: domain.RecipientEmail}); err != nil {
		t.Fatalf("email Deliver error: %v", err)
	}
	if len(email.got) != 1 || email.got[0].MessageID != "m1" {
		t.Fatalf("email channel got %+v", email.got)
	}

	if err := r.Deliver(context.Background(), domain.Delivery{MessageID: "m2", Content: "ping", RecipientType: domain.RecipientInternal}); err != nil {
		t.Fatalf("internal Deliver error: %v", err)
	}
	if !strings.Contains(buf.String(), `"message_id":"m2"`) {
		t.Fatalf("log sink output = %q", buf.String())
	}
}

func TestRouterUnknownChannel(t *testing.T) {
	t.Parallel()
	err := Router{}.Deliver(context.Background(), domain.Delivery{RecipientType: domain.RecipientSMS})
	var de *domain.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want DeliveryError", err)
	}
	if !strings.Contains(err.Error(), `no handler for recipient type "sms"`) {
		t.Fatalf("error = %q", err.Error())
	}
}
