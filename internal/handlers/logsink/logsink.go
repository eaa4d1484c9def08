package logsink

import (
	"context"

	"github.com/rs/zerolog"

	"dispatchd/internal/domain"
)

// Sink delivers internal messages by writing them to a logger.
type Sink struct {
	Logger zerolog.Logger
}

func (s Sink) Deliver(ctx context.Context, d domain.Delivery) error {
	s.Logger.Info().
		Str("message_id", d.MessageID).
		Str("recipient", d.Recipient).
		Str("priority", string(d.Priority)).
		Str("content", d.Content).
		Msg("internal message delivered")
	return nil
}
