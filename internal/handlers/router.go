package handlers

import (
	"context"
	"fmt"

	"dispatchd/internal/domain"
)

// Deliverer sends one message over a single channel.
type Deliverer interface {
	Deliver(ctx context.Context, d domain.Delivery) error
}

// Router picks the channel for a delivery by its recipient type.
type Router map[domain.RecipientType]Deliverer

func (r Router) Deliver(ctx context.Context, d domain.Delivery) error {
	h, ok := r[d.RecipientType]
	if !ok || h == nil {
		return &domain.DeliveryError{
			Channel: string(d.RecipientType),
			Message: fmt.Sprintf("no handler for recipient type %q", d.RecipientType),
		}
	}
	return h.Deliver(ctx, d)
}
