package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("message not found")
	ErrImmutable  = errors.New("message cannot be modified")
	ErrFiring     = errors.New("message delivery in progress")
	ErrRetryLimit = errors.New("maximum retry count reached")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ImmutableError explains why a message refused a mutation.
type ImmutableError struct {
	ID     string
	Status Status
	Op     string
}

func (e *ImmutableError) Error() string {
	return fmt.Sprintf("cannot %s message %s in status %s", e.Op, e.ID, e.Status)
}

func (e *ImmutableError) Unwrap() error { return ErrImmutable }

// DeliveryError is returned by channels when a send fails.
type DeliveryError struct {
	Channel string
	Message string
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s delivery: %s: %v", e.Channel, e.Message, e.Err)
	}
	return fmt.Sprintf("%s delivery: %s", e.Channel, e.Message)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
