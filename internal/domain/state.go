package domain

import (
	"fmt"
	"time"
)

// CanTransition reports whether a status change is allowed.
// sent is terminal; failed only goes back to pending through a manual retry.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSent || to == StatusFailed || to == StatusPending
	case StatusFailed:
		return to == StatusPending || to == StatusFailed
	default:
		return false
	}
}

func (m *Message) MarkSent(now time.Time) error {
	if m.Status != StatusPending {
		return &ImmutableError{ID: m.ID, Status: m.Status, Op: "mark sent"}
	}
	m.Status = StatusSent
	m.SentAt = &now
	m.ErrorMessage = ""
	m.UpdatedAt = now
	return nil
}

func (m *Message) MarkFailed(reason string, now time.Time) error {
	if m.Status != StatusPending {
		return &ImmutableError{ID: m.ID, Status: m.Status, Op: "mark failed"}
	}
	m.Status = StatusFailed
	m.ErrorMessage = reason
	if m.RetryCount < MaxRetries {
		m.RetryCount++
	}
	m.UpdatedAt = now
	return nil
}

// Requeue moves a failed message back to pending for another attempt.
func (m *Message) Requeue(now time.Time) error {
	if m.Status != StatusFailed {
		return &ImmutableError{ID: m.ID, Status: m.Status, Op: "retry"}
	}
	if m.RetryCount >= MaxRetries {
		return fmt.Errorf("message %s: %w", m.ID, ErrRetryLimit)
	}
	m.Status = StatusPending
	m.UpdatedAt = now
	return nil
}
