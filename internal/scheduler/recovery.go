package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"dispatchd/internal/domain"
)

// Recover re-arms every pending message in the store, past-due ones included
// (they fire immediately). Store errors are retried with backoff until ctx is
// done, so the process never starts with an empty registry by accident.
// Calling it again is harmless: Arm replaces existing timers. Stored fire
// instants are recomputed in the engine zone first.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	var pending []domain.Message
	for attempt := 1; ; attempt++ {
		var err error
		pending, err = e.repo.FindByStatus(ctx, domain.StatusPending, time.Time{}, time.Time{})
		if err == nil {
			break
		}
		delay := e.recoverBackoff(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("recovery query failed")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, errors.Join(ctx.Err(), err)
		case <-t.C:
		}
	}

	armed, moved := 0, 0
	for _, m := range pending {
		if ok, err := e.syncFireAt(ctx, &m); err != nil {
			log.Error().Err(err).Str("message_id", m.ID).Msg("refresh stored fire instant")
		} else if ok {
			moved++
		}
		if err := e.Arm(m); err != nil {
			if errors.Is(err, domain.ErrFiring) {
				continue
			}
			log.Error().Err(err).Str("message_id", m.ID).Msg("re-arm failed")
			continue
		}
		armed++
	}
	log.Info().Int("pending", len(pending)).Int("armed", armed).Int("fire_at_updated", moved).Msg("scheduled messages recovered")
	return armed, nil
}

// syncFireAt rewrites the stored fire instant when the configured zone no
// longer maps the record's date and time to it, so range queries agree with
// the armed timers.
func (e *Engine) syncFireAt(ctx context.Context, m *domain.Message) (bool, error) {
	fireAt, err := e.FireInstant(*m)
	if err != nil {
		return false, err
	}
	if fireAt.Equal(m.FireAt) {
		return false, nil
	}
	prev := m.FireAt
	m.FireAt = fireAt
	if _, err := e.repo.UpdateIfStatus(ctx, *m, domain.StatusPending); err != nil {
		return false, err
	}
	log.Info().Str("message_id", m.ID).Time("was", prev).Time("fire_at", fireAt).Str("tz", e.loc.String()).Msg("stored fire instant moved to configured zone")
	return true, nil
}
