package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"dispatchd/internal/domain"
)

// Sweep arms due pending messages that have no live timer, e.g. after a
// failed status write left a record pending. Each record is re-read under its
// id lock so a concurrent update or cancel is never overridden by the
// snapshot. It returns how many it armed.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (int, error) {
	due, err := e.repo.FindByStatus(ctx, domain.StatusPending, time.Time{}, now)
	if err != nil {
		return 0, err
	}
	armed := 0
	for _, snap := range due {
		if e.Armed(snap.ID) {
			continue
		}
		ok, err := e.sweepOne(ctx, snap.ID)
		if err != nil {
			log.Error().Err(err).Str("message_id", snap.ID).Msg("sweep re-arm failed")
			continue
		}
		if ok {
			armed++
		}
	}
	if armed > 0 {
		log.Warn().Int("armed", armed).Msg("sweep re-armed orphaned messages")
	}
	return armed, nil
}

func (e *Engine) sweepOne(ctx context.Context, id string) (bool, error) {
	unlock := e.Lock(id)
	defer unlock()

	m, err := e.repo.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if m.Status != domain.StatusPending {
		return false, nil
	}
	return e.armIfAbsent(m)
}

// Sweeper runs Sweep periodically on a cron schedule in the engine zone.
type Sweeper struct {
	engine *Engine
	cron   *cron.Cron
	spec   string
}

func NewSweeper(e *Engine, every time.Duration) (*Sweeper, error) {
	if every <= 0 {
		return nil, fmt.Errorf("sweep interval must be > 0")
	}
	spec := "@every " + every.String()
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("sweep spec %q: %w", spec, err)
	}
	c := cron.New(
		cron.WithLocation(e.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Sweeper{engine: e, cron: c, spec: spec}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.engine.Sweep(ctx, s.engine.clock.Now()); err != nil {
			log.Error().Err(err).Msg("sweep failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("spec", s.spec).Msg("sweep started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
