package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"dispatchd/internal/domain"
	"dispatchd/internal/store"
	"dispatchd/internal/worker"
)

// Deliverer performs the actual send at fire time.
type Deliverer interface {
	Deliver(ctx context.Context, d domain.Delivery) error
}

// Submitter runs fire callbacks off the timer goroutine.
type Submitter interface {
	Submit(name string, job worker.Job) bool
}

type Options struct {
	Clock    clockwork.Clock
	Location *time.Location
	Registry *Registry

	// PersistTimeout bounds the status write after a delivery.
	PersistTimeout time.Duration
	// RecoverBackoff returns the wait before recovery attempt n+1.
	RecoverBackoff func(attempt int) time.Duration
}

// Engine arms one-shot timers for pending messages and records the delivery
// outcome when they fire.
type Engine struct {
	repo    store.Repository
	deliver Deliverer
	pool    Submitter
	reg     *Registry
	clock   clockwork.Clock
	loc     *time.Location
	locks   KeyLocks

	persistTimeout time.Duration
	recoverBackoff func(int) time.Duration

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewEngine(repo store.Repository, deliver Deliverer, pool Submitter, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.RecoverBackoff == nil {
		opts.RecoverBackoff = worker.Backoff
	}
	return &Engine{
		repo:           repo,
		deliver:        deliver,
		pool:           pool,
		reg:            opts.Registry,
		clock:          opts.Clock,
		loc:            opts.Location,
		persistTimeout: opts.PersistTimeout,
		recoverBackoff: opts.RecoverBackoff,
	}
}

func (e *Engine) Location() *time.Location { return e.loc }
func (e *Engine) Clock() clockwork.Clock   { return e.clock }
func (e *Engine) Registry() *Registry      { return e.reg }
func (e *Engine) Locks() *KeyLocks         { return &e.locks }

// Lock serializes work on one message id. Every caller that reads a record
// and then arms or disarms its timer must hold it.
func (e *Engine) Lock(id string) (unlock func()) { return e.locks.Lock(id) }

// FireInstant interprets the message date and time in the engine zone.
func (e *Engine) FireInstant(m domain.Message) (time.Time, error) {
	return FireInstant(m.ScheduledDate, m.ScheduledTime, e.loc)
}

// Arm replaces any timer for m.ID with a one-shot timer at the message fire
// instant. A fire instant in the past fires immediately.
func (e *Engine) Arm(m domain.Message) error {
	fireAt, delay, err := e.plan(m)
	if err != nil {
		return err
	}
	gen, err := e.reg.Set(m.ID, e.timer(m.ID, delay))
	if err != nil {
		return err
	}
	log.Debug().Str("message_id", m.ID).Uint64("gen", gen).Time("fire_at", fireAt).Dur("in", delay).Msg("message armed")
	return nil
}

// armIfAbsent arms m only when id has no timer. armed is false when a timer
// already exists.
func (e *Engine) armIfAbsent(m domain.Message) (armed bool, err error) {
	fireAt, delay, err := e.plan(m)
	if err != nil {
		return false, err
	}
	gen, ok := e.reg.SetIfAbsent(m.ID, e.timer(m.ID, delay))
	if ok {
		log.Debug().Str("message_id", m.ID).Uint64("gen", gen).Time("fire_at", fireAt).Dur("in", delay).Msg("message armed")
	}
	return ok, nil
}

func (e *Engine) plan(m domain.Message) (fireAt time.Time, delay time.Duration, err error) {
	if m.Status != domain.StatusPending {
		return time.Time{}, 0, &domain.ImmutableError{ID: m.ID, Status: m.Status, Op: "arm"}
	}
	fireAt, err = e.FireInstant(m)
	if err != nil {
		return time.Time{}, 0, err
	}
	delay = fireAt.Sub(e.clock.Now())
	if delay < 0 {
		delay = 0
	}
	return fireAt, delay, nil
}

func (e *Engine) timer(id string, delay time.Duration) func(gen uint64) Handle {
	return func(gen uint64) Handle {
		return e.clock.AfterFunc(delay, func() { e.fire(id, gen) })
	}
}

// Disarm stops the timer for id. It is a no-op when none exists and fails
// with ErrFiring when the delivery has already started.
func (e *Engine) Disarm(id string) error {
	removed, firing := e.reg.Remove(id)
	if firing {
		return errFiring(id)
	}
	if removed {
		log.Debug().Str("message_id", id).Msg("message disarmed")
	}
	return nil
}

// Armed reports whether id has a live timer.
func (e *Engine) Armed(id string) bool {
	_, ok := e.reg.Get(id)
	return ok
}

// Stop cancels every timer that has not started delivering. Pending records
// stay in the store and are re-armed by Recover on the next start.
func (e *Engine) Stop() {
	n := e.reg.Clear()
	log.Info().Int("timers", n).Msg("scheduler engine stopped")
}

type Stats struct {
	Armed  int
	Sent   uint64
	Failed uint64
}

func (e *Engine) Stats() Stats {
	return Stats{Armed: e.reg.Len(), Sent: e.sent.Load(), Failed: e.failed.Load()}
}

func (e *Engine) fire(id string, gen uint64) {
	if !e.reg.Claim(id, gen) {
		log.Debug().Str("message_id", id).Uint64("gen", gen).Msg("stale timer ignored")
		return
	}
	ok := e.pool.Submit("deliver:"+id, func(ctx context.Context) {
		rearmed := false
		defer func() {
			if !rearmed {
				e.reg.Release(id, gen)
			}
		}()
		if next, early := e.deliverOnce(ctx, id); early {
			rearmed = e.rearm(id, gen, next)
		}
	})
	if !ok {
		e.reg.Release(id, gen)
		log.Warn().Str("message_id", id).Msg("worker pool stopped, message left pending")
	}
}

// rearm moves the firing entry owned by gen to a timer at m's fire instant.
func (e *Engine) rearm(id string, gen uint64, m domain.Message) bool {
	fireAt, delay, err := e.plan(m)
	if err != nil {
		log.Error().Err(err).Str("message_id", id).Msg("re-arm early timer")
		return false
	}
	next, ok := e.reg.Replace(id, gen, e.timer(id, delay))
	if ok {
		log.Warn().Str("message_id", id).Uint64("gen", next).Time("fire_at", fireAt).Msg("timer fired before the stored instant, re-armed")
	}
	return ok
}

// deliverOnce loads the record and delivers it. When the stored fire instant
// is still in the future it returns the record with early set and delivers
// nothing.
func (e *Engine) deliverOnce(ctx context.Context, id string) (next domain.Message, early bool) {
	m, err := e.repo.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Str("message_id", id).Msg("message cancelled before delivery")
		return m, false
	}
	if err != nil {
		log.Error().Err(err).Str("message_id", id).Msg("load message for delivery")
		return m, false
	}
	if m.Status != domain.StatusPending {
		log.Warn().Str("message_id", id).Str("status", string(m.Status)).Msg("message no longer pending, skipping delivery")
		return m, false
	}
	if fireAt, err := e.FireInstant(m); err == nil && fireAt.After(e.clock.Now()) {
		return m, true
	}

	derr := e.safeDeliver(ctx, m.Delivery())
	now := e.clock.Now()
	if derr == nil {
		_ = m.MarkSent(now)
	} else {
		_ = m.MarkFailed(derr.Error(), now)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.persistTimeout)
	defer cancel()
	written, err := e.repo.UpdateIfStatus(pctx, m, domain.StatusPending)
	switch {
	case err != nil:
		log.Error().Err(err).Str("message_id", id).Str("status", string(m.Status)).Msg("persist delivery outcome")
		return m, false
	case !written:
		log.Warn().Str("message_id", id).Msg("message changed during delivery, outcome discarded")
		return m, false
	}

	if derr != nil {
		e.failed.Add(1)
		log.Error().Err(derr).Str("message_id", id).Int("retry_count", m.RetryCount).Msg("message delivery failed")
		return m, false
	}
	e.sent.Add(1)
	log.Info().Str("message_id", id).Str("recipient_type", string(m.RecipientType)).Msg("message sent")
	return m, false
}

func (e *Engine) safeDeliver(ctx context.Context, d domain.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliverer panic: %v", r)
		}
	}()
	return e.deliver.Deliver(ctx, d)
}

func errFiring(id string) error {
	return fmt.Errorf("%s: %w", id, domain.ErrFiring)
}
