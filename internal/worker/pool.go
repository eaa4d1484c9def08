package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Job is one unit of work. The context carries the per-job timeout.
type Job func(ctx context.Context)

// Pool runs submitted jobs on a bounded number of goroutines.
type Pool struct {
	sem     chan struct{}
	limiter *rate.Limiter
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool creates a pool. ratePerSec <= 0 disables rate limiting; timeout <= 0
// leaves jobs unbounded.
func NewPool(size int, ratePerSec float64, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{sem: make(chan struct{}, size), timeout: timeout, ctx: ctx, cancel: cancel}
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return p
}

// Submit schedules job without blocking the caller. It returns false once the
// pool is stopped.
func (p *Pool) Submit(name string, job Job) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			log.Warn().Str("job", name).Msg("pool stopped before job started")
			return
		}
		defer func() { <-p.sem }()

		if p.limiter != nil {
			if err := p.limiter.Wait(p.ctx); err != nil {
				log.Warn().Err(err).Str("job", name).Msg("rate limiter wait aborted")
				return
			}
		}
		p.run(name, job)
	}()
	return true
}

func (p *Pool) run(name string, job Job) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("job panicked")
		}
	}()
	start := time.Now()
	job(ctx)
	log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("job finished")
}

// InFlight returns the number of jobs currently holding a slot.
func (p *Pool) InFlight() int { return len(p.sem) }

// Stop refuses new jobs and waits for running ones until ctx expires, then
// cancels whatever is still running.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}

// Backoff returns an exponential delay for the given attempt: 1s, 2s, 4s ...
// capped at 60s.
func Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	if attempts > 7 {
		return 60 * time.Second
	}
	d := 1 << (attempts - 1) // 1,2,4,8...
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}
