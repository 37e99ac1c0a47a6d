package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/correlation"
)

const inboxSize = 64

type job struct {
	correlationID string
	fn            func(ctx context.Context)
}

// Runner owns an adapter's background goroutine. Poll cycles and submitted
// jobs run one at a time on it, so state touched only from there needs no
// locking.
type Runner struct {
	name     string
	clock    clockwork.Clock
	interval time.Duration
	poll     func(ctx context.Context)
	inbox    chan job

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner. With a zero interval or nil poll the runner
// only serves submitted jobs.
func NewRunner(name string, clock clockwork.Clock, interval time.Duration, poll func(ctx context.Context)) *Runner {
	return &Runner{
		name:     name,
		clock:    clock,
		interval: interval,
		poll:     poll,
		inbox:    make(chan job, inboxSize),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return domain.ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, r.done)

	slog.Info("Provider started", "platform", r.name, "interval", r.interval)
	return nil
}

// Stop cancels the loop and waits for the cycle in flight to finish.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.done == nil {
		r.mu.Unlock()
		return domain.ErrNotStarted
	}
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	cancel()
	<-done

	slog.Info("Provider stopped", "platform", r.name)
	return nil
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

// Submit queues fn onto the loop goroutine. The caller's correlation id
// follows the job.
func (r *Runner) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done == nil {
		return domain.ErrNotStarted
	}

	id, _ := correlation.ID(ctx)
	select {
	case r.inbox <- job{correlationID: id, fn: fn}:
		return nil
	case <-done:
		return domain.ErrNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer r.drain()

	var tick <-chan time.Time
	if r.interval > 0 && r.poll != nil {
		ticker := r.clock.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.Chan()

		r.poll(correlation.Start(ctx))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.poll(correlation.Start(ctx))
		case j := <-r.inbox:
			j.fn(correlation.Continue(ctx, j.correlationID))
		}
	}
}

func (r *Runner) drain() {
	for {
		select {
		case <-r.inbox:
		default:
			return
		}
	}
}
