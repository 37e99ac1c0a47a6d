package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/streamnotify/internal/domain"
)

// Observer receives client activity. metrics.RedisMetrics implements it.
type Observer interface {
	CommandCompleted(command string, took time.Duration, err error)
	DialFailed()
	BreakerStateChanged(state string)
}

type NopObserver struct{}

func (NopObserver) CommandCompleted(string, time.Duration, error) {}

func (NopObserver) DialFailed() {}

func (NopObserver) BreakerStateChanged(string) {}

// ErrBreakerOpen is returned without touching the network while the
// breaker is open.
var ErrBreakerOpen = fmt.Errorf("%w: redis circuit breaker open: %w", domain.ErrUpstreamUnavailable, circuitbreaker.ErrOpen)

// MetricsHook reports every command and dial to an Observer.
type MetricsHook struct {
	observer Observer
}

var _ goredis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(observer Observer) *MetricsHook {
	return &MetricsHook{observer: observer}
}

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.observer.DialFailed()
		}
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observer.CommandCompleted(cmd.Name(), time.Since(start), commandError(err))
		return err
	}
}

func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observer.CommandCompleted("pipeline", time.Since(start), commandError(err))
		return err
	}
}

// CircuitBreakerHook fails commands fast once Redis keeps failing, so the
// dispatcher and the webhook path do not pile up on a dead connection.
// Errors from next are returned unchanged.
type CircuitBreakerHook struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// NewCircuitBreakerHook opens at a 60% failure rate over at least 5
// commands in 10s, probes again after 30s and closes on one success.
func NewCircuitBreakerHook(observer Observer) *CircuitBreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "redis",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			observer.BreakerStateChanged(e.NewState.String())
		}).
		Build()

	return &CircuitBreakerHook{cb: cb}
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, ErrBreakerOpen
		}
		conn, err := next(ctx, network, addr)
		h.record(err)
		return conn, err
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return ErrBreakerOpen
		}
		err := next(ctx, cmd)
		h.record(commandError(err))
		return err
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return ErrBreakerOpen
		}
		err := next(ctx, cmds)
		h.record(commandError(err))
		return err
	}
}

func (h *CircuitBreakerHook) record(err error) {
	if err != nil {
		h.cb.RecordError(err)
		return
	}
	h.cb.RecordSuccess()
}

func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}

// commandError drops the "key does not exist" reply, which is an answer,
// not a failure.
func commandError(err error) error {
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	return err
}
