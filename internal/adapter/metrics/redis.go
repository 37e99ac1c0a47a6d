package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/streamnotify/internal/adapter/redis"
)

type RedisMetrics struct {
	Ops          *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec
	DialErrors   prometheus.Counter
	BreakerState prometheus.Gauge
	BreakerFlips *prometheus.CounterVec
}

func NewRedisMetrics(reg prometheus.Registerer) *RedisMetrics {
	m := &RedisMetrics{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operations_total",
			Help:      "Total number of Redis commands, by command and status.",
		}, []string{"command", "status"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis commands in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"command"}),
		DialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "connection_errors_total",
			Help:      "Total number of failed Redis connection attempts.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
		BreakerFlips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker transitions, by new state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.Ops, m.OpDuration, m.DialErrors, m.BreakerState, m.BreakerFlips)
	return m
}

func (m *RedisMetrics) CommandCompleted(command string, took time.Duration, err error) {
	m.Ops.WithLabelValues(command, result(err)).Inc()
	m.OpDuration.WithLabelValues(command).Observe(took.Seconds())
}

func (m *RedisMetrics) DialFailed() {
	m.DialErrors.Inc()
}

func (m *RedisMetrics) BreakerStateChanged(state string) {
	m.BreakerFlips.WithLabelValues(state).Inc()
	m.BreakerState.Set(breakerStateValue(state))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

var _ redis.Observer = (*RedisMetrics)(nil)
