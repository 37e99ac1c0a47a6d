package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/streamnotify/internal/app"
	"github.com/pscheid92/streamnotify/internal/domain"
)

// DispatchMetrics covers the dispatcher and the cleanup sweeper.
type DispatchMetrics struct {
	Deliveries    *prometheus.CounterVec
	Forwards      *prometheus.CounterVec
	Healed        prometheus.Counter
	Sweeps        *prometheus.CounterVec
	SweepDeleted  prometheus.Counter
	SweepDuration prometheus.Histogram
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Total number of per-subscriber deliveries, by stream state and outcome.",
		}, []string{"state", "outcome"}),
		Forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "forwards_total",
			Help:      "Total number of deliveries forwarded to another shard, by result.",
		}, []string{"result"}),
		Healed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "stale_records_healed_total",
			Help:      "Total number of notification records dropped because their message was gone.",
		}),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "passes_total",
			Help:      "Total number of cleanup passes, by result.",
		}, []string{"result"}),
		SweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "deleted_total",
			Help:      "Total number of notification records deleted by cleanup passes.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of cleanup passes in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
	}

	reg.MustRegister(m.Deliveries, m.Forwards, m.Healed, m.Sweeps, m.SweepDeleted, m.SweepDuration)
	return m
}

func (m *DispatchMetrics) Delivered(state domain.StreamState, outcome string) {
	m.Deliveries.WithLabelValues(string(state), outcome).Inc()
}

func (m *DispatchMetrics) Forwarded(err error) {
	m.Forwards.WithLabelValues(result(err)).Inc()
}

func (m *DispatchMetrics) StaleRecordHealed() {
	m.Healed.Inc()
}

func (m *DispatchMetrics) SweepCompleted(deleted int, took time.Duration, err error) {
	m.Sweeps.WithLabelValues(result(err)).Inc()
	m.SweepDeleted.Add(float64(deleted))
	m.SweepDuration.Observe(took.Seconds())
}

var _ app.Metrics = (*DispatchMetrics)(nil)
