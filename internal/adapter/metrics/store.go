package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/streamnotify/internal/adapter/postgres"
)

type StoreMetrics struct {
	Queries       *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "queries_total",
			Help:      "Total number of database queries, by operation and result.",
		}, []string{"operation", "result"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}

	reg.MustRegister(m.Queries, m.QueryDuration)
	return m
}

func (m *StoreMetrics) QueryCompleted(operation string, took time.Duration, err error) {
	m.Queries.WithLabelValues(operation, result(err)).Inc()
	m.QueryDuration.WithLabelValues(operation).Observe(took.Seconds())
}

var _ postgres.QueryObserver = (*StoreMetrics)(nil)
