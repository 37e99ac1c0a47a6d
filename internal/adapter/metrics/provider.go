package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/provider"
)

type ProviderMetrics struct {
	Polls   *prometheus.CounterVec
	Events  *prometheus.CounterVec
	Tracked *prometheus.GaugeVec
}

func NewProviderMetrics(reg prometheus.Registerer) *ProviderMetrics {
	m := &ProviderMetrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "polls_total",
			Help:      "Total number of provider fetch cycles, by platform and result.",
		}, []string{"platform", "result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "events_total",
			Help:      "Total number of lifecycle events emitted, by platform and state.",
		}, []string{"platform", "state"}),
		Tracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "tracked_streamers",
			Help:      "Number of streamers a provider currently tracks.",
		}, []string{"platform"}),
	}

	reg.MustRegister(m.Polls, m.Events, m.Tracked)
	return m
}

func (m *ProviderMetrics) PollCompleted(platform string, err error) {
	m.Polls.WithLabelValues(platform, result(err)).Inc()
}

func (m *ProviderMetrics) EventEmitted(platform string, state domain.StreamState) {
	m.Events.WithLabelValues(platform, string(state)).Inc()
}

func (m *ProviderMetrics) TrackedChanged(platform string, n int) {
	m.Tracked.WithLabelValues(platform).Set(float64(n))
}

var _ provider.Metrics = (*ProviderMetrics)(nil)
