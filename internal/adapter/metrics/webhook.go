package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/streamnotify/internal/webhook"
)

type WebhookMetrics struct {
	Deliveries *prometheus.CounterVec
	Handshakes *prometheus.CounterVec
	Renewals   *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Total number of webhook payload deliveries, by platform and outcome.",
		}, []string{"platform", "outcome"}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "handshakes_total",
			Help:      "Total number of subscription handshakes, by platform and mode.",
		}, []string{"platform", "mode"}),
		Renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "renewals_total",
			Help:      "Total number of lease renewals, by platform and result.",
		}, []string{"platform", "result"}),
	}

	reg.MustRegister(m.Deliveries, m.Handshakes, m.Renewals)
	return m
}

func (m *WebhookMetrics) DeliveryHandled(platform, outcome string) {
	m.Deliveries.WithLabelValues(platform, outcome).Inc()
}

func (m *WebhookMetrics) HandshakeHandled(platform, mode string) {
	m.Handshakes.WithLabelValues(platform, mode).Inc()
}

func (m *WebhookMetrics) RenewalAttempted(platform string, err error) {
	m.Renewals.WithLabelValues(platform, result(err)).Inc()
}

var _ webhook.Metrics = (*WebhookMetrics)(nil)
