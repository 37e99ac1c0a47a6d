package provider

import "github.com/pscheid92/streamnotify/internal/domain"

// Metrics receives adapter activity. metrics.ProviderMetrics implements it.
type Metrics interface {
	PollCompleted(platform string, err error)
	EventEmitted(platform string, state domain.StreamState)
	TrackedChanged(platform string, n int)
}

type NopMetrics struct{}

func (NopMetrics) PollCompleted(string, error) {}

func (NopMetrics) EventEmitted(string, domain.StreamState) {}

func (NopMetrics) TrackedChanged(string, int) {}
