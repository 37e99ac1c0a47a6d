// Package twitch implements the Twitch adapters: "twitch", which polls the
// Helix streams endpoint, and "twitch-webhook", which is driven by WebSub
// pushes.
package twitch

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/provider"
)

const (
	PollingName = "twitch"
	WebhookName = "twitch-webhook"
)

type PollerConfig struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Sink     chan<- domain.StreamStatus
	Metrics  provider.Metrics
}

// Poller is the polling Twitch adapter.
type Poller struct {
	*provider.Base
	resolver
}

func NewPoller(client *Client, cfg PollerConfig) *Poller {
	r := resolver{client: client, platform: PollingName}
	return &Poller{
		resolver: r,
		Base: provider.NewBase(provider.BaseConfig{
			Name:     PollingName,
			Clock:    cfg.Clock,
			Interval: cfg.Interval,
			Fetch:    r.fetch,
			Sink:     cfg.Sink,
			Metrics:  cfg.Metrics,
		}),
	}
}

func (p *Poller) GetStreamer(ctx context.Context, query string) (domain.StreamerRef, error) {
	return p.getStreamer(ctx, query)
}

func (p *Poller) RenderStatus(status domain.StreamStatus, _ string) domain.RenderableFields {
	return render(status)
}

var _ domain.Provider = (*Poller)(nil)
