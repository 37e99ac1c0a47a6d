// Package mixer implements the polling Mixer adapter.
package mixer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/provider"
)

const (
	Name = "mixer"

	brandColor = 0x1FBAED
	channelURL = "https://mixer.com/"
	thumbURL   = "https://thumbs.mixer.com/channel/%d.big.jpg"
)

var tokenPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{2,20}$`)

// Payload is the Mixer variant of domain.PlatformPayload.
type Payload struct {
	Channel   Channel
	Broadcast Broadcast
}

func (p Payload) SessionID() string { return p.Broadcast.ID }

func (p Payload) Snapshot() domain.Snapshot {
	s := domain.Snapshot{
		SessionID:   p.Broadcast.ID,
		Title:       p.Channel.Name,
		Mature:      p.Channel.Audience == "18+",
		DisplayName: p.Channel.Token,
		AvatarURL:   p.Channel.User.AvatarURL,
	}
	if p.Channel.Type != nil {
		s.CategoryID = strconv.FormatInt(p.Channel.Type.ID, 10)
		s.HasCategory = true
	}
	return s
}

type Config struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Sink     chan<- domain.StreamStatus
	Metrics  provider.Metrics
}

type Provider struct {
	*provider.Base
	client *Client
}

func New(client *Client, cfg Config) *Provider {
	p := &Provider{client: client}
	p.Base = provider.NewBase(provider.BaseConfig{
		Name:     Name,
		Clock:    cfg.Clock,
		Interval: cfg.Interval,
		Fetch:    p.fetch,
		Sink:     cfg.Sink,
		Metrics:  cfg.Metrics,
	})
	return p
}

func (p *Provider) GetStreamer(ctx context.Context, query string) (domain.StreamerRef, error) {
	q := strings.TrimSpace(query)
	if i := strings.LastIndex(q, "mixer.com/"); i >= 0 {
		q = strings.Trim(q[i+len("mixer.com/"):], "/")
	}
	if !tokenPattern.MatchString(q) {
		return domain.StreamerRef{}, fmt.Errorf("%q: %w", query, domain.ErrInvalidName)
	}

	ch, err := p.client.Channel(ctx, q)
	if err != nil {
		return domain.StreamerRef{}, err
	}
	return domain.StreamerRef{Platform: Name, ExternalID: strconv.FormatInt(ch.ID, 10), DisplayName: ch.Token}, nil
}

// fetch checks channels one at a time; Mixer has no batch endpoint.
func (p *Provider) fetch(ctx context.Context, ids []string) (map[string]domain.PlatformPayload, []string, error) {
	return provider.InBatches(ctx, ids, 1, func(ctx context.Context, batch []string) (map[string]domain.PlatformPayload, error) {
		id := batch[0]
		ch, err := p.client.Channel(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ch.Online {
			return nil, nil
		}

		b, err := p.client.Broadcast(ctx, id)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, nil
		}
		return map[string]domain.PlatformPayload{id: Payload{Channel: *ch, Broadcast: *b}}, nil
	})
}

func (p *Provider) RenderStatus(status domain.StreamStatus, _ string) domain.RenderableFields {
	pl, ok := status.Payload.(Payload)
	if !ok {
		return domain.RenderableFields{URL: channelURL, Color: brandColor}
	}

	f := domain.RenderableFields{
		Title:        pl.Channel.Name,
		DisplayName:  pl.Channel.Token,
		URL:          channelURL + pl.Channel.Token,
		ThumbnailURL: fmt.Sprintf(thumbURL, pl.Channel.ID),
		AvatarURL:    pl.Channel.User.AvatarURL,
		Mature:       pl.Channel.Audience == "18+",
		Viewers:      pl.Channel.ViewersCurrent,
		StartedAt:    pl.Broadcast.StartedAt,
		Color:        brandColor,
	}
	if pl.Channel.Type != nil {
		f.Category = pl.Channel.Type.Name
	}
	return f
}

var _ domain.Provider = (*Provider)(nil)
