// Package youtube implements the YouTube adapter: it polls for live
// broadcasts and, when a public webhook URL is configured, uses WebSub
// feed pushes to check a channel early.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	yt "google.golang.org/api/youtube/v3"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/provider"
	"github.com/pscheid92/streamnotify/internal/webhook"
)

const (
	Name = "youtube"

	brandColor = 0xFF0000
	watchURL   = "https://www.youtube.com/watch?v="
	channelURL = "https://www.youtube.com/channel/"

	defaultHubURL   = "https://pubsubhubbub.appspot.com/subscribe"
	defaultTopicURL = "https://www.youtube.com/xml/feeds/videos.xml"

	ageRestricted = "ytAgeRestricted"
)

var (
	channelIDPattern = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)
	handlePattern    = regexp.MustCompile(`^@?[a-zA-Z0-9._-]{3,30}$`)
)

// Payload is the YouTube variant of domain.PlatformPayload.
type Payload struct {
	Video   *yt.Video
	Channel *yt.Channel
}

func (p Payload) SessionID() string { return p.Video.Id }

func (p Payload) Snapshot() domain.Snapshot {
	s := domain.Snapshot{SessionID: p.Video.Id}
	if sn := p.Video.Snippet; sn != nil {
		s.Title = sn.Title
		s.CategoryID = sn.CategoryId
		s.HasCategory = sn.CategoryId != ""
		s.DisplayName = sn.ChannelTitle
	}
	if cd := p.Video.ContentDetails; cd != nil && cd.ContentRating != nil {
		s.Mature = cd.ContentRating.YtRating == ageRestricted
	}
	s.AvatarURL = p.avatar()
	return s
}

func (p Payload) avatar() string {
	if p.Channel == nil || p.Channel.Snippet == nil {
		return ""
	}
	return bestThumbnail(p.Channel.Snippet.Thumbnails)
}

// Hooks is the lease bookkeeping used when push is enabled.
type Hooks interface {
	Ensure(ctx context.Context, platform, streamerID string) error
	Unregister(ctx context.Context, platform, streamerID string) error
}

type Config struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Sink     chan<- domain.StreamStatus
	Metrics  provider.Metrics
	Hooks    Hooks // nil disables push
	HubURL   string
	TopicURL string
}

type Provider struct {
	*provider.Base
	api      dataAPI
	hooks    Hooks
	hubURL   string
	topicURL string
}

func New(api dataAPI, cfg Config) *Provider {
	if cfg.HubURL == "" {
		cfg.HubURL = defaultHubURL
	}
	if cfg.TopicURL == "" {
		cfg.TopicURL = defaultTopicURL
	}
	p := &Provider{api: api, hooks: cfg.Hooks, hubURL: cfg.HubURL, topicURL: cfg.TopicURL}
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
	if i := strings.LastIndex(q, "youtube.com/"); i >= 0 {
		q = strings.Trim(q[i+len("youtube.com/"):], "/")
		q = strings.TrimPrefix(q, "channel/")
	}

	var ch *yt.Channel
	switch {
	case channelIDPattern.MatchString(q):
		found, err := p.api.ChannelsByID(ctx, []string{q})
		if err != nil {
			return domain.StreamerRef{}, err
		}
		if len(found) > 0 {
			ch = found[0]
		}
	case handlePattern.MatchString(q):
		found, err := p.api.ChannelByHandle(ctx, "@"+strings.TrimPrefix(q, "@"))
		if err != nil {
			return domain.StreamerRef{}, err
		}
		ch = found
	default:
		return domain.StreamerRef{}, fmt.Errorf("%q: %w", query, domain.ErrInvalidName)
	}

	if ch == nil {
		return domain.StreamerRef{}, fmt.Errorf("%q: %w", query, domain.ErrStreamerNotFound)
	}
	name := ch.Id
	if ch.Snippet != nil {
		name = ch.Snippet.Title
	}
	return domain.StreamerRef{Platform: Name, ExternalID: ch.Id, DisplayName: name}, nil
}

// AddSubscription tracks the channel and, with push enabled, leases a
// feed hook. Polling still covers the channel when the lease fails.
func (p *Provider) AddSubscription(ctx context.Context, ref domain.StreamerRef) error {
	if err := p.Base.AddSubscription(ctx, ref); err != nil {
		return err
	}
	if p.hooks != nil {
		if err := p.hooks.Ensure(ctx, Name, ref.ExternalID); err != nil {
			slog.WarnContext(ctx, "Feed hook lease failed, relying on polling", "external_id", ref.ExternalID, "error", err)
		}
	}
	return nil
}

func (p *Provider) RemoveSubscription(ctx context.Context, externalID string) error {
	if err := p.Base.RemoveSubscription(ctx, externalID); err != nil {
		return err
	}
	if p.hooks != nil {
		if err := p.hooks.Unregister(ctx, Name, externalID); err != nil {
			slog.WarnContext(ctx, "Failed to drop feed hooks", "external_id", externalID, "error", err)
		}
	}
	return nil
}

// fetch looks up live broadcasts channel by channel, then resolves video
// and channel details in batches.
func (p *Provider) fetch(ctx context.Context, ids []string) (map[string]domain.PlatformPayload, []string, error) {
	videoOf := make(map[string]string)
	live, observed, err := provider.InBatches(ctx, ids, 1, func(ctx context.Context, batch []string) (map[string]domain.PlatformPayload, error) {
		videoID, err := p.api.LiveVideoID(ctx, batch[0])
		if err != nil {
			return nil, err
		}
		if videoID != "" {
			videoOf[batch[0]] = videoID
		}
		return nil, nil
	})
	if len(videoOf) == 0 {
		return live, observed, err
	}

	payloads, detailErr := p.details(ctx, videoOf)
	if detailErr != nil {
		// the live set is known but not its details; leave those channels unobserved
		kept := observed[:0]
		for _, id := range observed {
			if _, isLive := videoOf[id]; !isLive {
				kept = append(kept, id)
			}
		}
		return live, kept, errors.Join(err, detailErr)
	}
	return payloads, observed, err
}

func (p *Provider) details(ctx context.Context, videoOf map[string]string) (map[string]domain.PlatformPayload, error) {
	videoIDs := make([]string, 0, len(videoOf))
	channelIDs := make([]string, 0, len(videoOf))
	for ch, v := range videoOf {
		videoIDs = append(videoIDs, v)
		channelIDs = append(channelIDs, ch)
	}

	videos, err := p.api.Videos(ctx, videoIDs)
	if err != nil {
		return nil, err
	}

	channels := map[string]*yt.Channel{}
	if found, err := p.api.ChannelsByID(ctx, channelIDs); err == nil {
		for _, c := range found {
			channels[c.Id] = c
		}
	}

	out := make(map[string]domain.PlatformPayload, len(videos))
	for _, v := range videos {
		if v.Snippet == nil || v.Snippet.LiveBroadcastContent != "live" {
			continue
		}
		out[v.Snippet.ChannelId] = Payload{Video: v, Channel: channels[v.Snippet.ChannelId]}
	}
	return out, nil
}

func (p *Provider) RenderStatus(status domain.StreamStatus, _ string) domain.RenderableFields {
	pl, ok := status.Payload.(Payload)
	if !ok || pl.Video == nil {
		return domain.RenderableFields{URL: channelURL + status.ExternalID, Color: brandColor}
	}

	f := domain.RenderableFields{
		URL:       watchURL + pl.Video.Id,
		AvatarURL: pl.avatar(),
		Mature:    pl.Snapshot().Mature,
		Color:     brandColor,
	}
	if sn := pl.Video.Snippet; sn != nil {
		f.Title = sn.Title
		f.DisplayName = sn.ChannelTitle
		f.ThumbnailURL = bestThumbnail(sn.Thumbnails)
	}
	if d := pl.Video.LiveStreamingDetails; d != nil {
		f.Viewers = int(d.ConcurrentViewers)
		if t, err := time.Parse(time.RFC3339, d.ActualStartTime); err == nil {
			f.StartedAt = t
		}
	}
	return f
}

func (p *Provider) Hub() string { return p.hubURL }

func (p *Provider) Topic(channelID string) string {
	return p.topicURL + "?channel_id=" + channelID
}

func (p *Provider) Authorize(context.Context, *http.Request) error { return nil }

// HandlePush treats a verified feed delivery as a hint and re-checks the
// channel on the adapter's loop.
func (p *Provider) HandlePush(ctx context.Context, channelID string, body []byte) error {
	if _, err := parseFeed(body, channelID); err != nil {
		return err
	}
	return p.Refresh(ctx, channelID)
}

func bestThumbnail(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*yt.Thumbnail{t.Maxres, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

var (
	_ domain.Provider    = (*Provider)(nil)
	_ webhook.PushSource = (*Provider)(nil)
)
