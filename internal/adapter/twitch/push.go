package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/provider"
	"github.com/pscheid92/streamnotify/internal/webhook"
)

const (
	defaultHubURL   = "https://api.twitch.tv/helix/webhooks/hub"
	defaultTopicURL = "https://api.twitch.tv/helix/streams"
)

// Hooks is the lease bookkeeping the push adapter delegates to.
type Hooks interface {
	Ensure(ctx context.Context, platform, streamerID string) error
	Unregister(ctx context.Context, platform, streamerID string) error
}

type WebhookConfig struct {
	HubURL   string
	TopicURL string
	Clock    clockwork.Clock
	Sink     chan<- domain.StreamStatus
	Metrics  provider.Metrics
}

// WebhookProvider tracks streamers through WebSub leases instead of polling.
type WebhookProvider struct {
	*provider.Base
	resolver
	hooks    Hooks
	hubURL   string
	topicURL string
}

func NewWebhookProvider(client *Client, hooks Hooks, cfg WebhookConfig) *WebhookProvider {
	if cfg.HubURL == "" {
		cfg.HubURL = defaultHubURL
	}
	if cfg.TopicURL == "" {
		cfg.TopicURL = defaultTopicURL
	}
	return &WebhookProvider{
		resolver: resolver{client: client, platform: WebhookName},
		hooks:    hooks,
		hubURL:   cfg.HubURL,
		topicURL: cfg.TopicURL,
		Base: provider.NewBase(provider.BaseConfig{
			Name:    WebhookName,
			Clock:   cfg.Clock,
			Sink:    cfg.Sink,
			Metrics: cfg.Metrics,
		}),
	}
}

func (w *WebhookProvider) GetStreamer(ctx context.Context, query string) (domain.StreamerRef, error) {
	return w.getStreamer(ctx, query)
}

func (w *WebhookProvider) RenderStatus(status domain.StreamStatus, _ string) domain.RenderableFields {
	return render(status)
}

// AddSubscription tracks the streamer and leases a hook for it. When the
// hub rejects the lease the streamer is untracked again so a later call
// can retry.
func (w *WebhookProvider) AddSubscription(ctx context.Context, ref domain.StreamerRef) error {
	if err := w.Base.AddSubscription(ctx, ref); err != nil {
		return err
	}
	if err := w.hooks.Ensure(ctx, WebhookName, ref.ExternalID); err != nil {
		_ = w.Base.RemoveSubscription(ctx, ref.ExternalID)
		return fmt.Errorf("failed to lease hook for %s: %w", ref.ExternalID, err)
	}
	return nil
}

func (w *WebhookProvider) RemoveSubscription(ctx context.Context, externalID string) error {
	if err := w.Base.RemoveSubscription(ctx, externalID); err != nil {
		return err
	}
	if err := w.hooks.Unregister(ctx, WebhookName, externalID); err != nil {
		slog.WarnContext(ctx, "Failed to drop hooks", "platform", WebhookName, "external_id", externalID, "error", err)
	}
	return nil
}

func (w *WebhookProvider) Hub() string { return w.hubURL }

func (w *WebhookProvider) Topic(streamerID string) string {
	return w.topicURL + "?user_id=" + streamerID
}

func (w *WebhookProvider) Authorize(_ context.Context, r *http.Request) error {
	h, err := w.client.AuthHeaders()
	if err != nil {
		return err
	}
	for k, v := range h {
		r.Header[k] = v
	}
	return nil
}

// HandlePush decodes a verified stream-changed delivery. An empty data
// array means the stream ended.
func (w *WebhookProvider) HandlePush(ctx context.Context, streamerID string, body []byte) error {
	var notification struct {
		Data []helix.Stream `json:"data"`
	}
	if err := json.Unmarshal(body, &notification); err != nil {
		return fmt.Errorf("%w: stream notification: %w", domain.ErrInvalidInput, err)
	}

	if len(notification.Data) == 0 {
		return w.Push(ctx, streamerID, nil)
	}

	stream := notification.Data[0]
	if !strings.EqualFold(stream.UserID, streamerID) {
		return fmt.Errorf("%w: notification for %s on hook of %s", domain.ErrInvalidInput, stream.UserID, streamerID)
	}

	payloads := w.payloads(ctx, []helix.Stream{stream})
	return w.Push(ctx, streamerID, payloads[streamerID])
}

var (
	_ domain.Provider    = (*WebhookProvider)(nil)
	_ webhook.PushSource = (*WebhookProvider)(nil)
)
