// Package webhook manages WebSub push subscriptions ("hooks"): registering
// them with a hub, answering the hub's verification handshake, verifying
// signed deliveries and renewing leases before they run out.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/correlation"
)

const (
	secretBytes     = 32
	renewalFraction = 0.9
	renewalTimeout  = 30 * time.Second
	pendingGrace    = 10 * time.Minute
)

// PushSource is a push-capable adapter.
type PushSource interface {
	Name() string
	IsSubscribed(streamerID string) bool

	// Hub and Topic address the WebSub subscription for a streamer.
	Hub() string
	Topic(streamerID string) string

	// Authorize adds platform credentials to hub requests.
	Authorize(ctx context.Context, r *http.Request) error

	// HandlePush receives a verified delivery. Malformed bodies are
	// reported with an error wrapping domain.ErrInvalidInput.
	HandlePush(ctx context.Context, streamerID string, body []byte) error
}

// Metrics receives hook activity. metrics.WebhookMetrics implements it.
type Metrics interface {
	DeliveryHandled(platform, outcome string)
	HandshakeHandled(platform, mode string)
	RenewalAttempted(platform string, err error)
}

type nopMetrics struct{}

func (nopMetrics) DeliveryHandled(string, string)  {}
func (nopMetrics) HandshakeHandled(string, string) {}
func (nopMetrics) RenewalAttempted(string, error)  {}

type Config struct {
	PublicURL  string        // externally reachable base, e.g. https://notify.example.com
	Path       string        // callback path prefix, e.g. /webhooks
	Lease      time.Duration // requested lease
	Clock      clockwork.Clock
	HTTPClient *http.Client
	Metrics    Metrics
}

type Manager struct {
	repo     domain.HookRepository
	hub      *HubClient
	clock    clockwork.Clock
	metrics  Metrics
	callback string
	host     string
	lease    time.Duration

	sourcesMu sync.RWMutex
	sources   map[string]PushSource

	mu     sync.Mutex
	timers map[string]clockwork.Timer
}

func NewManager(repo domain.HookRepository, cfg Config) (*Manager, error) {
	u, err := url.Parse(cfg.PublicURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("public url %q must be absolute", cfg.PublicURL)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}

	return &Manager{
		repo:     repo,
		hub:      NewHubClient(cfg.HTTPClient),
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		callback: strings.TrimRight(u.String(), "/") + "/" + strings.Trim(cfg.Path, "/") + "/",
		host:     u.Hostname(),
		lease:    cfg.Lease,
		sources:  make(map[string]PushSource),
		timers:   make(map[string]clockwork.Timer),
	}, nil
}

// AddSource makes a push adapter known to the manager.
func (m *Manager) AddSource(src PushSource) {
	m.sourcesMu.Lock()
	defer m.sourcesMu.Unlock()
	m.sources[src.Name()] = src
}

func (m *Manager) source(platform string) (PushSource, bool) {
	m.sourcesMu.RLock()
	defer m.sourcesMu.RUnlock()
	src, ok := m.sources[platform]
	return src, ok
}

// CallbackURL is where the hub delivers for a hook.
func (m *Manager) CallbackURL(hookID string) string {
	return m.callback + hookID
}

// Ensure makes sure a streamer has a lease: an active hook that is not yet
// due for renewal only gets its timer armed, otherwise a new hook is
// registered.
func (m *Manager) Ensure(ctx context.Context, platform, streamerID string) error {
	hooks, err := m.repo.ListByStreamer(ctx, platform, streamerID)
	if err != nil {
		return fmt.Errorf("failed to list hooks: %w", err)
	}

	now := m.clock.Now()
	for _, h := range hooks {
		if h.State() == domain.HookActive && renewAt(h).After(now) {
			m.schedule(h)
			return nil
		}
	}

	_, err = m.Register(ctx, platform, streamerID)
	return err
}

// Register creates a pending hook with a fresh id and secret and asks the
// hub to subscribe it. A failed request removes the hook again; it is not
// retried.
func (m *Manager) Register(ctx context.Context, platform, streamerID string) (*domain.Hook, error) {
	src, ok := m.source(platform)
	if !ok {
		return nil, fmt.Errorf("%q: %w", platform, domain.ErrUnknownPlatform)
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}

	hook := domain.Hook{
		ID:           uuid.NewString(),
		Platform:     platform,
		StreamerID:   streamerID,
		Secret:       secret,
		LeaseSeconds: int(m.lease.Seconds()),
		CreatedAt:    m.clock.Now(),
	}
	if err := m.repo.Create(ctx, hook); err != nil {
		return nil, fmt.Errorf("failed to store hook: %w", err)
	}

	err = m.hub.Send(ctx, HubRequest{
		Hub:          src.Hub(),
		Mode:         ModeSubscribe,
		Callback:     m.CallbackURL(hook.ID),
		Topic:        src.Topic(streamerID),
		LeaseSeconds: hook.LeaseSeconds,
		Secret:       secret,
	}, src.Authorize)
	if err != nil {
		if delErr := m.repo.Delete(ctx, hook.ID); delErr != nil {
			slog.ErrorContext(ctx, "Failed to delete hook after rejected subscribe", "hook_id", hook.ID, "error", delErr)
		}
		slog.ErrorContext(ctx, "Hook subscribe failed", "platform", platform, "streamer_id", streamerID, "hook_id", hook.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}

	slog.InfoContext(ctx, "Hook registered", "platform", platform, "streamer_id", streamerID, "hook_id", hook.ID)
	return &hook, nil
}

// Unregister cancels renewal and drops every hook of a streamer. Active
// hooks are unsubscribed at the hub on a best-effort basis.
func (m *Manager) Unregister(ctx context.Context, platform, streamerID string) error {
	m.cancel(domain.StreamerKey(platform, streamerID))

	hooks, err := m.repo.ListByStreamer(ctx, platform, streamerID)
	if err != nil {
		return fmt.Errorf("failed to list hooks: %w", err)
	}

	src, hasSource := m.source(platform)
	var errs []error
	for _, h := range hooks {
		if err := m.repo.Delete(ctx, h.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if hasSource && h.State() == domain.HookActive {
			err := m.hub.Send(ctx, HubRequest{
				Hub:      src.Hub(),
				Mode:     ModeUnsubscribe,
				Callback: m.CallbackURL(h.ID),
				Topic:    src.Topic(streamerID),
			}, src.Authorize)
			if err != nil {
				slog.WarnContext(ctx, "Hub unsubscribe failed, lease will lapse", "hook_id", h.ID, "error", err)
			}
		}
	}

	slog.InfoContext(ctx, "Hooks unregistered", "platform", platform, "streamer_id", streamerID, "count", len(hooks))
	return errors.Join(errs...)
}

// Restore is run once at startup, after the adapters have been re-seeded.
// It re-arms renewal for active hooks and drops hooks nobody needs.
func (m *Manager) Restore(ctx context.Context) error {
	hooks, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list hooks: %w", err)
	}

	now := m.clock.Now()
	var restored, dropped int
	for _, h := range hooks {
		src, ok := m.source(h.Platform)
		stale := !ok ||
			!src.IsSubscribed(h.StreamerID) ||
			(h.State() == domain.HookPending && now.Sub(h.CreatedAt) > pendingGrace) ||
			(h.State() == domain.HookActive && !h.ExpiresAt().After(now))

		if stale {
			if err := m.repo.Delete(ctx, h.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				slog.WarnContext(ctx, "Failed to drop stale hook", "hook_id", h.ID, "error", err)
				continue
			}
			dropped++
			continue
		}

		if h.State() == domain.HookActive {
			m.schedule(h)
			restored++
		}
	}

	slog.InfoContext(ctx, "Hooks restored", "active", restored, "dropped", dropped)
	return nil
}

// Close stops every renewal timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
}

// activate marks a hook confirmed, arms its renewal and drops the hooks it
// supersedes.
func (m *Manager) activate(ctx context.Context, hook *domain.Hook, leaseSeconds int) error {
	now := m.clock.Now()
	if err := m.repo.Activate(ctx, hook.ID, now, leaseSeconds); err != nil {
		return err
	}
	hook.RegisteredAt = &now
	hook.LeaseSeconds = leaseSeconds
	m.schedule(*hook)

	older, err := m.repo.ListByStreamer(ctx, hook.Platform, hook.StreamerID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to list superseded hooks", "hook_id", hook.ID, "error", err)
		return nil
	}
	for _, h := range older {
		if h.ID == hook.ID {
			continue
		}
		if err := m.repo.Delete(ctx, h.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "Failed to drop superseded hook", "hook_id", h.ID, "error", err)
		}
	}
	return nil
}

func (m *Manager) schedule(hook domain.Hook) {
	key := domain.StreamerKey(hook.Platform, hook.StreamerID)
	delay := max(renewAt(hook).Sub(m.clock.Now()), 0)

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.timers[key]; ok {
		old.Stop()
	}
	m.timers[key] = m.clock.AfterFunc(delay, func() {
		m.renew(hook.Platform, hook.StreamerID)
	})
}

func (m *Manager) cancel(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

func (m *Manager) renew(platform, streamerID string) {
	ctx, cancel := context.WithTimeout(correlation.Start(context.Background()), renewalTimeout)
	defer cancel()

	src, ok := m.source(platform)
	if !ok || !src.IsSubscribed(streamerID) {
		m.cancel(domain.StreamerKey(platform, streamerID))
		return
	}

	_, err := m.Register(ctx, platform, streamerID)
	m.metrics.RenewalAttempted(platform, err)
	if err != nil {
		slog.WarnContext(ctx, "Lease renewal failed, streamer stops receiving pushes until re-registered", "platform", platform, "streamer_id", streamerID, "error", err)
	}
}

// renewAt is the point at 90% of the granted lease.
func renewAt(h domain.Hook) time.Time {
	if h.RegisteredAt == nil {
		return time.Time{}
	}
	lease := time.Duration(float64(h.LeaseSeconds) * renewalFraction * float64(time.Second))
	return h.RegisteredAt.Add(lease)
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate hook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
