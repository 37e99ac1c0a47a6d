package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/streamnotify/internal/domain"
)

// Providers looks up the adapter for a platform.
type Providers interface {
	Get(platform string) (domain.Provider, error)
	All() []domain.Provider
}

type ServiceConfig struct {
	Providers     Providers
	Subscriptions domain.SubscriptionRepository
	Notifications domain.NotificationRepository
	Settings      domain.SettingsRepository
	Cache         *SettingsCache
	Invalidator   domain.SettingsInvalidator // nil when running unsharded
	Tracking      domain.TrackingControl
	Clock         clockwork.Clock
}

// Service is the application layer behind the slash commands and the
// admin API. It keeps subscriptions, tracking and settings consistent.
type Service struct {
	providers   Providers
	subs        domain.SubscriptionRepository
	records     domain.NotificationRepository
	settings    domain.SettingsRepository
	cache       *SettingsCache
	invalidator domain.SettingsInvalidator
	tracking    domain.TrackingControl
	clock       clockwork.Clock

	lookups singleflight.Group
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Service{
		providers:   cfg.Providers,
		subs:        cfg.Subscriptions,
		records:     cfg.Notifications,
		settings:    cfg.Settings,
		cache:       cfg.Cache,
		invalidator: cfg.Invalidator,
		tracking:    cfg.Tracking,
		clock:       cfg.Clock,
	}
}

// Follow resolves query on the platform, stores the subscription and makes
// sure the streamer is tracked. Concurrent lookups of the same name share
// one upstream call.
func (s *Service) Follow(ctx context.Context, platform, query string, scope domain.SubscriberScope, subscriberID string) (domain.Subscription, error) {
	if !scope.Valid() {
		return domain.Subscription{}, domain.ErrInvalidScope
	}
	if subscriberID == "" {
		return domain.Subscription{}, fmt.Errorf("%w: subscriber id is empty", domain.ErrInvalidInput)
	}

	p, err := s.providers.Get(platform)
	if err != nil {
		return domain.Subscription{}, err
	}

	key := platform + ":" + strings.ToLower(strings.TrimSpace(query))
	v, err, _ := s.lookups.Do(key, func() (any, error) {
		return p.GetStreamer(ctx, query)
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	ref := v.(domain.StreamerRef)

	sub := domain.Subscription{
		Platform:     ref.Platform,
		ExternalID:   ref.ExternalID,
		Scope:        scope,
		SubscriberID: subscriberID,
		DisplayName:  ref.DisplayName,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return domain.Subscription{}, err
	}

	if err := s.tracking.Track(ctx, ref); err != nil {
		if delErr := s.subs.Delete(ctx, sub.Platform, sub.ExternalID, scope, subscriberID); delErr != nil {
			slog.ErrorContext(ctx, "Failed to roll back subscription after tracking failure", "platform", sub.Platform, "external_id", sub.ExternalID, "subscriber_id", subscriberID, "error", delErr)
		}
		return domain.Subscription{}, fmt.Errorf("failed to track streamer: %w", err)
	}

	slog.InfoContext(ctx, "Subscription created", "platform", sub.Platform, "external_id", sub.ExternalID, "subscriber_scope", scope, "subscriber_id", subscriberID)
	return sub, nil
}

// Unfollow deletes the subscription and the subscriber's live record. The
// streamer is freed when no subscription is left.
func (s *Service) Unfollow(ctx context.Context, platform, externalID string, scope domain.SubscriberScope, subscriberID string) error {
	if !scope.Valid() {
		return domain.ErrInvalidScope
	}
	if err := s.subs.Delete(ctx, platform, externalID, scope, subscriberID); err != nil {
		return err
	}

	if err := s.records.Delete(ctx, subscriberID, platform, externalID); err != nil && !errors.Is(err, domain.ErrNotificationNotFound) {
		slog.WarnContext(ctx, "Failed to delete notification record on unfollow", "platform", platform, "external_id", externalID, "subscriber_id", subscriberID, "error", err)
	}

	remaining, err := s.subs.CountByStreamer(ctx, platform, externalID)
	if err != nil {
		return fmt.Errorf("failed to count subscriptions: %w", err)
	}
	if remaining == 0 {
		if err := s.tracking.Free(ctx, platform, externalID); err != nil {
			return fmt.Errorf("failed to free streamer: %w", err)
		}
		slog.InfoContext(ctx, "Streamer freed", "platform", platform, "external_id", externalID)
	}

	slog.InfoContext(ctx, "Subscription deleted", "platform", platform, "external_id", externalID, "subscriber_scope", scope, "subscriber_id", subscriberID, "remaining", remaining)
	return nil
}

func (s *Service) List(ctx context.Context, scope domain.SubscriberScope, subscriberID string) ([]domain.Subscription, error) {
	if !scope.Valid() {
		return nil, domain.ErrInvalidScope
	}
	return s.subs.ListBySubscriber(ctx, scope, subscriberID)
}

func (s *Service) Settings(ctx context.Context, scope domain.SubscriberScope, subscriberID string) (domain.SubscriberSettings, error) {
	if !scope.Valid() {
		return domain.SubscriberSettings{}, domain.ErrInvalidScope
	}
	return s.cache.Get(ctx, scope, subscriberID)
}

func (s *Service) SetChannel(ctx context.Context, scope domain.SubscriberScope, subscriberID, channelID string) (domain.SubscriberSettings, error) {
	return s.updateSettings(ctx, scope, subscriberID, func(st *domain.SubscriberSettings) error {
		st.ChannelID = channelID
		return nil
	})
}

func (s *Service) SetLocale(ctx context.Context, scope domain.SubscriberScope, subscriberID, locale string) (domain.SubscriberSettings, error) {
	return s.updateSettings(ctx, scope, subscriberID, func(st *domain.SubscriberSettings) error {
		if n := len(locale); n < 2 || n > 16 {
			return fmt.Errorf("%w: locale %q", domain.ErrInvalidInput, locale)
		}
		st.Locale = locale
		return nil
	})
}

// SetMention toggles "@everyone" for one streamer. Only guilds can mention.
func (s *Service) SetMention(ctx context.Context, scope domain.SubscriberScope, subscriberID, platform, externalID string, enabled bool) (domain.SubscriberSettings, error) {
	if scope != domain.ScopeGuild {
		return domain.SubscriberSettings{}, fmt.Errorf("%w: mentions are a guild setting", domain.ErrInvalidInput)
	}
	return s.updateSettings(ctx, scope, subscriberID, func(st *domain.SubscriberSettings) error {
		*st = st.WithMention(platform, externalID, enabled)
		return nil
	})
}

// updateSettings edits the stored row, then drops the cached copy here and
// on every other shard.
func (s *Service) updateSettings(ctx context.Context, scope domain.SubscriberScope, subscriberID string, edit func(*domain.SubscriberSettings) error) (domain.SubscriberSettings, error) {
	if !scope.Valid() {
		return domain.SubscriberSettings{}, domain.ErrInvalidScope
	}

	current := domain.DefaultSettings(scope, subscriberID)
	stored, err := s.settings.Get(ctx, scope, subscriberID)
	switch {
	case err == nil:
		current = *stored
	case !errors.Is(err, domain.ErrSettingsNotFound):
		return domain.SubscriberSettings{}, err
	}

	if err := edit(&current); err != nil {
		return domain.SubscriberSettings{}, err
	}
	current.UpdatedAt = s.clock.Now()

	if err := s.settings.Upsert(ctx, current); err != nil {
		return domain.SubscriberSettings{}, err
	}

	s.cache.Invalidate(scope, subscriberID)
	if s.invalidator != nil {
		if err := s.invalidator.PublishSettingsInvalidation(ctx, scope, subscriberID); err != nil {
			slog.WarnContext(ctx, "Failed to publish settings invalidation", "subscriber_scope", scope, "subscriber_id", subscriberID, "error", err)
		}
	}
	return current, nil
}

// Resync makes every provider track exactly the streamers that have at
// least one subscription. It runs on the shard that owns the providers.
func (s *Service) Resync(ctx context.Context) error {
	var errs []error
	for _, p := range s.providers.All() {
		refs, err := s.subs.ListStreamers(ctx, p.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: failed to list streamers: %w", p.Name(), err))
			continue
		}

		wanted := make(map[string]struct{}, len(refs))
		added := 0
		for _, ref := range refs {
			wanted[ref.ExternalID] = struct{}{}
			if p.IsSubscribed(ref.ExternalID) {
				continue
			}
			if err := p.AddSubscription(ctx, ref); err != nil && !errors.Is(err, domain.ErrAlreadyTracked) {
				errs = append(errs, fmt.Errorf("%s: track %s: %w", p.Name(), ref.ExternalID, err))
				continue
			}
			added++
		}

		removed := 0
		if lister, ok := p.(interface{ Tracked() []string }); ok {
			for _, id := range lister.Tracked() {
				if _, keep := wanted[id]; keep {
					continue
				}
				if err := p.RemoveSubscription(ctx, id); err != nil && !errors.Is(err, domain.ErrNotTracked) {
					errs = append(errs, fmt.Errorf("%s: free %s: %w", p.Name(), id, err))
					continue
				}
				removed++
			}
		}

		slog.InfoContext(ctx, "Provider resynced", "platform", p.Name(), "streamers", len(refs), "added", added, "removed", removed)
	}
	return errors.Join(errs...)
}
