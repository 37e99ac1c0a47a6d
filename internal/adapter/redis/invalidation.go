package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/streamnotify/internal/domain"
)

const settingsInvalidationChannel = "settings:invalidate"

// SettingsInvalidator publishes "scope:subscriberId" whenever a shard edits
// subscriber settings.
type SettingsInvalidator struct {
	rdb *goredis.Client
}

func NewSettingsInvalidator(rdb *goredis.Client) *SettingsInvalidator {
	return &SettingsInvalidator{rdb: rdb}
}

func (p *SettingsInvalidator) PublishSettingsInvalidation(ctx context.Context, scope domain.SubscriberScope, subscriberID string) error {
	if err := p.rdb.Publish(ctx, settingsInvalidationChannel, string(scope)+":"+subscriberID).Err(); err != nil {
		return fmt.Errorf("failed to publish settings invalidation: %w", err)
	}
	return nil
}

var _ domain.SettingsInvalidator = (*SettingsInvalidator)(nil)

// SettingsCache is the local cache an invalidation drops entries from.
type SettingsCache interface {
	Invalidate(scope domain.SubscriberScope, subscriberID string)
}

type SettingsInvalidationSubscriber struct {
	rdb   *goredis.Client
	cache SettingsCache
}

func NewSettingsInvalidationSubscriber(rdb *goredis.Client, cache SettingsCache) *SettingsInvalidationSubscriber {
	return &SettingsInvalidationSubscriber{rdb: rdb, cache: cache}
}

// Start blocks until ctx is cancelled.
func (s *SettingsInvalidationSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, settingsInvalidationChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			s.handleInvalidation(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *SettingsInvalidationSubscriber) handleInvalidation(payload string) {
	rawScope, subscriberID, ok := strings.Cut(payload, ":")
	if !ok || subscriberID == "" {
		slog.Warn("Malformed settings invalidation message", "payload", payload)
		return
	}
	scope, err := domain.ParseScope(rawScope)
	if err != nil {
		slog.Warn("Malformed settings invalidation message", "payload", payload, "error", err)
		return
	}

	s.cache.Invalidate(scope, subscriberID)
	slog.Debug("Settings cache invalidated via pub/sub", "subscriber_scope", scope, "subscriber_id", subscriberID)
}
