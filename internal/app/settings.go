package app

import (
	"context"
	"errors"
	"sync"

	"github.com/pscheid92/streamnotify/internal/domain"
)

// SettingsCache keeps subscriber settings in memory with no expiry. Entries
// are dropped only by Invalidate, which runs after every settings edit on any
// shard.
type SettingsCache struct {
	repo domain.SettingsRepository

	mu      sync.RWMutex
	entries map[string]domain.SubscriberSettings
	// gens counts invalidations per key. A load only lands in entries when
	// no invalidation happened while it was reading the repository.
	gens map[string]uint64
}

func NewSettingsCache(repo domain.SettingsRepository) *SettingsCache {
	return &SettingsCache{
		repo:    repo,
		entries: make(map[string]domain.SubscriberSettings),
		gens:    make(map[string]uint64),
	}
}

func settingsKey(scope domain.SubscriberScope, subscriberID string) string {
	return string(scope) + ":" + subscriberID
}

// Get returns the cached settings, loading them on a miss. Subscribers
// without a stored row get DefaultSettings.
func (c *SettingsCache) Get(ctx context.Context, scope domain.SubscriberScope, subscriberID string) (domain.SubscriberSettings, error) {
	key := settingsKey(scope, subscriberID)

	c.mu.RLock()
	s, ok := c.entries[key]
	gen := c.gens[key]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	stored, err := c.repo.Get(ctx, scope, subscriberID)
	switch {
	case errors.Is(err, domain.ErrSettingsNotFound):
		s = domain.DefaultSettings(scope, subscriberID)
	case err != nil:
		return domain.SubscriberSettings{}, err
	default:
		s = *stored
	}

	c.mu.Lock()
	if c.gens[key] == gen {
		c.entries[key] = s
	}
	c.mu.Unlock()
	return s, nil
}

func (c *SettingsCache) Invalidate(scope domain.SubscriberScope, subscriberID string) {
	key := settingsKey(scope, subscriberID)
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
}

func (c *SettingsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
