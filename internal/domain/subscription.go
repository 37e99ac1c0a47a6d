package domain

import (
	"context"
	"time"
)

type SubscriberScope string

const (
	ScopeGuild SubscriberScope = "guild"
	ScopeUser  SubscriberScope = "user"
)

func (s SubscriberScope) Valid() bool {
	return s == ScopeGuild || s == ScopeUser
}

func ParseScope(raw string) (SubscriberScope, error) {
	scope := SubscriberScope(raw)
	if !scope.Valid() {
		return "", ErrInvalidScope
	}
	return scope, nil
}

// Subscription pairs a streamer with one subscriber (guild or user).
type Subscription struct {
	Platform     string          `json:"platform"`
	ExternalID   string          `json:"externalId"`
	Scope        SubscriberScope `json:"subscriberScope"`
	SubscriberID string          `json:"subscriberId"`
	DisplayName  string          `json:"displayName"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (s Subscription) Streamer() StreamerRef {
	return StreamerRef{Platform: s.Platform, ExternalID: s.ExternalID, DisplayName: s.DisplayName}
}

// SubscriberSettings is read on every dispatch. MentionEveryone holds
// streamer keys (see StreamerKey) for which "@everyone" is enabled.
type SubscriberSettings struct {
	Scope           SubscriberScope
	SubscriberID    string
	ChannelID       string
	Locale          string
	MentionEveryone []string
	UpdatedAt       time.Time
}

const DefaultLocale = "en-US"

// DefaultSettings is what a subscriber gets before any explicit edit.
func DefaultSettings(scope SubscriberScope, subscriberID string) SubscriberSettings {
	return SubscriberSettings{Scope: scope, SubscriberID: subscriberID, Locale: DefaultLocale}
}

func (s SubscriberSettings) MentionsEveryone(platform, externalID string) bool {
	key := StreamerKey(platform, externalID)
	for _, k := range s.MentionEveryone {
		if k == key {
			return true
		}
	}
	return false
}

// WithMention returns a copy with the mention flag for the streamer set or cleared.
func (s SubscriberSettings) WithMention(platform, externalID string, enabled bool) SubscriberSettings {
	key := StreamerKey(platform, externalID)
	out := make([]string, 0, len(s.MentionEveryone)+1)
	for _, k := range s.MentionEveryone {
		if k != key {
			out = append(out, k)
		}
	}
	if enabled {
		out = append(out, key)
	}
	s.MentionEveryone = out
	return s
}

// SubscriptionRepository persists Subscription rows keyed by
// (platform, externalId, scope, subscriberId).
type SubscriptionRepository interface {
	Create(ctx context.Context, sub Subscription) error
	Delete(ctx context.Context, platform, externalID string, scope SubscriberScope, subscriberID string) error
	ListByStreamer(ctx context.Context, platform, externalID string) ([]Subscription, error)
	ListBySubscriber(ctx context.Context, scope SubscriberScope, subscriberID string) ([]Subscription, error)
	ListStreamers(ctx context.Context, platform string) ([]StreamerRef, error)
	CountByStreamer(ctx context.Context, platform, externalID string) (int, error)
	UpdateDisplayName(ctx context.Context, platform, externalID, displayName string) error
}

// SettingsRepository persists SubscriberSettings keyed by (scope, subscriberId).
type SettingsRepository interface {
	Get(ctx context.Context, scope SubscriberScope, subscriberID string) (*SubscriberSettings, error)
	Upsert(ctx context.Context, settings SubscriberSettings) error
}

// SettingsInvalidator tells every process to drop a cached settings entry.
type SettingsInvalidator interface {
	PublishSettingsInvalidation(ctx context.Context, scope SubscriberScope, subscriberID string) error
}
