package domain

import (
	"context"
	"time"
)

// NotificationRecord is the message a subscriber currently sees for a
// streamer. At most one exists per (SubscriberID, Platform, ExternalID).
type NotificationRecord struct {
	Scope        SubscriberScope
	SubscriberID string
	Platform     string
	ExternalID   string
	StreamID     string
	ChannelID    string
	MessageID    string
	SentAt       time.Time
}

// NotificationRepository persists NotificationRecords. Upsert replaces the
// row for the record's key, which is what keeps the single-record invariant
// at the storage level.
type NotificationRepository interface {
	Get(ctx context.Context, subscriberID, platform, externalID string) (*NotificationRecord, error)
	Upsert(ctx context.Context, rec NotificationRecord) error
	Delete(ctx context.Context, subscriberID, platform, externalID string) error
	// DeleteSentBefore deletes the row only while its sent_at is still before
	// cutoff and reports whether it did. A record refreshed since it was
	// listed survives.
	DeleteSentBefore(ctx context.Context, subscriberID, platform, externalID string, cutoff time.Time) (bool, error)
	List(ctx context.Context) ([]NotificationRecord, error)
}
