package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/streamnotify/internal/domain"
)

type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

const notificationColumns = `subscriber_scope, subscriber_id, platform, external_id, stream_id, channel_id, message_id, sent_at`

func scanNotification(row pgx.Row) (domain.NotificationRecord, error) {
	var n domain.NotificationRecord
	err := row.Scan(&n.Scope, &n.SubscriberID, &n.Platform, &n.ExternalID, &n.StreamID, &n.ChannelID, &n.MessageID, &n.SentAt)
	return n, err
}

func (r *NotificationRepo) Get(ctx context.Context, subscriberID, platform, externalID string) (*domain.NotificationRecord, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE subscriber_id = $1 AND platform = $2 AND external_id = $3`,
		subscriberID, platform, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification record: %w", err)
	}
	return &n, nil
}

// Upsert replaces the row for the record's key; the primary key is what
// keeps one record per subscriber and streamer.
func (r *NotificationRepo) Upsert(ctx context.Context, n domain.NotificationRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subscriber_id, platform, external_id) DO UPDATE SET
			subscriber_scope = EXCLUDED.subscriber_scope,
			stream_id = EXCLUDED.stream_id,
			channel_id = EXCLUDED.channel_id,
			message_id = EXCLUDED.message_id,
			sent_at = EXCLUDED.sent_at`,
		n.Scope, n.SubscriberID, n.Platform, n.ExternalID, n.StreamID, n.ChannelID, n.MessageID, n.SentAt)
	if err != nil {
		return fmt.Errorf("failed to upsert notification record: %w", err)
	}
	return nil
}

func (r *NotificationRepo) Delete(ctx context.Context, subscriberID, platform, externalID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE subscriber_id = $1 AND platform = $2 AND external_id = $3`,
		subscriberID, platform, externalID)
	if err != nil {
		return fmt.Errorf("failed to delete notification record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepo) DeleteSentBefore(ctx context.Context, subscriberID, platform, externalID string, cutoff time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE subscriber_id = $1 AND platform = $2 AND external_id = $3 AND sent_at < $4`,
		subscriberID, platform, externalID, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to delete stale notification record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *NotificationRepo) List(ctx context.Context) ([]domain.NotificationRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+` FROM notifications ORDER BY sent_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.NotificationRecord, error) {
		return scanNotification(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan notification records: %w", err)
	}
	return records, nil
}

var _ domain.NotificationRepository = (*NotificationRepo)(nil)
