package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pscheid92/streamnotify/internal/domain"
)

// SubscriptionRepo

type SubscriptionRepo struct {
	db *sql.DB
}

func NewSubscriptionRepo(d *DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: d.db}
}

const subscriptionColumns = `platform, external_id, subscriber_scope, subscriber_id, display_name, created_at`

func scanSubscriptions(rows *sql.Rows) ([]domain.Subscription, error) {
	defer rows.Close()
	var out []domain.Subscription
	for rows.Next() {
		var s domain.Subscription
		var created int64
		if err := rows.Scan(&s.Platform, &s.ExternalID, &s.Scope, &s.SubscriberID, &s.DisplayName, &created); err != nil {
			return nil, err
		}
		s.CreatedAt = fromMillis(created)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SubscriptionRepo) Create(ctx context.Context, sub domain.Subscription) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		sub.Platform, sub.ExternalID, string(sub.Scope), sub.SubscriberID, sub.DisplayName, toMillis(sub.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAlreadySubscribed
	}
	return nil
}

func (r *SubscriptionRepo) Delete(ctx context.Context, platform, externalID string, scope domain.SubscriberScope, subscriberID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE platform = ? AND external_id = ? AND subscriber_scope = ? AND subscriber_id = ?`,
		platform, externalID, string(scope), subscriberID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

func (r *SubscriptionRepo) ListByStreamer(ctx context.Context, platform, externalID string) ([]domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE platform = ? AND external_id = ?
		ORDER BY created_at, subscriber_scope, subscriber_id`,
		platform, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions by streamer: %w", err)
	}
	return scanSubscriptions(rows)
}

func (r *SubscriptionRepo) ListBySubscriber(ctx context.Context, scope domain.SubscriberScope, subscriberID string) ([]domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscriber_scope = ? AND subscriber_id = ?
		ORDER BY platform, display_name`,
		string(scope), subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions by subscriber: %w", err)
	}
	return scanSubscriptions(rows)
}

func (r *SubscriptionRepo) ListStreamers(ctx context.Context, platform string) ([]domain.StreamerRef, error) {
	rows, err := r.db.QueryContext(ctx,
		// bare columns next to max() come from the newest row of each group
		`SELECT external_id, display_name, max(created_at) FROM subscriptions
		WHERE platform = ?
		GROUP BY external_id
		ORDER BY external_id`,
		platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list streamers: %w", err)
	}
	defer rows.Close()

	var out []domain.StreamerRef
	for rows.Next() {
		ref := domain.StreamerRef{Platform: platform}
		var newest int64
		if err := rows.Scan(&ref.ExternalID, &ref.DisplayName, &newest); err != nil {
			return nil, fmt.Errorf("failed to scan streamer: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (r *SubscriptionRepo) CountByStreamer(ctx context.Context, platform, externalID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM subscriptions WHERE platform = ? AND external_id = ?`, platform, externalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return n, nil
}

func (r *SubscriptionRepo) UpdateDisplayName(ctx context.Context, platform, externalID, displayName string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET display_name = ? WHERE platform = ? AND external_id = ?`,
		displayName, platform, externalID)
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}
	return nil
}

// SettingsRepo

type SettingsRepo struct {
	db *sql.DB
}

func NewSettingsRepo(d *DB) *SettingsRepo {
	return &SettingsRepo{db: d.db}
}

func (r *SettingsRepo) Get(ctx context.Context, scope domain.SubscriberScope, subscriberID string) (*domain.SubscriberSettings, error) {
	s := domain.SubscriberSettings{Scope: scope, SubscriberID: subscriberID}
	var mentions string
	var updated int64
	err := r.db.QueryRowContext(ctx,
		`SELECT channel_id, locale, mention_everyone, updated_at FROM subscriber_settings WHERE scope = ? AND subscriber_id = ?`,
		string(scope), subscriberID).Scan(&s.ChannelID, &s.Locale, &mentions, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber settings: %w", err)
	}
	if err := json.Unmarshal([]byte(mentions), &s.MentionEveryone); err != nil {
		return nil, fmt.Errorf("failed to decode mention list: %w", err)
	}
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}

func (r *SettingsRepo) Upsert(ctx context.Context, s domain.SubscriberSettings) error {
	mentions := s.MentionEveryone
	if mentions == nil {
		mentions = []string{}
	}
	encoded, err := json.Marshal(mentions)
	if err != nil {
		return fmt.Errorf("failed to encode mention list: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO subscriber_settings (scope, subscriber_id, channel_id, locale, mention_everyone, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, subscriber_id) DO UPDATE SET
			channel_id = excluded.channel_id,
			locale = excluded.locale,
			mention_everyone = excluded.mention_everyone,
			updated_at = excluded.updated_at`,
		string(s.Scope), s.SubscriberID, s.ChannelID, s.Locale, string(encoded), toMillis(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert subscriber settings: %w", err)
	}
	return nil
}

// NotificationRepo

type NotificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(d *DB) *NotificationRepo {
	return &NotificationRepo{db: d.db}
}

const notificationColumns = `subscriber_scope, subscriber_id, platform, external_id, stream_id, channel_id, message_id, sent_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (domain.NotificationRecord, error) {
	var n domain.NotificationRecord
	var sent int64
	if err := row.Scan(&n.Scope, &n.SubscriberID, &n.Platform, &n.ExternalID, &n.StreamID, &n.ChannelID, &n.MessageID, &sent); err != nil {
		return n, err
	}
	n.SentAt = fromMillis(sent)
	return n, nil
}

func (r *NotificationRepo) Get(ctx context.Context, subscriberID, platform, externalID string) (*domain.NotificationRecord, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE subscriber_id = ? AND platform = ? AND external_id = ?`,
		subscriberID, platform, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification record: %w", err)
	}
	return &n, nil
}

func (r *NotificationRepo) Upsert(ctx context.Context, n domain.NotificationRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subscriber_id, platform, external_id) DO UPDATE SET
			subscriber_scope = excluded.subscriber_scope,
			stream_id = excluded.stream_id,
			channel_id = excluded.channel_id,
			message_id = excluded.message_id,
			sent_at = excluded.sent_at`,
		string(n.Scope), n.SubscriberID, n.Platform, n.ExternalID, n.StreamID, n.ChannelID, n.MessageID, toMillis(n.SentAt))
	if err != nil {
		return fmt.Errorf("failed to upsert notification record: %w", err)
	}
	return nil
}

func (r *NotificationRepo) Delete(ctx context.Context, subscriberID, platform, externalID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE subscriber_id = ? AND platform = ? AND external_id = ?`,
		subscriberID, platform, externalID)
	if err != nil {
		return fmt.Errorf("failed to delete notification record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepo) DeleteSentBefore(ctx context.Context, subscriberID, platform, externalID string, cutoff time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE subscriber_id = ? AND platform = ? AND external_id = ? AND sent_at < ?`,
		subscriberID, platform, externalID, toMillis(cutoff))
	if err != nil {
		return false, fmt.Errorf("failed to delete stale notification record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete stale notification record: %w", err)
	}
	return n > 0, nil
}

func (r *NotificationRepo) List(ctx context.Context) ([]domain.NotificationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications ORDER BY sent_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification records: %w", err)
	}
	defer rows.Close()

	var out []domain.NotificationRecord
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification record: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// HookRepo

type HookRepo struct {
	db *sql.DB
}

func NewHookRepo(d *DB) *HookRepo {
	return &HookRepo{db: d.db}
}

const hookColumns = `hook_id, platform, streamer_id, secret, lease_seconds, registered_at, created_at`

func scanHook(row scanner) (domain.Hook, error) {
	var h domain.Hook
	var registered sql.NullInt64
	var created int64
	if err := row.Scan(&h.ID, &h.Platform, &h.StreamerID, &h.Secret, &h.LeaseSeconds, &registered, &created); err != nil {
		return h, err
	}
	if registered.Valid {
		t := fromMillis(registered.Int64)
		h.RegisteredAt = &t
	}
	h.CreatedAt = fromMillis(created)
	return h, nil
}

func (r *HookRepo) queryHooks(ctx context.Context, query string, args ...any) ([]domain.Hook, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list hooks: %w", err)
	}
	defer rows.Close()

	var out []domain.Hook
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hook: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *HookRepo) Create(ctx context.Context, h domain.Hook) error {
	var registered sql.NullInt64
	if h.RegisteredAt != nil {
		registered = sql.NullInt64{Int64: toMillis(*h.RegisteredAt), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_hooks (`+hookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Platform, h.StreamerID, h.Secret, h.LeaseSeconds, registered, toMillis(h.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create hook: %w", err)
	}
	return nil
}

func (r *HookRepo) Get(ctx context.Context, hookID string) (*domain.Hook, error) {
	h, err := scanHook(r.db.QueryRowContext(ctx, `SELECT `+hookColumns+` FROM webhook_hooks WHERE hook_id = ?`, hookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrHookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hook: %w", err)
	}
	return &h, nil
}

func (r *HookRepo) ListByStreamer(ctx context.Context, platform, streamerID string) ([]domain.Hook, error) {
	return r.queryHooks(ctx, `SELECT `+hookColumns+` FROM webhook_hooks WHERE platform = ? AND streamer_id = ? ORDER BY created_at`, platform, streamerID)
}

func (r *HookRepo) List(ctx context.Context) ([]domain.Hook, error) {
	return r.queryHooks(ctx, `SELECT `+hookColumns+` FROM webhook_hooks ORDER BY created_at`)
}

func (r *HookRepo) Activate(ctx context.Context, hookID string, registeredAt time.Time, leaseSeconds int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE webhook_hooks SET registered_at = ?, lease_seconds = ? WHERE hook_id = ?`,
		toMillis(registeredAt), leaseSeconds, hookID)
	if err != nil {
		return fmt.Errorf("failed to activate hook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrHookNotFound
	}
	return nil
}

func (r *HookRepo) Delete(ctx context.Context, hookID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_hooks WHERE hook_id = ?`, hookID)
	if err != nil {
		return fmt.Errorf("failed to delete hook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrHookNotFound
	}
	return nil
}

var (
	_ domain.SubscriptionRepository = (*SubscriptionRepo)(nil)
	_ domain.SettingsRepository     = (*SettingsRepo)(nil)
	_ domain.NotificationRepository = (*NotificationRepo)(nil)
	_ domain.HookRepository         = (*HookRepo)(nil)
)
