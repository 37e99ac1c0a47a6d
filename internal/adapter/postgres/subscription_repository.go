package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/streamnotify/internal/domain"
)

const uniqueViolation = "23505"

type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

const subscriptionColumns = `platform, external_id, subscriber_scope, subscriber_id, display_name, created_at`

func scanSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Subscription, error) {
		var s domain.Subscription
		err := row.Scan(&s.Platform, &s.ExternalID, &s.Scope, &s.SubscriberID, &s.DisplayName, &s.CreatedAt)
		return s, err
	})
}

func (r *SubscriptionRepo) Create(ctx context.Context, sub domain.Subscription) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.Platform, sub.ExternalID, sub.Scope, sub.SubscriberID, sub.DisplayName, sub.CreatedAt)
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr.Code == uniqueViolation {
		return domain.ErrAlreadySubscribed
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) Delete(ctx context.Context, platform, externalID string, scope domain.SubscriberScope, subscriberID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM subscriptions
		WHERE platform = $1 AND external_id = $2 AND subscriber_scope = $3 AND subscriber_id = $4`,
		platform, externalID, scope, subscriberID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

func (r *SubscriptionRepo) ListByStreamer(ctx context.Context, platform, externalID string) ([]domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE platform = $1 AND external_id = $2
		ORDER BY created_at, subscriber_scope, subscriber_id`,
		platform, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions by streamer: %w", err)
	}
	subs, err := scanSubscriptions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscriptions: %w", err)
	}
	return subs, nil
}

func (r *SubscriptionRepo) ListBySubscriber(ctx context.Context, scope domain.SubscriberScope, subscriberID string) ([]domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE subscriber_scope = $1 AND subscriber_id = $2
		ORDER BY platform, display_name`,
		scope, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions by subscriber: %w", err)
	}
	subs, err := scanSubscriptions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscriptions: %w", err)
	}
	return subs, nil
}

// ListStreamers returns every streamer of the platform with at least one
// subscription, carrying the most recently stored display name.
func (r *SubscriptionRepo) ListStreamers(ctx context.Context, platform string) ([]domain.StreamerRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (external_id) platform, external_id, display_name
		FROM subscriptions
		WHERE platform = $1
		ORDER BY external_id, created_at DESC`,
		platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list streamers: %w", err)
	}
	refs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.StreamerRef])
	if err != nil {
		return nil, fmt.Errorf("failed to scan streamers: %w", err)
	}
	return refs, nil
}

func (r *SubscriptionRepo) CountByStreamer(ctx context.Context, platform, externalID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM subscriptions WHERE platform = $1 AND external_id = $2`,
		platform, externalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return n, nil
}

func (r *SubscriptionRepo) UpdateDisplayName(ctx context.Context, platform, externalID, displayName string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE subscriptions SET display_name = $3
		WHERE platform = $1 AND external_id = $2 AND display_name <> $3`,
		platform, externalID, displayName)
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}
	return nil
}

var _ domain.SubscriptionRepository = (*SubscriptionRepo)(nil)
