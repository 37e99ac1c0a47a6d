package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/streamnotify/internal/domain"
)

type SettingsRepo struct {
	pool *pgxpool.Pool
}

func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

func (r *SettingsRepo) Get(ctx context.Context, scope domain.SubscriberScope, subscriberID string) (*domain.SubscriberSettings, error) {
	s := domain.SubscriberSettings{Scope: scope, SubscriberID: subscriberID}
	err := r.pool.QueryRow(ctx, `
		SELECT channel_id, locale, mention_everyone, updated_at
		FROM subscriber_settings
		WHERE scope = $1 AND subscriber_id = $2`,
		scope, subscriberID).Scan(&s.ChannelID, &s.Locale, &s.MentionEveryone, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber settings: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepo) Upsert(ctx context.Context, s domain.SubscriberSettings) error {
	mentions := s.MentionEveryone
	if mentions == nil {
		mentions = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subscriber_settings (scope, subscriber_id, channel_id, locale, mention_everyone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scope, subscriber_id) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			locale = EXCLUDED.locale,
			mention_everyone = EXCLUDED.mention_everyone,
			updated_at = EXCLUDED.updated_at`,
		s.Scope, s.SubscriberID, s.ChannelID, s.Locale, mentions, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscriber settings: %w", err)
	}
	return nil
}

var _ domain.SettingsRepository = (*SettingsRepo)(nil)
