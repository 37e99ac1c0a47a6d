package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/streamnotify/internal/domain"
)

type HookRepo struct {
	pool *pgxpool.Pool
}

func NewHookRepo(pool *pgxpool.Pool) *HookRepo {
	return &HookRepo{pool: pool}
}

const hookColumns = `hook_id::text, platform, streamer_id, secret, lease_seconds, registered_at, created_at`

func scanHook(row pgx.Row) (domain.Hook, error) {
	var h domain.Hook
	err := row.Scan(&h.ID, &h.Platform, &h.StreamerID, &h.Secret, &h.LeaseSeconds, &h.RegisteredAt, &h.CreatedAt)
	return h, err
}

func collectHooks(rows pgx.Rows) ([]domain.Hook, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Hook, error) {
		return scanHook(row)
	})
}

func (r *HookRepo) Create(ctx context.Context, h domain.Hook) error {
	id, err := uuid.Parse(h.ID)
	if err != nil {
		return fmt.Errorf("%w: hook id %q", domain.ErrInvalidInput, h.ID)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO webhook_hooks (hook_id, platform, streamer_id, secret, lease_seconds, registered_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, h.Platform, h.StreamerID, h.Secret, h.LeaseSeconds, h.RegisteredAt, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create hook: %w", err)
	}
	return nil
}

// Get treats ids that are not UUIDs as unknown; they come straight from
// the callback path.
func (r *HookRepo) Get(ctx context.Context, hookID string) (*domain.Hook, error) {
	id, err := uuid.Parse(hookID)
	if err != nil {
		return nil, domain.ErrHookNotFound
	}
	h, err := scanHook(r.pool.QueryRow(ctx, `SELECT `+hookColumns+` FROM webhook_hooks WHERE hook_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrHookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hook: %w", err)
	}
	return &h, nil
}

func (r *HookRepo) ListByStreamer(ctx context.Context, platform, streamerID string) ([]domain.Hook, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+hookColumns+` FROM webhook_hooks
		WHERE platform = $1 AND streamer_id = $2
		ORDER BY created_at`,
		platform, streamerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hooks by streamer: %w", err)
	}
	hooks, err := collectHooks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan hooks: %w", err)
	}
	return hooks, nil
}

func (r *HookRepo) List(ctx context.Context) ([]domain.Hook, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+hookColumns+` FROM webhook_hooks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hooks: %w", err)
	}
	hooks, err := collectHooks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan hooks: %w", err)
	}
	return hooks, nil
}

func (r *HookRepo) Activate(ctx context.Context, hookID string, registeredAt time.Time, leaseSeconds int) error {
	id, err := uuid.Parse(hookID)
	if err != nil {
		return domain.ErrHookNotFound
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_hooks SET registered_at = $2, lease_seconds = $3 WHERE hook_id = $1`,
		id, registeredAt, leaseSeconds)
	if err != nil {
		return fmt.Errorf("failed to activate hook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHookNotFound
	}
	return nil
}

func (r *HookRepo) Delete(ctx context.Context, hookID string) error {
	id, err := uuid.Parse(hookID)
	if err != nil {
		return domain.ErrHookNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_hooks WHERE hook_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete hook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHookNotFound
	}
	return nil
}

var _ domain.HookRepository = (*HookRepo)(nil)
