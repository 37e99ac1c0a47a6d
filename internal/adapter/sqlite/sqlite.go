// Package sqlite is the embedded store for single-node deployments. It
// implements the same repositories as the postgres adapter on one file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

type DB struct {
	db *sql.DB
}

// Open creates the file's directory if needed, opens the database and
// applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; also keeps an in-memory database on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("SQLite store opened", "path", path)
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) migrate(ctx context.Context) error {
	migrations := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			platform TEXT NOT NULL,
			external_id TEXT NOT NULL,
			subscriber_scope TEXT NOT NULL CHECK (subscriber_scope IN ('guild', 'user')),
			subscriber_id TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (platform, external_id, subscriber_scope, subscriber_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_subscriber ON subscriptions(subscriber_scope, subscriber_id)`,
		`CREATE TABLE IF NOT EXISTS subscriber_settings (
			scope TEXT NOT NULL,
			subscriber_id TEXT NOT NULL,
			channel_id TEXT NOT NULL DEFAULT '',
			locale TEXT NOT NULL DEFAULT 'en-US',
			mention_everyone TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (scope, subscriber_id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			subscriber_scope TEXT NOT NULL,
			subscriber_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			external_id TEXT NOT NULL,
			stream_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			sent_at INTEGER NOT NULL,
			PRIMARY KEY (subscriber_id, platform, external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_sent_at ON notifications(sent_at)`,
		`CREATE TABLE IF NOT EXISTS webhook_hooks (
			hook_id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			streamer_id TEXT NOT NULL,
			secret TEXT NOT NULL,
			lease_seconds INTEGER NOT NULL,
			registered_at INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_hooks_streamer ON webhook_hooks(platform, streamer_id)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Times are stored as unix milliseconds in UTC.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
