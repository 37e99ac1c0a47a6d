package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	StoreDriver string `env:"STORE_DRIVER" default:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" default:"data/streamnotify.db"`
	RedisURL    string `env:"REDIS_URL"`

	DiscordToken    string `env:"DISCORD_TOKEN"`
	DiscordCommands bool   `env:"DISCORD_COMMANDS" default:"true"`
	ShardID         int    `env:"SHARD_ID" default:"0"`
	ShardCount      int    `env:"SHARD_COUNT" default:"1"`

	PublicURL     string        `env:"PUBLIC_URL"`
	WebhookPath   string        `env:"WEBHOOK_PATH" default:"/webhooks"`
	WebhookLease  time.Duration `env:"WEBHOOK_LEASE" default:"24h"`
	HookSecretKey string        `env:"HOOK_SECRET_KEY"` // 64 hex chars; hook secrets are stored in clear when empty

	TwitchClientID     string        `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string        `env:"TWITCH_CLIENT_SECRET"`
	TwitchPollInterval time.Duration `env:"TWITCH_POLL_INTERVAL" default:"1m"`
	TwitchWebhooks     bool          `env:"TWITCH_WEBHOOKS" default:"false"`

	MixerEnabled      bool          `env:"MIXER_ENABLED" default:"false"`
	MixerPollInterval time.Duration `env:"MIXER_POLL_INTERVAL" default:"1m"`

	YouTubeAPIKey       string        `env:"YOUTUBE_API_KEY"`
	YouTubePollInterval time.Duration `env:"YOUTUBE_POLL_INTERVAL" default:"5m"`

	NotificationRetention time.Duration `env:"NOTIFICATION_RETENTION" default:"24h"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL" default:"24h"`

	AdminToken string `env:"ADMIN_TOKEN"`
}

// IsLeadShard reports whether this process owns the provider adapters and webhooks.
func (c *Config) IsLeadShard() bool {
	return c.ShardID == 0
}

// Sharded reports whether cross-process coordination is needed.
func (c *Config) Sharded() bool {
	return c.ShardCount > 1
}

// TwitchEnabled reports whether Twitch credentials are configured.
func (c *Config) TwitchEnabled() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

// PushEnabled reports whether any adapter needs the public webhook endpoint.
func (c *Config) PushEnabled() bool {
	return (c.TwitchEnabled() && c.TwitchWebhooks) || c.YouTubeAPIKey != ""
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case StoreDriverSQLite:
		if cfg.Sharded() {
			return errors.New("STORE_DRIVER=sqlite cannot be shared across shards")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverSQLite)
	}

	if cfg.ShardCount < 1 {
		return errors.New("SHARD_COUNT must be at least 1")
	}
	if cfg.ShardID < 0 || cfg.ShardID >= cfg.ShardCount {
		return fmt.Errorf("SHARD_ID must be in [0, %d)", cfg.ShardCount)
	}
	if cfg.Sharded() && cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required when SHARD_COUNT > 1")
	}

	if cfg.PushEnabled() {
		u, err := url.Parse(cfg.PublicURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return errors.New("PUBLIC_URL must be an absolute URL when webhooks are enabled")
		}
	}
	if cfg.HookSecretKey != "" && len(cfg.HookSecretKey) != 64 {
		return errors.New("HOOK_SECRET_KEY must be 64 hex characters")
	}
	if cfg.WebhookLease < time.Minute {
		return errors.New("WEBHOOK_LEASE must be at least 1m")
	}

	if cfg.AdminToken != "" && (len(cfg.AdminToken) < 16 || len(cfg.AdminToken) > 128) {
		return errors.New("ADMIN_TOKEN must be between 16 and 128 characters")
	}

	return nil
}
