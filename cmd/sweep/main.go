package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/pscheid92/streamnotify/internal/adapter/postgres"
	"github.com/pscheid92/streamnotify/internal/adapter/sqlite"
	"github.com/pscheid92/streamnotify/internal/app"
	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/config"
	"github.com/pscheid92/streamnotify/internal/platform/logging"
)

const sweepTimeout = 5 * time.Minute

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	var (
		driver      = flag.String("driver", envOr("STORE_DRIVER", config.StoreDriverPostgres), "Store driver, postgres or sqlite (or set STORE_DRIVER env)")
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		sqlitePath  = flag.String("sqlite", envOr("SQLITE_PATH", "data/streamnotify.db"), "SQLite file (or set SQLITE_PATH env)")
		retention   = flag.Duration("retention", app.DefaultRetention, "Delete notification records older than this")
		dryRun      = flag.Bool("dry-run", false, "Only report the records that would be deleted")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	slog.SetDefault(logging.NewLogger(os.Stdout, level, "text"))

	if *retention <= 0 {
		log.Fatal("Retention must be positive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	records, closeStore, err := openNotifications(ctx, *driver, *databaseURL, *sqlitePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	sweeper := app.NewSweeper(app.SweeperConfig{
		Notifications: records,
		Retention:     *retention,
	})

	if *dryRun {
		if err := report(ctx, sweeper); err != nil {
			log.Fatalf("Dry run failed: %v", err)
		}
		return
	}

	deleted, err := sweeper.Sweep(ctx)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	slog.Info("Sweep complete", "deleted", deleted, "retention", *retention)
}

func openNotifications(ctx context.Context, driver, databaseURL, sqlitePath string) (domain.NotificationRepository, func(), error) {
	switch driver {
	case config.StoreDriverSQLite:
		db, err := sqlite.Open(ctx, sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Connected to SQLite", "path", sqlitePath)
		return sqlite.NewNotificationRepo(db), func() { _ = db.Close() }, nil

	case config.StoreDriverPostgres:
		if databaseURL == "" {
			return nil, nil, fmt.Errorf("database URL required (--database or DATABASE_URL env)")
		}
		pool, err := postgres.Connect(ctx, databaseURL, nil)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Connected to Postgres", "url", sanitizeURL(databaseURL))
		return postgres.NewNotificationRepo(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown driver %q", driver)
	}
}

func report(ctx context.Context, sweeper *app.Sweeper) error {
	stale, err := sweeper.Stale(ctx)
	if err != nil {
		return err
	}
	for _, rec := range stale {
		slog.Info("Would delete",
			"subscriber_scope", rec.Scope,
			"subscriber_id", rec.SubscriberID,
			"platform", rec.Platform,
			"external_id", rec.ExternalID,
			"message_id", rec.MessageID,
			"sent_at", rec.SentAt.Format(time.RFC3339))
	}
	slog.Info("Dry run summary", "stale", len(stale), "retention", sweeper.Retention())
	return nil
}

// sanitizeURL hides the password for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
