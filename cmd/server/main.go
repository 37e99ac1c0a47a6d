package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/streamnotify/internal/adapter/discord"
	"github.com/pscheid92/streamnotify/internal/adapter/httpserver"
	"github.com/pscheid92/streamnotify/internal/adapter/metrics"
	"github.com/pscheid92/streamnotify/internal/adapter/mixer"
	"github.com/pscheid92/streamnotify/internal/adapter/postgres"
	"github.com/pscheid92/streamnotify/internal/adapter/redis"
	"github.com/pscheid92/streamnotify/internal/adapter/sqlite"
	"github.com/pscheid92/streamnotify/internal/adapter/twitch"
	"github.com/pscheid92/streamnotify/internal/adapter/youtube"
	"github.com/pscheid92/streamnotify/internal/app"
	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/config"
	"github.com/pscheid92/streamnotify/internal/platform/crypto"
	"github.com/pscheid92/streamnotify/internal/platform/logging"
	"github.com/pscheid92/streamnotify/internal/platform/version"
	"github.com/pscheid92/streamnotify/internal/provider"
	"github.com/pscheid92/streamnotify/internal/webhook"
)

const (
	eventBuffer        = 256
	shardHeartbeat     = 15 * time.Second
	startupTimeout     = 30 * time.Second
	shutdownTimeout    = 10 * time.Second
	sweeperLockMinimum = time.Hour
)

// store bundles the repositories of whichever driver is configured.
type store struct {
	subscriptions domain.SubscriptionRepository
	settings      domain.SettingsRepository
	notifications domain.NotificationRepository
	hooks         domain.HookRepository
	ping          func(ctx context.Context) error
	close         func()
}

type observers struct {
	store    *metrics.StoreMetrics
	redis    *metrics.RedisMetrics
	provider *metrics.ProviderMetrics
	webhook  *metrics.WebhookMetrics
	dispatch *metrics.DispatchMetrics
	http     *metrics.HTTPMetrics
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStore(ctx context.Context, cfg *config.Config, observer postgres.QueryObserver) store {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if cfg.StoreDriver == config.StoreDriverSQLite {
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			slog.Error("Failed to open SQLite store", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		slog.Info("Using SQLite store", "path", cfg.SQLitePath)
		return store{
			subscriptions: sqlite.NewSubscriptionRepo(db),
			settings:      sqlite.NewSettingsRepo(db),
			notifications: sqlite.NewNotificationRepo(db),
			hooks:         sqlite.NewHookRepo(db),
			ping:          db.Ping,
			close:         func() { _ = db.Close() },
		}
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewTracer(observer))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	return store{
		subscriptions: postgres.NewSubscriptionRepo(pool),
		settings:      postgres.NewSettingsRepo(pool),
		notifications: postgres.NewNotificationRepo(pool),
		hooks:         postgres.NewHookRepo(pool),
		ping:          pool.Ping,
		close:         pool.Close,
	}
}

func setupRedis(ctx context.Context, cfg *config.Config, observer redis.Observer) *goredis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	client, err := redis.NewClient(ctx, cfg.RedisURL, observer)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupWebhooks(cfg *config.Config, hooks domain.HookRepository, clock clockwork.Clock, m webhook.Metrics) *webhook.Manager {
	if !cfg.PushEnabled() {
		return nil
	}
	cipher, err := crypto.New(cfg.HookSecretKey)
	if err != nil {
		slog.Error("Failed to create hook secret cipher", "error", err)
		os.Exit(1)
	}
	mgr, err := webhook.NewManager(webhook.NewSealedHooks(hooks, cipher), webhook.Config{
		PublicURL: cfg.PublicURL,
		Path:      cfg.WebhookPath,
		Lease:     cfg.WebhookLease,
		Clock:     clock,
		Metrics:   m,
	})
	if err != nil {
		slog.Error("Failed to create webhook manager", "error", err)
		os.Exit(1)
	}
	return mgr
}

// setupProviders builds every configured adapter. Adapters are constructed
// on all shards so any shard can resolve names, but only the lead starts them.
func setupProviders(ctx context.Context, cfg *config.Config, clock clockwork.Clock, hooks *webhook.Manager, sink chan<- domain.StreamStatus, m provider.Metrics) *provider.Registry {
	registry := provider.NewRegistry()

	if cfg.TwitchEnabled() {
		client, err := twitch.NewClient(twitch.ClientConfig{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
		})
		if err != nil {
			slog.Error("Failed to create Twitch client", "error", err)
			os.Exit(1)
		}
		registry.Register(twitch.NewPoller(client, twitch.PollerConfig{
			Interval: cfg.TwitchPollInterval,
			Clock:    clock,
			Sink:     sink,
			Metrics:  m,
		}))
		if cfg.TwitchWebhooks && hooks != nil {
			push := twitch.NewWebhookProvider(client, hooks, twitch.WebhookConfig{
				Clock:   clock,
				Sink:    sink,
				Metrics: m,
			})
			registry.Register(push)
			hooks.AddSource(push)
		}
	}

	if cfg.MixerEnabled {
		registry.Register(mixer.New(mixer.NewClient("", nil), mixer.Config{
			Interval: cfg.MixerPollInterval,
			Clock:    clock,
			Sink:     sink,
			Metrics:  m,
		}))
	}

	if cfg.YouTubeAPIKey != "" {
		client, err := youtube.NewClient(ctx, youtube.ClientConfig{APIKey: cfg.YouTubeAPIKey})
		if err != nil {
			slog.Error("Failed to create YouTube client", "error", err)
			os.Exit(1)
		}
		ytCfg := youtube.Config{
			Interval: cfg.YouTubePollInterval,
			Clock:    clock,
			Sink:     sink,
			Metrics:  m,
		}
		if hooks != nil {
			ytCfg.Hooks = hooks
		}
		yt := youtube.New(client, ytCfg)
		registry.Register(yt)
		if hooks != nil {
			hooks.AddSource(yt)
		}
	}

	slog.Info("Providers configured", "platforms", registry.Names())
	return registry
}

func setupObservers(reg prometheus.Registerer) *observers {
	return &observers{
		store:    metrics.NewStoreMetrics(reg),
		redis:    metrics.NewRedisMetrics(reg),
		provider: metrics.NewProviderMetrics(reg),
		webhook:  metrics.NewWebhookMetrics(reg),
		dispatch: metrics.NewDispatchMetrics(reg),
		http:     metrics.NewHTTPMetrics(reg),
	}
}

type shutdownDeps struct {
	cancel    context.CancelFunc
	srv       *httpserver.Server
	sweeper   *app.Sweeper
	providers *provider.Registry
	hooks     *webhook.Manager
	bot       *discord.Bot
	workers   *sync.WaitGroup
	lead      bool
}

func runGracefulShutdown(deps shutdownDeps) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := deps.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		deps.sweeper.Stop()
		if deps.lead {
			if err := deps.providers.StopAll(); err != nil {
				slog.Error("Failed to stop providers", "error", err)
			}
		}
		if deps.hooks != nil {
			deps.hooks.Close()
		}
		if err := deps.bot.Close(); err != nil {
			slog.Error("Failed to close Discord session", "error", err)
		}

		deps.cancel()
		deps.workers.Wait()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	lead := cfg.IsLeadShard()
	instanceID := uuid.NewString()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "shard_id", cfg.ShardID, "shard_count", cfg.ShardCount, "instance_id", instanceID, "version", version.Get().Version)

	reg := metrics.NewRegistry()
	obs := setupObservers(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := setupStore(ctx, cfg, obs.store)
	defer st.close()

	rdb := setupRedis(ctx, cfg, obs.redis)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	events := make(chan domain.StreamStatus, eventBuffer)
	hooks := setupWebhooks(cfg, st.hooks, clock, obs.webhook)
	providers := setupProviders(ctx, cfg, clock, hooks, events, obs.provider)

	cache := app.NewSettingsCache(st.settings)
	metrics.NewSettingsCacheMetrics(reg, cache.Len)

	var (
		forwarder   domain.ShardForwarder
		invalidator domain.SettingsInvalidator
		shards      *redis.ShardRegistry
		bridge      *redis.Bridge
		lock        app.Lock
	)
	if rdb != nil {
		lock = redis.NewLeaderLock(rdb, redis.SweeperLeaderKey, instanceID, max(2*cfg.SweepInterval, sweeperLockMinimum))
		invalidator = redis.NewSettingsInvalidator(rdb)
	}
	if cfg.Sharded() {
		shards = redis.NewShardRegistry(rdb, cfg.ShardID, instanceID, version.Get().Version, shardHeartbeat, clock)
		bridge = redis.NewBridge(rdb, cfg.ShardCount, shards)
		forwarder = bridge
	}

	var tracking domain.TrackingControl
	localTracking := app.NewLocalTracking(providers)
	if lead || bridge == nil {
		tracking = localTracking
	} else {
		tracking = bridge
	}

	svc := app.NewService(app.ServiceConfig{
		Providers:     providers,
		Subscriptions: st.subscriptions,
		Notifications: st.notifications,
		Settings:      st.settings,
		Cache:         cache,
		Invalidator:   invalidator,
		Tracking:      tracking,
		Clock:         clock,
	})

	var commands *discord.Commands
	if cfg.DiscordCommands {
		commands = discord.NewCommands(svc, providers.Names())
	}
	bot, err := discord.NewBot(discord.BotConfig{
		Token:      cfg.DiscordToken,
		ShardID:    cfg.ShardID,
		ShardCount: cfg.ShardCount,
		Commands:   commands,
	})
	if err != nil {
		slog.Error("Failed to create Discord bot", "error", err)
		os.Exit(1)
	}

	dispatcher := app.NewDispatcher(app.DispatcherConfig{
		Subscriptions: st.subscriptions,
		Notifications: st.notifications,
		Settings:      cache,
		Messenger:     bot.Messenger(),
		Renderer:      providers,
		Forwarder:     forwarder,
		Clock:         clock,
		Metrics:       obs.dispatch,
	})

	sweeper := app.NewSweeper(app.SweeperConfig{
		Notifications: st.notifications,
		Clock:         clock,
		Retention:     cfg.NotificationRetention,
		Interval:      cfg.SweepInterval,
		Lock:          lock,
		Metrics:       obs.dispatch,
	})

	var workers sync.WaitGroup
	workers.Go(func() { dispatcher.Run(ctx, events) })

	if err := bot.Open(lead && commands != nil); err != nil {
		slog.Error("Failed to open Discord connection", "error", err)
		os.Exit(1)
	}

	if rdb != nil {
		sub := redis.NewSettingsInvalidationSubscriber(rdb, cache)
		workers.Go(func() { sub.Start(ctx) })
	}
	if cfg.Sharded() {
		consumerCfg := redis.ConsumerConfig{ShardID: cfg.ShardID, Deliveries: dispatcher}
		if lead {
			consumerCfg.Tracking = localTracking
		}
		consumer := redis.NewConsumer(rdb, consumerCfg)
		workers.Go(func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Shard consumer stopped", "error", err)
			}
		})
		workers.Go(func() { shards.Start(ctx) })
	}

	sweeper.Start()

	healthChecks := []httpserver.HealthCheck{
		{Name: "store", Check: st.ping},
		{Name: "discord", Check: bot.Ready},
	}
	if rdb != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	srvCfg := httpserver.ServerConfig{
		Port:           cfg.Port,
		AdminToken:     cfg.AdminToken,
		WebhookPath:    cfg.WebhookPath,
		App:            svc,
		Sweeper:        sweeper,
		HealthChecks:   healthChecks,
		HTTPMetrics:    obs.http,
		MetricsHandler: metrics.Handler(reg),
	}
	// pass nil explicitly to avoid typed-nil interfaces
	if shards != nil {
		srvCfg.Shards = shards
	}
	if lead && hooks != nil {
		srvCfg.Webhooks = hooks
	}
	srv := httpserver.NewServer(srvCfg)

	// The listener must be bound before resync and restore: hubs verify
	// subscriptions by calling back, possibly before the subscribe request
	// has even returned.
	if err := srv.Listen(); err != nil {
		slog.Error("Failed to bind HTTP port", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(shutdownDeps{
		cancel:    cancel,
		srv:       srv,
		sweeper:   sweeper,
		providers: providers,
		hooks:     hooks,
		bot:       bot,
		workers:   &workers,
		lead:      lead,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	if lead {
		startCtx, startCancel := context.WithTimeout(ctx, startupTimeout)
		if err := svc.Resync(startCtx); err != nil {
			slog.Error("Provider resync incomplete", "error", err)
		}
		startCancel()

		if err := providers.StartAll(ctx); err != nil {
			slog.Error("Failed to start providers", "error", err)
			os.Exit(1)
		}

		if hooks != nil {
			restoreCtx, restoreCancel := context.WithTimeout(ctx, startupTimeout)
			if err := hooks.Restore(restoreCtx); err != nil {
				slog.Error("Failed to restore webhooks", "error", err)
			}
			restoreCancel()
		}
	}

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
		<-done
	case <-done:
	}
}
