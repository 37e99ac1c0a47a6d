package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/streamnotify/internal/adapter/metrics"
	"github.com/pscheid92/streamnotify/internal/adapter/redis"
	"github.com/pscheid92/streamnotify/internal/domain"
)

// adminService is the part of app.Service the admin API drives.
type adminService interface {
	Follow(ctx context.Context, platform, query string, scope domain.SubscriberScope, subscriberID string) (domain.Subscription, error)
	Unfollow(ctx context.Context, platform, externalID string, scope domain.SubscriberScope, subscriberID string) error
	List(ctx context.Context, scope domain.SubscriberScope, subscriberID string) ([]domain.Subscription, error)
	Settings(ctx context.Context, scope domain.SubscriberScope, subscriberID string) (domain.SubscriberSettings, error)
	SetChannel(ctx context.Context, scope domain.SubscriberScope, subscriberID, channelID string) (domain.SubscriberSettings, error)
	SetLocale(ctx context.Context, scope domain.SubscriberScope, subscriberID, locale string) (domain.SubscriberSettings, error)
	SetMention(ctx context.Context, scope domain.SubscriberScope, subscriberID, platform, externalID string, enabled bool) (domain.SubscriberSettings, error)
}

type sweeper interface {
	Sweep(ctx context.Context) (int, error)
	Stale(ctx context.Context) ([]domain.NotificationRecord, error)
	Retention() time.Duration
}

type shardLister interface {
	Active(ctx context.Context) ([]redis.ShardInfo, error)
}

// webhookHandler serves hub callbacks for push-based providers.
type webhookHandler interface {
	HandleVerify(c echo.Context) error
	HandleDelivery(c echo.Context) error
}

type ServerConfig struct {
	Port        string
	AdminToken  string // admin API is off when empty
	WebhookPath string

	App      adminService
	Sweeper  sweeper
	Shards   shardLister    // nil when running unsharded
	Webhooks webhookHandler // nil when no provider uses push

	HealthChecks   []HealthCheck
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
}

type Server struct {
	echo *echo.Echo
	port string

	adminToken  string
	webhookPath string

	app      adminService
	sweeper  sweeper
	shards   shardLister
	webhooks webhookHandler

	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
	healthChecks   []HealthCheck
	startTime      time.Time
}

func NewServer(cfg ServerConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhooks"
	}

	srv := &Server{
		echo:           e,
		port:           cfg.Port,
		adminToken:     cfg.AdminToken,
		webhookPath:    cfg.WebhookPath,
		app:            cfg.App,
		sweeper:        cfg.Sweeper,
		shards:         cfg.Shards,
		webhooks:       cfg.Webhooks,
		httpMetrics:    cfg.HTTPMetrics,
		metricsHandler: cfg.MetricsHandler,
		healthChecks:   cfg.HealthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Listen binds the port without serving yet. Connections made before Start
// wait in the accept backlog, so hub verification callbacks triggered during
// startup are answered once Start runs.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", ":"+s.port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.port, err)
	}
	s.echo.Listener = ln
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.echo.Listener == nil {
		return nil
	}
	return s.echo.Listener.Addr()
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.port)
	if err := s.echo.Start(":" + s.port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
