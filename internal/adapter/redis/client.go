package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// NewClient connects to redisURL (e.g. "redis://localhost:6379/0") and
// installs the circuit breaker and metrics hooks. A nil observer disables
// metrics.
func NewClient(ctx context.Context, redisURL string, observer Observer) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if observer == nil {
		observer = NopObserver{}
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(NewMetricsHook(observer))
	rdb.AddHook(NewCircuitBreakerHook(observer))

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	slog.Info("Redis connected", "addr", opts.Addr, "db", opts.DB)
	return rdb, nil
}
