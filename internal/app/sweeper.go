package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/correlation"
)

const (
	DefaultRetention     = 24 * time.Hour
	DefaultSweepInterval = 24 * time.Hour
	sweepTimeout         = 5 * time.Minute
)

// Lock gates scheduled sweeps to one process when several share a store.
type Lock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type SweeperConfig struct {
	Notifications domain.NotificationRepository
	Clock         clockwork.Clock
	Retention     time.Duration
	Interval      time.Duration
	Lock          Lock // nil runs every pass locally
	Metrics       Metrics
}

// Sweeper deletes notification records older than the retention window,
// whatever state the stream is in.
type Sweeper struct {
	records   domain.NotificationRepository
	clock     clockwork.Clock
	retention time.Duration
	interval  time.Duration
	lock      Lock
	metrics   Metrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	return &Sweeper{
		records:   cfg.Notifications,
		clock:     cfg.Clock,
		retention: cfg.Retention,
		interval:  cfg.Interval,
		lock:      cfg.Lock,
		metrics:   cfg.Metrics,
		stopCh:    make(chan struct{}),
	}
}

func (s *Sweeper) Retention() time.Duration { return s.retention }

// Start runs a pass every interval until Stop.
func (s *Sweeper) Start() {
	ticker := s.clock.NewTicker(s.interval)
	s.wg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				s.scheduled()
			case <-s.stopCh:
				return
			}
		}
	})
	slog.Info("Sweeper started", "interval", s.interval, "retention", s.retention)
}

// Stop ends the schedule, waits for a running pass and gives up the lock.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	if s.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(ctx); err != nil {
			slog.Warn("Failed to release sweeper lock", "error", err)
		}
	}
}

func (s *Sweeper) scheduled() {
	ctx, cancel := context.WithTimeout(correlation.Start(context.Background()), sweepTimeout)
	defer cancel()

	if s.lock != nil {
		leader, err := s.lock.TryAcquire(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Sweeper lock unavailable, skipping pass", "error", err)
			return
		}
		if !leader {
			slog.DebugContext(ctx, "Another instance holds the sweeper lock")
			return
		}
	}

	if _, err := s.Sweep(ctx); err != nil {
		slog.ErrorContext(ctx, "Sweep failed", "error", err)
	}
}

// Stale lists the records a pass would delete now.
func (s *Sweeper) Stale(ctx context.Context) ([]domain.NotificationRecord, error) {
	return s.stale(ctx, s.clock.Now().Add(-s.retention))
}

func (s *Sweeper) stale(ctx context.Context, cutoff time.Time) ([]domain.NotificationRecord, error) {
	all, err := s.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification records: %w", err)
	}

	var stale []domain.NotificationRecord
	for _, rec := range all {
		if rec.SentAt.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	return stale, nil
}

// Sweep runs one pass and returns how many records it deleted. A record
// that fails to delete is left for the next pass.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := s.clock.Now()

	cutoff := start.Add(-s.retention)
	stale, err := s.stale(ctx, cutoff)
	if err != nil {
		s.metrics.SweepCompleted(0, s.clock.Since(start), err)
		return 0, err
	}

	deleted := 0
	for _, rec := range stale {
		ok, err := s.records.DeleteSentBefore(ctx, rec.SubscriberID, rec.Platform, rec.ExternalID, cutoff)
		if err != nil {
			slog.WarnContext(ctx, "Failed to delete stale notification record", "subscriber_id", rec.SubscriberID, "platform", rec.Platform, "external_id", rec.ExternalID, "error", err)
			continue
		}
		if !ok {
			slog.DebugContext(ctx, "Notification record refreshed since listing, kept", "subscriber_id", rec.SubscriberID, "platform", rec.Platform, "external_id", rec.ExternalID)
			continue
		}
		deleted++
	}

	took := s.clock.Since(start)
	s.metrics.SweepCompleted(deleted, took, nil)
	slog.InfoContext(ctx, "Sweep completed", "stale", len(stale), "deleted", deleted, "duration", took)
	return deleted, nil
}
