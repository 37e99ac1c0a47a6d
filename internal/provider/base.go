package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamnotify/internal/detector"
	"github.com/pscheid92/streamnotify/internal/domain"
)

// FetchFunc reports the live payloads for ids. Ids whose state could not be
// determined (a failed batch) must be left out of observed so they are
// neither reported online nor offline this cycle.
type FetchFunc func(ctx context.Context, ids []string) (live map[string]domain.PlatformPayload, observed []string, err error)

type BaseConfig struct {
	Name     string
	Clock    clockwork.Clock
	Interval time.Duration // zero for push-only adapters
	Fetch    FetchFunc
	Sink     chan<- domain.StreamStatus
	Metrics  Metrics
}

// Base carries the parts every adapter shares: the tracking set, the
// loop goroutine and the change detector it owns. Adapters embed it and
// add GetStreamer and RenderStatus.
type Base struct {
	name     string
	tracker  *Tracker
	runner   *Runner
	detector *detector.Detector
	fetch    FetchFunc
	sink     chan<- domain.StreamStatus
	metrics  Metrics
}

func NewBase(cfg BaseConfig) *Base {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}

	b := &Base{
		name:     cfg.Name,
		tracker:  NewTracker(),
		detector: detector.New(cfg.Name, cfg.Clock),
		fetch:    cfg.Fetch,
		sink:     cfg.Sink,
		metrics:  cfg.Metrics,
	}

	var poll func(ctx context.Context)
	if cfg.Fetch != nil && cfg.Interval > 0 {
		poll = b.pollAll
	}
	b.runner = NewRunner(cfg.Name, cfg.Clock, cfg.Interval, poll)
	return b
}

func (b *Base) Name() string { return b.name }

func (b *Base) AddSubscription(_ context.Context, ref domain.StreamerRef) error {
	if err := b.tracker.Add(ref); err != nil {
		return err
	}
	b.metrics.TrackedChanged(b.name, b.tracker.Len())
	slog.Debug("Tracking streamer", "platform", b.name, "external_id", ref.ExternalID)
	return nil
}

// RemoveSubscription stops tracking. Cached detector state is pruned on the
// loop goroutine at the next cycle, without emitting offline.
func (b *Base) RemoveSubscription(_ context.Context, externalID string) error {
	if err := b.tracker.Remove(externalID); err != nil {
		return err
	}
	b.metrics.TrackedChanged(b.name, b.tracker.Len())
	slog.Debug("Stopped tracking streamer", "platform", b.name, "external_id", externalID)
	return nil
}

func (b *Base) IsSubscribed(externalID string) bool {
	return b.tracker.Has(externalID)
}

func (b *Base) Tracked() []string {
	return b.tracker.IDs()
}

func (b *Base) Tracker() *Tracker {
	return b.tracker
}

func (b *Base) Start(ctx context.Context) error {
	return b.runner.Start(ctx)
}

func (b *Base) Stop() error {
	return b.runner.Stop()
}

// Push feeds a payload received out of band (a webhook) for one streamer.
// A nil payload reports the streamer as not live.
func (b *Base) Push(ctx context.Context, externalID string, payload domain.PlatformPayload) error {
	return b.runner.Submit(ctx, func(ctx context.Context) {
		b.detector.Retain(b.tracker.IDs())
		if !b.tracker.Has(externalID) {
			slog.DebugContext(ctx, "Ignoring push for untracked streamer", "platform", b.name, "external_id", externalID)
			return
		}
		if st, changed := b.detector.Observe(externalID, payload); changed {
			b.emit(ctx, st)
		}
	})
}

// Refresh runs an out-of-band fetch for the given ids on the loop.
func (b *Base) Refresh(ctx context.Context, ids ...string) error {
	if b.fetch == nil {
		return fmt.Errorf("%s: refresh without fetcher", b.name)
	}
	return b.runner.Submit(ctx, func(ctx context.Context) {
		b.cycle(ctx, ids)
	})
}

func (b *Base) pollAll(ctx context.Context) {
	b.cycle(ctx, b.tracker.IDs())
}

func (b *Base) cycle(ctx context.Context, ids []string) {
	b.detector.Retain(b.tracker.IDs())

	tracked := ids[:0:0]
	for _, id := range ids {
		if b.tracker.Has(id) {
			tracked = append(tracked, id)
		}
	}
	if len(tracked) == 0 {
		return
	}

	live, observed, err := b.fetch(ctx, tracked)
	b.metrics.PollCompleted(b.name, err)
	if err != nil {
		slog.WarnContext(ctx, "Poll failed, retrying next interval", "platform", b.name, "streamers", len(tracked), "observed", len(observed), "error", err)
	}

	for _, st := range b.detector.ObserveBatch(observed, live) {
		b.emit(ctx, st)
	}
}

func (b *Base) emit(ctx context.Context, st domain.StreamStatus) {
	if st.State != domain.StateOffline {
		snap := st.Payload.Snapshot()
		if ref, ok := b.tracker.Get(st.ExternalID); ok && snap.DisplayName != "" && ref.DisplayName != snap.DisplayName {
			b.tracker.Rename(st.ExternalID, snap.DisplayName)
		}
	}

	if err := Emit(ctx, b.sink, st); err != nil {
		slog.ErrorContext(ctx, "Dropped stream event", "platform", b.name, "external_id", st.ExternalID, "state", st.State, "error", err)
		return
	}
	b.metrics.EventEmitted(b.name, st.State)
	slog.InfoContext(ctx, "Stream event", "platform", b.name, "external_id", st.ExternalID, "state", st.State, "stream_id", st.StreamID)
}

// Emit hands an event to the dispatcher, giving up when ctx ends.
func Emit(ctx context.Context, sink chan<- domain.StreamStatus, st domain.StreamStatus) error {
	select {
	case sink <- st:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InBatches calls fn for consecutive slices of ids of at most size
// elements. Failed batches are left out of observed and their errors joined.
func InBatches(ctx context.Context, ids []string, size int, fn func(ctx context.Context, batch []string) (map[string]domain.PlatformPayload, error)) (map[string]domain.PlatformPayload, []string, error) {
	live := make(map[string]domain.PlatformPayload)
	var observed []string
	var errs []error

	for batch := range slices.Chunk(ids, size) {
		got, err := fn(ctx, batch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		observed = append(observed, batch...)
		maps.Copy(live, got)
	}
	return live, observed, errors.Join(errs...)
}
