package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/correlation"
)

// SettingsSource is the read side of subscriber settings.
type SettingsSource interface {
	Get(ctx context.Context, scope domain.SubscriberScope, subscriberID string) (domain.SubscriberSettings, error)
}

type DispatcherConfig struct {
	Subscriptions domain.SubscriptionRepository
	Notifications domain.NotificationRepository
	Settings      SettingsSource
	Messenger     domain.Messenger
	Renderer      domain.Renderer
	Forwarder     domain.ShardForwarder // nil when running unsharded
	Clock         clockwork.Clock
	Metrics       Metrics
}

type inboxItem struct {
	ctx      context.Context
	delivery domain.Delivery
	done     chan error
}

// Dispatcher turns stream events into Discord messages. It is the only
// writer of notification records: events and forwarded deliveries are
// both handled on the Run goroutine, one at a time.
type Dispatcher struct {
	subs      domain.SubscriptionRepository
	records   domain.NotificationRepository
	settings  SettingsSource
	messenger domain.Messenger
	renderer  domain.Renderer
	forwarder domain.ShardForwarder
	clock     clockwork.Clock
	metrics   Metrics

	inbox chan inboxItem
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	return &Dispatcher{
		subs:      cfg.Subscriptions,
		records:   cfg.Notifications,
		settings:  cfg.Settings,
		messenger: cfg.Messenger,
		renderer:  cfg.Renderer,
		forwarder: cfg.Forwarder,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		inbox:     make(chan inboxItem),
	}
}

// Run consumes events until ctx is cancelled or events is closed.
func (d *Dispatcher) Run(ctx context.Context, events <-chan domain.StreamStatus) {
	slog.Info("Dispatcher started")
	defer slog.Info("Dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-events:
			if !ok {
				return
			}
			_ = d.Dispatch(correlation.Start(ctx), st)
		case item := <-d.inbox:
			item.done <- d.deliverForwarded(item.ctx, item.delivery)
		}
	}
}

// Deliver hands a delivery forwarded by another shard to the Run goroutine
// and waits until it has been processed, so the caller can acknowledge it.
func (d *Dispatcher) Deliver(ctx context.Context, del domain.Delivery) error {
	item := inboxItem{ctx: ctx, delivery: del, done: make(chan error, 1)}
	select {
	case d.inbox <- item:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch handles one event for every subscriber of the streamer. A failed
// delivery is logged and does not stop the remaining subscribers; the
// returned error joins them.
func (d *Dispatcher) Dispatch(ctx context.Context, st domain.StreamStatus) error {
	if !st.State.Valid() {
		return fmt.Errorf("%w: stream state %q", domain.ErrInvalidInput, st.State)
	}

	subs, err := d.subs.ListByStreamer(ctx, st.Platform, st.ExternalID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load subscriptions, dropping event", "platform", st.Platform, "external_id", st.ExternalID, "state", st.State, "error", err)
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}
	slog.DebugContext(ctx, "Dispatching event", "platform", st.Platform, "external_id", st.ExternalID, "state", st.State, "subscribers", len(subs))

	var errs []error
	for _, sub := range subs {
		if err := d.dispatchOne(ctx, sub, st); err != nil {
			slog.WarnContext(ctx, "Delivery failed", "platform", st.Platform, "external_id", st.ExternalID, "state", st.State,
				"subscriber_scope", sub.Scope, "subscriber_id", sub.SubscriberID, "error", err)
			d.metrics.Delivered(st.State, OutcomeFailed)
			errs = append(errs, err)
		}
	}

	d.followRename(ctx, st, subs)
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sub domain.Subscription, st domain.StreamStatus) error {
	settings, err := d.settings.Get(ctx, sub.Scope, sub.SubscriberID)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	fields, err := d.renderer.Render(st, settings.Locale)
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if d.remote(sub) {
		err := d.forwarder.Forward(ctx, domain.Delivery{
			TargetGuildID: sub.SubscriberID,
			Subscription:  sub,
			Status:        st,
			Fields:        fields,
		})
		d.metrics.Forwarded(err)
		if err != nil {
			return fmt.Errorf("failed to forward to owning shard: %w", err)
		}
		slog.DebugContext(ctx, "Forwarded delivery", "subscriber_id", sub.SubscriberID, "state", st.State)
		return nil
	}

	return d.deliver(ctx, sub, settings, st, fields)
}

// remote reports whether the subscriber is a guild served by another shard.
func (d *Dispatcher) remote(sub domain.Subscription) bool {
	return d.forwarder != nil && sub.Scope == domain.ScopeGuild && !d.messenger.HasGuild(sub.SubscriberID)
}

func (d *Dispatcher) deliverForwarded(ctx context.Context, del domain.Delivery) error {
	sub := del.Subscription
	settings, err := d.settings.Get(ctx, sub.Scope, sub.SubscriberID)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := d.deliver(ctx, sub, settings, del.Status, del.Fields); err != nil {
		slog.WarnContext(ctx, "Forwarded delivery failed", "subscriber_id", sub.SubscriberID, "state", del.Status.State, "error", err)
		d.metrics.Delivered(del.Status.State, OutcomeFailed)
		return err
	}
	return nil
}

// deliver applies one event to one local subscriber. Every path reads the
// existing record first, so a second record for the same key is never
// created.
func (d *Dispatcher) deliver(ctx context.Context, sub domain.Subscription, settings domain.SubscriberSettings, st domain.StreamStatus, fields domain.RenderableFields) error {
	rec, err := d.records.Get(ctx, sub.SubscriberID, st.Platform, st.ExternalID)
	if errors.Is(err, domain.ErrNotificationNotFound) {
		rec = nil
	} else if err != nil {
		return fmt.Errorf("failed to load notification record: %w", err)
	}

	msg := domain.Message{
		State:           st.State,
		Fields:          fields,
		MentionEveryone: st.State == domain.StateOnline && sub.Scope == domain.ScopeGuild && settings.MentionsEveryone(st.Platform, st.ExternalID),
	}

	if st.State == domain.StateOffline {
		return d.close(ctx, rec, st, msg)
	}

	if rec != nil {
		err := d.messenger.Edit(ctx, rec.ChannelID, rec.MessageID, msg)
		switch {
		case err == nil:
			rec.StreamID = st.StreamID
			rec.SentAt = d.clock.Now()
			if err := d.records.Upsert(ctx, *rec); err != nil {
				return fmt.Errorf("failed to save notification record: %w", err)
			}
			d.metrics.Delivered(st.State, OutcomeEdited)
			return nil
		case errors.Is(err, domain.ErrMessageNotFound):
			slog.InfoContext(ctx, "Notification message is gone, sending a fresh one", "subscriber_id", sub.SubscriberID, "message_id", rec.MessageID)
			if err := d.records.Delete(ctx, sub.SubscriberID, st.Platform, st.ExternalID); err != nil && !errors.Is(err, domain.ErrNotificationNotFound) {
				return fmt.Errorf("failed to delete stale notification record: %w", err)
			}
			d.metrics.StaleRecordHealed()
		default:
			return fmt.Errorf("%w: edit: %w", domain.ErrDeliveryFailed, err)
		}
	}

	return d.send(ctx, sub, settings, st, msg)
}

func (d *Dispatcher) send(ctx context.Context, sub domain.Subscription, settings domain.SubscriberSettings, st domain.StreamStatus, msg domain.Message) error {
	channelID, err := d.channelFor(ctx, sub, settings)
	if err != nil {
		return err
	}

	messageID, err := d.messenger.Send(ctx, channelID, msg)
	if err != nil {
		return fmt.Errorf("%w: send: %w", domain.ErrDeliveryFailed, err)
	}

	rec := domain.NotificationRecord{
		Scope:        sub.Scope,
		SubscriberID: sub.SubscriberID,
		Platform:     st.Platform,
		ExternalID:   st.ExternalID,
		StreamID:     st.StreamID,
		ChannelID:    channelID,
		MessageID:    messageID,
		SentAt:       d.clock.Now(),
	}
	if err := d.records.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("failed to save notification record: %w", err)
	}
	d.metrics.Delivered(st.State, OutcomeSent)
	return nil
}

// close edits the message to its offline rendering and drops the record.
// The record goes even when the edit fails; a message we cannot reach is
// not one we will edit later.
func (d *Dispatcher) close(ctx context.Context, rec *domain.NotificationRecord, st domain.StreamStatus, msg domain.Message) error {
	if rec == nil {
		d.metrics.Delivered(st.State, OutcomeSkipped)
		return nil
	}

	editErr := d.messenger.Edit(ctx, rec.ChannelID, rec.MessageID, msg)
	if editErr != nil && !errors.Is(editErr, domain.ErrMessageNotFound) {
		slog.WarnContext(ctx, "Failed to close notification message", "subscriber_id", rec.SubscriberID, "message_id", rec.MessageID, "error", editErr)
	}

	if err := d.records.Delete(ctx, rec.SubscriberID, rec.Platform, rec.ExternalID); err != nil && !errors.Is(err, domain.ErrNotificationNotFound) {
		return fmt.Errorf("failed to delete notification record: %w", err)
	}
	d.metrics.Delivered(st.State, OutcomeClosed)
	return nil
}

func (d *Dispatcher) channelFor(ctx context.Context, sub domain.Subscription, settings domain.SubscriberSettings) (string, error) {
	switch sub.Scope {
	case domain.ScopeGuild:
		if settings.ChannelID == "" {
			return "", domain.ErrNoChannel
		}
		return settings.ChannelID, nil
	case domain.ScopeUser:
		ch, err := d.messenger.DirectChannel(ctx, sub.SubscriberID)
		if err != nil {
			return "", fmt.Errorf("%w: direct channel: %w", domain.ErrDeliveryFailed, err)
		}
		return ch, nil
	default:
		return "", domain.ErrInvalidScope
	}
}

// followRename persists a display name change observed by the provider.
func (d *Dispatcher) followRename(ctx context.Context, st domain.StreamStatus, subs []domain.Subscription) {
	if st.Payload == nil || len(subs) == 0 {
		return
	}
	name := st.Payload.Snapshot().DisplayName
	if name == "" || name == subs[0].DisplayName {
		return
	}
	if err := d.subs.UpdateDisplayName(ctx, st.Platform, st.ExternalID, name); err != nil {
		slog.WarnContext(ctx, "Failed to store new display name", "platform", st.Platform, "external_id", st.ExternalID, "error", err)
		return
	}
	slog.InfoContext(ctx, "Streamer renamed", "platform", st.Platform, "external_id", st.ExternalID, "display_name", name)
}
