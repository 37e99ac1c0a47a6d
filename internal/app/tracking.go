package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pscheid92/streamnotify/internal/domain"
)

// LocalTracking drives the providers of this process directly. It is the
// TrackingControl of the lead shard and the handler for track/free
// messages other shards send it. Tracking an already tracked streamer and
// freeing an untracked one are not errors here: both shards may race on the
// same streamer.
type LocalTracking struct {
	providers Providers
}

func NewLocalTracking(providers Providers) *LocalTracking {
	return &LocalTracking{providers: providers}
}

func (t *LocalTracking) Track(ctx context.Context, ref domain.StreamerRef) error {
	p, err := t.providers.Get(ref.Platform)
	if err != nil {
		return err
	}
	if err := p.AddSubscription(ctx, ref); err != nil && !errors.Is(err, domain.ErrAlreadyTracked) {
		return err
	}
	slog.DebugContext(ctx, "Streamer tracked", "platform", ref.Platform, "external_id", ref.ExternalID)
	return nil
}

func (t *LocalTracking) Free(ctx context.Context, platform, externalID string) error {
	p, err := t.providers.Get(platform)
	if err != nil {
		return err
	}
	if err := p.RemoveSubscription(ctx, externalID); err != nil && !errors.Is(err, domain.ErrNotTracked) {
		return err
	}
	return nil
}

var _ domain.TrackingControl = (*LocalTracking)(nil)
