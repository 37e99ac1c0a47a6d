package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/correlation"
	"github.com/pscheid92/streamnotify/internal/shard"
)

const (
	messageField = "msg"
	streamMaxLen = 10000
)

// Bridge publishes shard messages onto Redis Streams. It is the dispatcher's
// forwarder on every shard, and the tracking control of follower shards.
type Bridge struct {
	rdb        *goredis.Client
	shardCount int
	registry   *ShardRegistry // nil skips the liveness warning
}

func NewBridge(rdb *goredis.Client, shardCount int, registry *ShardRegistry) *Bridge {
	return &Bridge{rdb: rdb, shardCount: shardCount, registry: registry}
}

// Forward hands a delivery to the shard that holds the target guild.
func (b *Bridge) Forward(ctx context.Context, d domain.Delivery) error {
	target, err := shard.ForGuild(d.TargetGuildID, b.shardCount)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	if b.registry != nil {
		if live, err := b.registry.IsLive(ctx, target); err == nil && !live {
			slog.WarnContext(ctx, "Forwarding to a shard without a recent heartbeat", "shard_id", target, "guild_id", d.TargetGuildID)
		}
	}

	return b.publish(ctx, shard.StreamFor(target), shard.PushFromDelivery(d))
}

// Track asks the lead shard to start tracking a streamer.
func (b *Bridge) Track(ctx context.Context, ref domain.StreamerRef) error {
	return b.publish(ctx, shard.LeadStream, shard.Track{
		Platform:    ref.Platform,
		ExternalID:  ref.ExternalID,
		DisplayName: ref.DisplayName,
	})
}

// Free asks the lead shard to stop tracking a streamer.
func (b *Bridge) Free(ctx context.Context, platform, externalID string) error {
	return b.publish(ctx, shard.LeadStream, shard.Free{Platform: platform, ExternalID: externalID})
}

func (b *Bridge) publish(ctx context.Context, stream string, msg shard.Message) error {
	id, _ := correlation.ID(ctx)
	data, err := shard.Encode(msg, id)
	if err != nil {
		return err
	}

	err = b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{messageField: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", msg.Type(), stream, err)
	}

	slog.DebugContext(ctx, "Shard message published", "type", msg.Type(), "stream", stream)
	return nil
}

var (
	_ domain.ShardForwarder  = (*Bridge)(nil)
	_ domain.TrackingControl = (*Bridge)(nil)
)
