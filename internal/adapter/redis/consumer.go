package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/correlation"
	"github.com/pscheid92/streamnotify/internal/shard"
)

const (
	consumerGroup = "streamnotify"
	readCount     = 32
	readBlock     = 5 * time.Second
	retryDelay    = time.Second
)

// DeliveryHandler runs a forwarded delivery to completion.
// app.Dispatcher implements it.
type DeliveryHandler interface {
	Deliver(ctx context.Context, d domain.Delivery) error
}

type ConsumerConfig struct {
	ShardID    int
	Deliveries DeliveryHandler
	Tracking   domain.TrackingControl // lead shard only
}

// Consumer reads this shard's inbound streams. An entry is acknowledged
// after its handler returns; entries left unacknowledged by a crash are
// read again on the next start.
type Consumer struct {
	rdb        *goredis.Client
	name       string
	streams    []string
	deliveries DeliveryHandler
	tracking   domain.TrackingControl
}

func NewConsumer(rdb *goredis.Client, cfg ConsumerConfig) *Consumer {
	streams := []string{shard.StreamFor(cfg.ShardID)}
	if cfg.Tracking != nil {
		streams = append(streams, shard.LeadStream)
	}
	return &Consumer{
		rdb:        rdb,
		name:       fmt.Sprintf("shard-%d", cfg.ShardID),
		streams:    streams,
		deliveries: cfg.Deliveries,
		tracking:   cfg.Tracking,
	}
}

// Streams lists the streams this consumer reads.
func (c *Consumer) Streams() []string {
	return c.streams
}

// Run consumes until ctx is cancelled. Pending entries of an earlier run
// are drained first.
func (c *Consumer) Run(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.rdb.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
		}
	}

	slog.Info("Shard consumer started", "consumer", c.name, "streams", c.streams)

	pending := true
	for {
		if ctx.Err() != nil {
			return nil
		}

		cursor := ">"
		if pending {
			cursor = "0"
		}

		n, err := c.readOnce(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("Failed to read shard streams", "consumer", c.name, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}
		if pending && n == 0 {
			pending = false
		}
	}
}

func (c *Consumer) readOnce(ctx context.Context, cursor string) (int, error) {
	args := make([]string, 0, 2*len(c.streams))
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, cursor)
	}

	res, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: c.name,
		Streams:  args,
		Count:    readCount,
		Block:    readBlock,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n := 0
	for _, stream := range res {
		for _, entry := range stream.Messages {
			n++
			c.handle(ctx, entry)
			if err := c.rdb.XAck(ctx, stream.Stream, consumerGroup, entry.ID).Err(); err != nil {
				slog.Warn("Failed to acknowledge shard message", "stream", stream.Stream, "id", entry.ID, "error", err)
			}
		}
	}
	return n, nil
}

// handle never fails the entry: a message that cannot be decoded will not
// decode on a retry either, and delivery failures are recorded by the
// dispatcher.
func (c *Consumer) handle(ctx context.Context, entry goredis.XMessage) {
	raw, ok := entry.Values[messageField].(string)
	if !ok {
		slog.Warn("Dropping shard message without payload", "id", entry.ID)
		return
	}

	msg, corrID, err := shard.Decode([]byte(raw))
	if err != nil {
		slog.Warn("Dropping undecodable shard message", "id", entry.ID, "error", err)
		return
	}
	ctx = correlation.Continue(ctx, corrID)

	if err := c.apply(ctx, msg); err != nil {
		slog.WarnContext(ctx, "Shard message failed", "id", entry.ID, "type", msg.Type(), "error", err)
	}
}

func (c *Consumer) apply(ctx context.Context, msg shard.Message) error {
	switch m := msg.(type) {
	case shard.Push:
		return c.deliveries.Deliver(ctx, m.Delivery())
	case shard.Track:
		if c.tracking == nil {
			return fmt.Errorf("%w: track on a follower shard", domain.ErrInvalidInput)
		}
		return c.tracking.Track(ctx, m.Ref())
	case shard.Free:
		if c.tracking == nil {
			return fmt.Errorf("%w: free on a follower shard", domain.ErrInvalidInput)
		}
		return c.tracking.Free(ctx, m.Platform, m.ExternalID)
	default:
		return fmt.Errorf("%w: %s", shard.ErrUnknownType, msg.Type())
	}
}
