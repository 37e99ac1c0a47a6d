package domain

import "context"

// Delivery is a dispatch unit handed to the shard that owns a guild.
// Fields are pre-rendered so the receiver needs no platform decoders.
type Delivery struct {
	TargetGuildID string
	Subscription  Subscription
	Status        StreamStatus
	Fields        RenderableFields
}

// ShardForwarder hands a delivery to the owning shard. At-least-once.
type ShardForwarder interface {
	Forward(ctx context.Context, d Delivery) error
}
