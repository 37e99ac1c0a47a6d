package domain

import "context"

// Provider is the per-platform adapter contract. Implementations push
// StreamStatus events into the sink they were constructed with; exactly one
// event per detected transition.
type Provider interface {
	Name() string

	// GetStreamer resolves a human-entered name or id. Malformed names fail
	// with ErrInvalidName before any network call.
	GetStreamer(ctx context.Context, usernameOrID string) (StreamerRef, error)

	AddSubscription(ctx context.Context, ref StreamerRef) error
	RemoveSubscription(ctx context.Context, externalID string) error
	IsSubscribed(externalID string) bool

	// Start and Stop are not idempotent: a second Start fails with
	// ErrAlreadyStarted, a Stop without Start with ErrNotStarted.
	Start(ctx context.Context) error
	Stop() error

	RenderStatus(status StreamStatus, locale string) RenderableFields
}

// Renderer looks up the provider that owns a platform for rendering.
type Renderer interface {
	Render(status StreamStatus, locale string) (RenderableFields, error)
}

// TrackingControl starts or stops tracking a streamer on whichever process
// owns the provider adapters.
type TrackingControl interface {
	Track(ctx context.Context, ref StreamerRef) error
	Free(ctx context.Context, platform, externalID string) error
}
