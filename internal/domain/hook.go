package domain

import (
	"context"
	"time"
)

type HookState string

const (
	HookPending HookState = "pending"
	HookActive  HookState = "active"
)

// Hook is one WebSub lease request. RegisteredAt is nil until the hub has
// confirmed the subscription.
type Hook struct {
	ID           string
	Platform     string
	StreamerID   string
	Secret       string
	LeaseSeconds int
	RegisteredAt *time.Time
	CreatedAt    time.Time
}

func (h Hook) State() HookState {
	if h.RegisteredAt == nil {
		return HookPending
	}
	return HookActive
}

// ExpiresAt is the end of the granted lease; zero while pending.
func (h Hook) ExpiresAt() time.Time {
	if h.RegisteredAt == nil {
		return time.Time{}
	}
	return h.RegisteredAt.Add(time.Duration(h.LeaseSeconds) * time.Second)
}

// HookRepository persists webhook hooks.
type HookRepository interface {
	Create(ctx context.Context, hook Hook) error
	Get(ctx context.Context, hookID string) (*Hook, error)
	ListByStreamer(ctx context.Context, platform, streamerID string) ([]Hook, error)
	List(ctx context.Context) ([]Hook, error)
	Activate(ctx context.Context, hookID string, registeredAt time.Time, leaseSeconds int) error
	Delete(ctx context.Context, hookID string) error
}
