package domain

import (
	"errors"
	"fmt"
)

// Taxonomy roots. Every sentinel below wraps exactly one of them so callers
// can branch on the category with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrAlreadyTracked      = errors.New("already tracked")
	ErrNotTracked          = errors.New("not tracked")
	ErrDeliveryFailed      = errors.New("delivery failed")
)

var (
	ErrStreamerNotFound     = fmt.Errorf("streamer %w", ErrNotFound)
	ErrSubscriptionNotFound = fmt.Errorf("subscription %w", ErrNotFound)
	ErrSettingsNotFound     = fmt.Errorf("subscriber settings %w", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification record %w", ErrNotFound)
	ErrHookNotFound         = fmt.Errorf("hook %w", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("message or channel %w", ErrNotFound)

	ErrInvalidName      = fmt.Errorf("%w: malformed streamer name", ErrInvalidInput)
	ErrInvalidSignature = fmt.Errorf("%w: bad signature", ErrInvalidInput)
	ErrUnknownPlatform  = fmt.Errorf("%w: unknown platform", ErrInvalidInput)
	ErrInvalidScope     = fmt.Errorf("%w: unknown subscriber scope", ErrInvalidInput)

	ErrAlreadySubscribed = errors.New("subscription already exists")
	ErrNoChannel         = fmt.Errorf("%w: no notification channel configured", ErrDeliveryFailed)

	ErrAlreadyStarted = errors.New("provider already started")
	ErrNotStarted     = errors.New("provider not started")
)
