package domain

import "time"

type StreamState string

const (
	StateOnline  StreamState = "online"
	StateUpdated StreamState = "updated"
	StateOffline StreamState = "offline"
)

func (s StreamState) Valid() bool {
	return s == StateOnline || s == StateUpdated || s == StateOffline
}

// Snapshot is the fixed field set the change detector compares. Two
// snapshots are equal iff nothing notification-worthy changed.
type Snapshot struct {
	SessionID   string
	Title       string
	CategoryID  string
	HasCategory bool
	Mature      bool
	DisplayName string
	AvatarURL   string
}

// PlatformPayload is the per-platform stream record. Each adapter only ever
// builds and reads its own implementation.
type PlatformPayload interface {
	SessionID() string
	Snapshot() Snapshot
}

// StreamStatus is produced by a change detector and consumed once by the
// dispatcher.
type StreamStatus struct {
	Platform         string          `json:"platform"`
	ExternalID       string          `json:"externalId"`
	State            StreamState     `json:"state"`
	StreamID         string          `json:"streamId"`
	PreviousStreamID string          `json:"previousStreamId,omitempty"`
	Payload          PlatformPayload `json:"-"`
}

// RenderableFields is the platform-flavoured, Discord-agnostic view of a
// status used to build an outbound message.
type RenderableFields struct {
	Title        string    `json:"title"`
	DisplayName  string    `json:"displayName"`
	Category     string    `json:"category,omitempty"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	Mature       bool      `json:"mature,omitempty"`
	Viewers      int       `json:"viewers,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
	Color        int       `json:"color,omitempty"`
}
