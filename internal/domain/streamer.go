package domain

import "strings"

// StreamerRef identifies a channel on a platform. DisplayName is the only
// mutable part; it follows renames observed by the provider.
type StreamerRef struct {
	Platform    string `json:"platform"`
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName"`
}

// Key returns "platform:externalId", the form used in settings and logs.
func (r StreamerRef) Key() string {
	return StreamerKey(r.Platform, r.ExternalID)
}

func StreamerKey(platform, externalID string) string {
	return platform + ":" + externalID
}

// SplitStreamerKey is the inverse of StreamerKey.
func SplitStreamerKey(key string) (platform, externalID string, ok bool) {
	platform, externalID, ok = strings.Cut(key, ":")
	if !ok || platform == "" || externalID == "" {
		return "", "", false
	}
	return platform, externalID, true
}
