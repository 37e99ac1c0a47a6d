package twitch

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"

	"github.com/pscheid92/streamnotify/internal/domain"
)

const (
	brandColor    = 0x9146FF
	channelURL    = "https://www.twitch.tv/"
	thumbnailSize = "1280x720"
)

var loginPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,25}$`)

// Payload is the Twitch variant of domain.PlatformPayload.
type Payload struct {
	Stream helix.Stream
	User   helix.User
}

func (p Payload) SessionID() string { return p.Stream.ID }

func (p Payload) Snapshot() domain.Snapshot {
	return domain.Snapshot{
		SessionID:   p.Stream.ID,
		Title:       p.Stream.Title,
		CategoryID:  p.Stream.GameID,
		HasCategory: p.Stream.GameID != "",
		Mature:      p.Stream.IsMature,
		DisplayName: p.displayName(),
		AvatarURL:   p.User.ProfileImageURL,
	}
}

func (p Payload) displayName() string {
	if p.User.DisplayName != "" {
		return p.User.DisplayName
	}
	return p.Stream.UserName
}

func (p Payload) login() string {
	if p.User.Login != "" {
		return p.User.Login
	}
	return p.Stream.UserLogin
}

// render builds the display fields shared by both Twitch adapters.
func render(status domain.StreamStatus) domain.RenderableFields {
	p, ok := status.Payload.(Payload)
	if !ok {
		return domain.RenderableFields{URL: channelURL, Color: brandColor}
	}

	return domain.RenderableFields{
		Title:        p.Stream.Title,
		DisplayName:  p.displayName(),
		Category:     p.Stream.GameName,
		URL:          channelURL + p.login(),
		ThumbnailURL: thumbnail(p.Stream.ThumbnailURL, p.Stream.StartedAt),
		AvatarURL:    p.User.ProfileImageURL,
		Mature:       p.Stream.IsMature,
		Viewers:      p.Stream.ViewerCount,
		StartedAt:    p.Stream.StartedAt,
		Color:        brandColor,
	}
}

// thumbnail fills Helix's {width}x{height} template and busts Discord's
// image cache per stream.
func thumbnail(template string, startedAt time.Time) string {
	if template == "" {
		return ""
	}
	u := strings.Replace(template, "{width}x{height}", thumbnailSize, 1)
	return fmt.Sprintf("%s?t=%d", u, startedAt.Unix())
}

// parseQuery classifies user input as a numeric id or a login. Malformed
// logins fail before any request is made.
func parseQuery(query string) (ids, logins []string, err error) {
	q := strings.TrimSpace(query)
	q = strings.TrimPrefix(q, "@")
	if i := strings.LastIndex(q, "twitch.tv/"); i >= 0 {
		q = strings.Trim(q[i+len("twitch.tv/"):], "/")
	}

	if q != "" && strings.Trim(q, "0123456789") == "" {
		return []string{q}, nil, nil
	}
	if !loginPattern.MatchString(q) {
		return nil, nil, fmt.Errorf("%q: %w", query, domain.ErrInvalidName)
	}
	return nil, []string{strings.ToLower(q)}, nil
}
