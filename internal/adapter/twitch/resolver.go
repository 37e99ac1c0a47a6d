package twitch

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/nicklaw5/helix/v2"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/provider"
)

// resolver is what both Twitch adapters share: name lookup and turning
// Helix streams into payloads.
type resolver struct {
	client   *Client
	platform string
}

func (r resolver) getStreamer(ctx context.Context, query string) (domain.StreamerRef, error) {
	ids, logins, err := parseQuery(query)
	if err != nil {
		return domain.StreamerRef{}, err
	}

	users, err := r.client.Users(ctx, ids, logins)
	if err != nil {
		return domain.StreamerRef{}, err
	}
	if len(users) == 0 {
		return domain.StreamerRef{}, fmt.Errorf("%q: %w", query, domain.ErrStreamerNotFound)
	}

	u := users[0]
	return domain.StreamerRef{Platform: r.platform, ExternalID: u.ID, DisplayName: u.DisplayName}, nil
}

// fetch polls ids in batches of 100. A failed batch leaves its ids
// unobserved for this cycle.
func (r resolver) fetch(ctx context.Context, ids []string) (map[string]domain.PlatformPayload, []string, error) {
	return provider.InBatches(ctx, ids, maxBatch, func(ctx context.Context, batch []string) (map[string]domain.PlatformPayload, error) {
		streams, err := r.client.Streams(ctx, batch)
		if err != nil {
			return nil, err
		}
		return r.payloads(ctx, streams), nil
	})
}

// payloads pairs streams with their broadcaster profiles. A failed profile
// lookup degrades to the names carried by the stream itself.
func (r resolver) payloads(ctx context.Context, streams []helix.Stream) map[string]domain.PlatformPayload {
	out := make(map[string]domain.PlatformPayload, len(streams))
	if len(streams) == 0 {
		return out
	}

	byID := make(map[string]helix.Stream, len(streams))
	for _, s := range streams {
		byID[s.UserID] = s
	}

	users := map[string]helix.User{}
	found, err := r.client.Users(ctx, slices.Sorted(maps.Keys(byID)), nil)
	if err == nil {
		for _, u := range found {
			users[u.ID] = u
		}
	}

	for id, s := range byID {
		u, ok := users[id]
		if !ok {
			u = helix.User{ID: id, Login: s.UserLogin, DisplayName: s.UserName}
		}
		out[id] = Payload{Stream: s, User: u}
	}
	return out
}
