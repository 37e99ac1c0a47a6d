package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/retry"
	"github.com/pscheid92/streamnotify/internal/platform/version"
)

const maxBatch = 50

// dataAPI is the subset of the YouTube Data API the adapter uses.
type dataAPI interface {
	ChannelsByID(ctx context.Context, ids []string) ([]*yt.Channel, error)
	ChannelByHandle(ctx context.Context, handle string) (*yt.Channel, error)
	LiveVideoID(ctx context.Context, channelID string) (string, error)
	Videos(ctx context.Context, ids []string) ([]*yt.Video, error)
}

type ClientConfig struct {
	APIKey   string
	Endpoint string // empty for the public API
}

// Client implements dataAPI on top of the generated youtube/v3 service.
type Client struct {
	svc    *yt.Service
	policy retry.Policy
}

func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := []option.ClientOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithUserAgent(version.UserAgent()),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}

	return &Client{
		svc: svc,
		policy: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   time.Second,
			RateLimitBackoff: 30 * time.Second,
			MaxBackoff:       2 * time.Minute,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("YouTube request failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
			},
		},
	}, nil
}

func (c *Client) ChannelsByID(ctx context.Context, ids []string) ([]*yt.Channel, error) {
	resp, err := call(ctx, c.policy, "channels", func() (*yt.ChannelListResponse, error) {
		return c.svc.Channels.List([]string{"snippet"}).Id(ids...).MaxResults(maxBatch).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) ChannelByHandle(ctx context.Context, handle string) (*yt.Channel, error) {
	resp, err := call(ctx, c.policy, "channel by handle", func() (*yt.ChannelListResponse, error) {
		return c.svc.Channels.List([]string{"snippet"}).ForHandle(handle).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}
	return resp.Items[0], nil
}

// LiveVideoID returns the id of the channel's current live broadcast, or "".
func (c *Client) LiveVideoID(ctx context.Context, channelID string) (string, error) {
	resp, err := call(ctx, c.policy, "search live", func() (*yt.SearchListResponse, error) {
		return c.svc.Search.List([]string{"id"}).
			ChannelId(channelID).
			EventType("live").
			Type("video").
			MaxResults(1).
			Context(ctx).
			Do()
	})
	if err != nil {
		return "", err
	}
	for _, item := range resp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			return item.Id.VideoId, nil
		}
	}
	return "", nil
}

func (c *Client) Videos(ctx context.Context, ids []string) ([]*yt.Video, error) {
	resp, err := call(ctx, c.policy, "videos", func() (*yt.VideoListResponse, error) {
		return c.svc.Videos.List([]string{"snippet", "liveStreamingDetails", "contentDetails"}).
			Id(ids...).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// throttled carries the Retry-After hint of a 429 so retry.Do can honour it.
type throttled struct {
	err *googleapi.Error
}

func (e *throttled) Error() string { return e.err.Error() }
func (e *throttled) Unwrap() error { return e.err }

func (e *throttled) RetryAfter() time.Duration {
	if s, err := strconv.Atoi(e.err.Header.Get("Retry-After")); err == nil {
		return time.Duration(s) * time.Second
	}
	return 0
}

// call runs one API request under the retry policy.
func call[T any](ctx context.Context, p retry.Policy, op string, fn func() (T, error)) (T, error) {
	val, err := retry.Do(ctx, p, classify, func() (T, error) {
		v, err := fn()
		if gerr, ok := errors.AsType[*googleapi.Error](err); ok && gerr.Code == http.StatusTooManyRequests {
			return v, &throttled{err: gerr}
		}
		return v, err
	})
	if err != nil {
		return val, fmt.Errorf("%w: youtube %s: %w", domain.ErrUpstreamUnavailable, op, err)
	}
	return val, nil
}

func classify(err error) retry.Action {
	gerr, ok := errors.AsType[*googleapi.Error](err)
	if !ok {
		return retry.Retry
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests:
		return retry.After
	case gerr.Code >= 500:
		return retry.Retry
	default:
		// 403 quotaExceeded included: the quota resets daily
		return retry.Stop
	}
}
