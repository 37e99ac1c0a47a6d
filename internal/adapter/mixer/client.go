package mixer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/retry"
	"github.com/pscheid92/streamnotify/internal/platform/version"
)

const (
	DefaultBaseURL = "https://mixer.com/api/v1"

	requestTimeout        = 10 * time.Second
	requestsPerSecond     = 5
	retryInitialBackoff   = 1 * time.Second
	retryRateLimitBackoff = 10 * time.Second
	retryMaxBackoff       = 60 * time.Second
)

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

type GameType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Channel struct {
	ID             int64     `json:"id"`
	Token          string    `json:"token"`
	Online         bool      `json:"online"`
	Name           string    `json:"name"`
	Audience       string    `json:"audience"`
	ViewersCurrent int       `json:"viewersCurrent"`
	Type           *GameType `json:"type"`
	User           User      `json:"user"`
}

type Broadcast struct {
	ID        string    `json:"id"`
	Online    bool      `json:"online"`
	StartedAt time.Time `json:"startedAt"`
}

// HTTPError is a non-2xx Mixer response.
type HTTPError struct {
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("mixer: status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) RetryAfter() time.Duration { return e.retryAfter }

type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	policy  retry.Policy
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		policy: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   retryInitialBackoff,
			RateLimitBackoff: retryRateLimitBackoff,
			MaxBackoff:       retryMaxBackoff,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("Mixer request failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
			},
		},
	}
}

// Channel looks a channel up by numeric id or token.
func (c *Client) Channel(ctx context.Context, idOrToken string) (*Channel, error) {
	var ch Channel
	err := c.get(ctx, "/channels/"+url.PathEscape(idOrToken), &ch)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%q: %w", idOrToken, domain.ErrStreamerNotFound)
		}
		return nil, fmt.Errorf("%w: channel %s: %w", domain.ErrUpstreamUnavailable, idOrToken, err)
	}
	return &ch, nil
}

// Broadcast returns the current broadcast, or nil when the channel is offline.
func (c *Client) Broadcast(ctx context.Context, channelID string) (*Broadcast, error) {
	var b Broadcast
	err := c.get(ctx, "/channels/"+url.PathEscape(channelID)+"/broadcast", &b)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: broadcast %s: %w", domain.ErrUpstreamUnavailable, channelID, err)
	}
	if !b.Online {
		return nil, nil
	}
	return &b, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return retry.DoVoid(ctx, c.policy, classify, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			herr := &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
			if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				herr.retryAfter = time.Duration(s) * time.Second
			}
			return herr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return nil
	})
}

func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	herr, ok := errors.AsType[*HTTPError](err)
	if !ok {
		return retry.Retry
	}
	switch {
	case herr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case herr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}

func isStatus(err error, code int) bool {
	herr, ok := errors.AsType[*HTTPError](err)
	return ok && herr.StatusCode == code
}
