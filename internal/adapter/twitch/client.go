package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/retry"
	"github.com/pscheid92/streamnotify/internal/platform/version"
)

const (
	maxBatch = 100

	retryInitialBackoff   = 1 * time.Second
	retryRateLimitBackoff = 10 * time.Second
	retryMaxBackoff       = 60 * time.Second
)

// helixAPI is the subset of *helix.Client the adapter uses.
type helixAPI interface {
	GetStreams(params *helix.StreamsParams) (*helix.StreamsResponse, error)
	GetUsers(params *helix.UsersParams) (*helix.UsersResponse, error)
	RequestAppAccessToken(scopes []string) (*helix.AppAccessTokenResponse, error)
	SetAppAccessToken(accessToken string)
	GetAppAccessToken() string
}

// APIError is a non-2xx Helix response.
type APIError struct {
	StatusCode int
	Message    string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix: status %d: %s", e.StatusCode, e.Message)
}

// RetryAfter implements retry.RetryAfterer.
func (e *APIError) RetryAfter() time.Duration {
	return e.retryAfter
}

type ClientConfig struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string
}

// Client wraps helix with app-token management and 429 handling. The
// underlying helix client holds the token in mutable state, so calls are
// serialised.
type Client struct {
	mu       sync.Mutex
	api      helixAPI
	clientID string
	policy   retry.Policy
	now      func() time.Time
}

func NewClient(cfg ClientConfig) (*Client, error) {
	opts := &helix.Options{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		UserAgent:    version.UserAgent(),
	}
	if cfg.APIBaseURL != "" {
		opts.APIBaseURL = cfg.APIBaseURL
	}

	api, err := helix.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}
	return newClient(api, cfg.ClientID, defaultPolicy()), nil
}

func newClient(api helixAPI, clientID string, policy retry.Policy) *Client {
	return &Client{api: api, clientID: clientID, policy: policy, now: time.Now}
}

func defaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:      4,
		InitialBackoff:   retryInitialBackoff,
		RateLimitBackoff: retryRateLimitBackoff,
		MaxBackoff:       retryMaxBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Helix request failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
}

// Streams returns the live streams among ids (at most 100).
func (c *Client) Streams(ctx context.Context, ids []string) ([]helix.Stream, error) {
	if len(ids) > maxBatch {
		return nil, fmt.Errorf("%w: %d ids exceed batch size", domain.ErrInvalidInput, len(ids))
	}

	streams, err := retry.Do(ctx, c.policy, classify, func() ([]helix.Stream, error) {
		return withToken(c, func() ([]helix.Stream, *helix.ResponseCommon, error) {
			resp, err := c.api.GetStreams(&helix.StreamsParams{UserIDs: ids, First: maxBatch})
			if err != nil {
				return nil, nil, err
			}
			return resp.Data.Streams, &resp.ResponseCommon, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get streams: %w", domain.ErrUpstreamUnavailable, err)
	}
	return streams, nil
}

// Users looks users up by id or login (at most 100 in total).
func (c *Client) Users(ctx context.Context, ids, logins []string) ([]helix.User, error) {
	users, err := retry.Do(ctx, c.policy, classify, func() ([]helix.User, error) {
		return withToken(c, func() ([]helix.User, *helix.ResponseCommon, error) {
			resp, err := c.api.GetUsers(&helix.UsersParams{IDs: ids, Logins: logins})
			if err != nil {
				return nil, nil, err
			}
			return resp.Data.Users, &resp.ResponseCommon, nil
		})
	})
	if err != nil {
		if _, ok := errors.AsType[*retry.PermanentError](err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get users: %w", domain.ErrUpstreamUnavailable, err)
	}
	return users, nil
}

// AuthHeaders returns the headers Twitch expects on hub requests.
func (c *Client) AuthHeaders() (http.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureTokenLocked(); err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Client-ID", c.clientID)
	h.Set("Authorization", "Bearer "+c.api.GetAppAccessToken())
	return h, nil
}

func withToken[T any](c *Client, call func() (T, *helix.ResponseCommon, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if err := c.ensureTokenLocked(); err != nil {
		return zero, err
	}

	val, common, err := call()
	if err != nil {
		return zero, fmt.Errorf("helix request: %w", err)
	}

	if common.StatusCode == http.StatusUnauthorized {
		c.api.SetAppAccessToken("")
	}
	if common.StatusCode >= 300 {
		return zero, c.apiError(common)
	}
	return val, nil
}

func (c *Client) ensureTokenLocked() error {
	if c.api.GetAppAccessToken() != "" {
		return nil
	}

	resp, err := c.api.RequestAppAccessToken(nil)
	if err != nil {
		return fmt.Errorf("failed to request app access token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.ErrorMessage}
	}
	c.api.SetAppAccessToken(resp.Data.AccessToken)
	slog.Debug("Obtained Twitch app access token", "expires_in", resp.Data.ExpiresIn)
	return nil
}

func (c *Client) apiError(common *helix.ResponseCommon) *APIError {
	e := &APIError{StatusCode: common.StatusCode, Message: common.ErrorMessage}
	if common.StatusCode == http.StatusTooManyRequests {
		e.retryAfter = c.retryAfter(common.Header)
	}
	return e
}

// retryAfter prefers Retry-After (seconds) and falls back to
// Ratelimit-Reset (unix time of the bucket refill).
func (c *Client) retryAfter(h http.Header) time.Duration {
	if s, err := strconv.Atoi(h.Get("Retry-After")); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	if reset, err := strconv.ParseInt(h.Get("Ratelimit-Reset"), 10, 64); err == nil {
		if d := time.Unix(reset, 0).Sub(c.now()); d > 0 {
			return d
		}
	}
	return 0
}

func classify(err error) retry.Action {
	apiErr, ok := errors.AsType[*APIError](err)
	if !ok {
		return retry.Retry
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case apiErr.StatusCode == http.StatusUnauthorized:
		return retry.Retry
	case apiErr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}
