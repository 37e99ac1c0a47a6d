package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pscheid92/streamnotify/internal/platform/version"
)

const (
	ModeSubscribe   = "subscribe"
	ModeUnsubscribe = "unsubscribe"
	ModeDenied      = "denied"

	hubTimeout = 10 * time.Second
)

// HubRequest is a WebSub subscription change sent to a hub.
type HubRequest struct {
	Hub          string
	Mode         string
	Callback     string
	Topic        string
	LeaseSeconds int
	Secret       string
}

// HubClient posts subscription requests to WebSub hubs.
type HubClient struct {
	client *http.Client
}

func NewHubClient(client *http.Client) *HubClient {
	if client == nil {
		client = &http.Client{Timeout: hubTimeout}
	}
	return &HubClient{client: client}
}

// Send posts req as a form. authorize may add platform headers.
func (h *HubClient) Send(ctx context.Context, req HubRequest, authorize func(ctx context.Context, r *http.Request) error) error {
	form := url.Values{
		"hub.callback": {req.Callback},
		"hub.mode":     {req.Mode},
		"hub.topic":    {req.Topic},
	}
	if req.LeaseSeconds > 0 {
		form.Set("hub.lease_seconds", strconv.Itoa(req.LeaseSeconds))
	}
	if req.Secret != "" {
		form.Set("hub.secret", req.Secret)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Hub, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build hub request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	if authorize != nil {
		if err := authorize(ctx, httpReq); err != nil {
			return fmt.Errorf("failed to authorize hub request: %w", err)
		}
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("hub request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hub rejected %s: status %d: %s", req.Mode, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
