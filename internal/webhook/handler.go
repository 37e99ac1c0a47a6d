package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/streamnotify/internal/domain"
)

const maxBodyBytes = 1 << 20

var localHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
}

// HandleVerify answers the hub's GET handshake for a hook.
func (m *Manager) HandleVerify(c echo.Context) error {
	ctx := c.Request().Context()
	if !m.hostAllowed(c.Request()) {
		m.metrics.HandshakeHandled("unknown", "rejected_host")
		return c.NoContent(http.StatusBadRequest)
	}

	hookID := c.Param("hookId")
	mode := c.QueryParam("hub.mode")
	challenge := c.QueryParam("hub.challenge")

	hook, err := m.repo.Get(ctx, hookID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && mode == ModeUnsubscribe {
			// already dropped locally; confirm removal to the hub
			m.metrics.HandshakeHandled("unknown", mode)
			return c.String(http.StatusOK, challenge)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			slog.ErrorContext(ctx, "Hook lookup failed", "hook_id", hookID, "error", err)
			return c.NoContent(http.StatusInternalServerError)
		}
		slog.InfoContext(ctx, "Handshake for unknown hook", "hook_id", hookID, "mode", mode)
		m.metrics.HandshakeHandled("unknown", "unknown_hook")
		return c.NoContent(http.StatusBadRequest)
	}

	m.metrics.HandshakeHandled(hook.Platform, mode)

	switch mode {
	case ModeSubscribe:
		src, ok := m.source(hook.Platform)
		if !ok {
			return c.NoContent(http.StatusBadRequest)
		}
		if topic := c.QueryParam("hub.topic"); topic != "" && topic != src.Topic(hook.StreamerID) {
			slog.WarnContext(ctx, "Handshake topic mismatch", "hook_id", hookID, "topic", topic)
			return c.NoContent(http.StatusBadRequest)
		}

		lease := hook.LeaseSeconds
		if raw := c.QueryParam("hub.lease_seconds"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				lease = n
			}
		}

		if err := m.activate(ctx, hook, lease); err != nil {
			slog.ErrorContext(ctx, "Failed to activate hook", "hook_id", hookID, "error", err)
			return c.NoContent(http.StatusInternalServerError)
		}
		slog.InfoContext(ctx, "Hook active", "platform", hook.Platform, "streamer_id", hook.StreamerID, "hook_id", hookID, "lease_seconds", lease)
		return c.String(http.StatusOK, challenge)

	case ModeDenied, ModeUnsubscribe:
		if err := m.repo.Delete(ctx, hookID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.ErrorContext(ctx, "Failed to delete hook", "hook_id", hookID, "error", err)
			return c.NoContent(http.StatusInternalServerError)
		}
		slog.InfoContext(ctx, "Hook removed by hub", "platform", hook.Platform, "streamer_id", hook.StreamerID, "hook_id", hookID, "mode", mode, "reason", c.QueryParam("hub.reason"))
		if mode == ModeDenied {
			return c.NoContent(http.StatusOK)
		}
		return c.String(http.StatusOK, challenge)

	default:
		return c.NoContent(http.StatusBadRequest)
	}
}

// HandleDelivery accepts a signed POST for an active hook. Unverified
// bodies are never passed on.
func (m *Manager) HandleDelivery(c echo.Context) error {
	ctx := c.Request().Context()
	if !m.hostAllowed(c.Request()) {
		m.metrics.DeliveryHandled("unknown", "rejected_host")
		return c.NoContent(http.StatusBadRequest)
	}

	hookID := c.Param("hookId")
	hook, err := m.repo.Get(ctx, hookID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.ErrorContext(ctx, "Hook lookup failed", "hook_id", hookID, "error", err)
			return c.NoContent(http.StatusInternalServerError)
		}
		m.metrics.DeliveryHandled("unknown", "unknown_hook")
		return c.NoContent(http.StatusBadRequest)
	}
	if hook.State() == domain.HookPending {
		m.metrics.DeliveryHandled(hook.Platform, "pending_hook")
		return c.NoContent(http.StatusBadRequest)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if err := Verify(hook.Secret, body, c.Request().Header.Get(SignatureHeader)); err != nil {
		slog.WarnContext(ctx, "Rejected webhook delivery", "hook_id", hookID, "platform", hook.Platform, "remote_addr", c.RealIP(), "error", err)
		m.metrics.DeliveryHandled(hook.Platform, "bad_signature")
		return c.NoContent(http.StatusBadRequest)
	}

	src, ok := m.source(hook.Platform)
	if !ok {
		return c.NoContent(http.StatusBadRequest)
	}

	if err := src.HandlePush(ctx, hook.StreamerID, body); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			slog.WarnContext(ctx, "Malformed webhook payload", "hook_id", hookID, "platform", hook.Platform, "error", err)
			m.metrics.DeliveryHandled(hook.Platform, "malformed")
			return c.NoContent(http.StatusBadRequest)
		}
		slog.ErrorContext(ctx, "Failed to handle webhook payload", "hook_id", hookID, "platform", hook.Platform, "error", err)
		m.metrics.DeliveryHandled(hook.Platform, "failed")
		return c.NoContent(http.StatusInternalServerError)
	}

	m.metrics.DeliveryHandled(hook.Platform, "accepted")
	return c.NoContent(http.StatusOK)
}

func (m *Manager) hostAllowed(r *http.Request) bool {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if strings.EqualFold(host, m.host) {
		return true
	}
	_, local := localHosts[strings.ToLower(host)]
	return local
}
