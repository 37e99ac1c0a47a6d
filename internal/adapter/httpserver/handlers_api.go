package httpserver

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pscheid92/streamnotify/internal/domain"
	apperrors "github.com/pscheid92/streamnotify/internal/platform/errors"
)

func (s *Server) registerAPIRoutes() {
	if s.adminToken == "" || s.app == nil {
		return
	}

	api := s.echo.Group("/api", newRateLimiter(clientRateLimit(adminRatePerSecond, adminBurst)), s.requireAdmin())
	api.GET("/subscriptions", s.handleListSubscriptions)
	api.POST("/subscriptions", s.handleCreateSubscription)
	api.DELETE("/subscriptions/:platform/:externalId", s.handleDeleteSubscription)
	api.GET("/settings/:scope/:id", s.handleGetSettings)
	api.PUT("/settings/:scope/:id", s.handleUpdateSettings)
	if s.sweeper != nil {
		api.POST("/sweep", s.handleSweep)
	}
	if s.shards != nil {
		api.GET("/shards", s.handleListShards)
	}
}

// requireAdmin checks the bearer token against ADMIN_TOKEN.
func (s *Server) requireAdmin() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.adminToken)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return apperrors.UnauthorizedError("invalid or missing admin token")
		},
	})
}

type subscriptionRequest struct {
	Platform     string `json:"platform"`
	Query        string `json:"query"`
	Scope        string `json:"subscriberScope"`
	SubscriberID string `json:"subscriberId"`
}

type mentionUpdate struct {
	Platform   string `json:"platform"`
	ExternalID string `json:"externalId"`
	Enabled    bool   `json:"enabled"`
}

type settingsRequest struct {
	ChannelID *string         `json:"channelId"`
	Locale    *string         `json:"locale"`
	Mentions  []mentionUpdate `json:"mentions"`
}

type settingsResponse struct {
	Scope           domain.SubscriberScope `json:"subscriberScope"`
	SubscriberID    string                 `json:"subscriberId"`
	ChannelID       string                 `json:"channelId"`
	Locale          string                 `json:"locale"`
	MentionEveryone []string               `json:"mentionEveryone"`
	UpdatedAt       time.Time              `json:"updatedAt,omitzero"`
}

func newSettingsResponse(st domain.SubscriberSettings) settingsResponse {
	mentions := st.MentionEveryone
	if mentions == nil {
		mentions = []string{}
	}
	return settingsResponse{
		Scope:           st.Scope,
		SubscriberID:    st.SubscriberID,
		ChannelID:       st.ChannelID,
		Locale:          st.Locale,
		MentionEveryone: mentions,
		UpdatedAt:       st.UpdatedAt,
	}
}

type staleRecord struct {
	Scope        domain.SubscriberScope `json:"subscriberScope"`
	SubscriberID string                 `json:"subscriberId"`
	Platform     string                 `json:"platform"`
	ExternalID   string                 `json:"externalId"`
	MessageID    string                 `json:"messageId"`
	SentAt       time.Time              `json:"sentAt"`
}

func (s *Server) handleListSubscriptions(c echo.Context) error {
	scope, err := domain.ParseScope(c.QueryParam("scope"))
	if err != nil {
		return toAppError(err).WithField("scope", c.QueryParam("scope"))
	}
	subscriberID := c.QueryParam("subscriber")
	if subscriberID == "" {
		return apperrors.ValidationError("subscriber is required")
	}

	subs, err := s.app.List(c.Request().Context(), scope, subscriberID)
	if err != nil {
		return toAppError(err)
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}

	if err := c.JSON(http.StatusOK, subs); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCreateSubscription(c echo.Context) error {
	var req subscriptionRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	scope, err := domain.ParseScope(req.Scope)
	if err != nil {
		return toAppError(err).WithField("scope", req.Scope)
	}

	sub, err := s.app.Follow(c.Request().Context(), req.Platform, req.Query, scope, req.SubscriberID)
	if err != nil {
		return toAppError(err).WithField("platform", req.Platform).WithField("query", req.Query)
	}

	if err := c.JSON(http.StatusCreated, sub); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteSubscription(c echo.Context) error {
	scope, err := domain.ParseScope(c.QueryParam("scope"))
	if err != nil {
		return toAppError(err).WithField("scope", c.QueryParam("scope"))
	}
	subscriberID := c.QueryParam("subscriber")
	if subscriberID == "" {
		return apperrors.ValidationError("subscriber is required")
	}

	platform, externalID := c.Param("platform"), c.Param("externalId")
	if err := s.app.Unfollow(c.Request().Context(), platform, externalID, scope, subscriberID); err != nil {
		return toAppError(err).WithField("platform", platform).WithField("external_id", externalID)
	}

	if err := c.NoContent(http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSettings(c echo.Context) error {
	scope, err := domain.ParseScope(c.Param("scope"))
	if err != nil {
		return toAppError(err).WithField("scope", c.Param("scope"))
	}

	st, err := s.app.Settings(c.Request().Context(), scope, c.Param("id"))
	if err != nil {
		return toAppError(err)
	}

	if err := c.JSON(http.StatusOK, newSettingsResponse(st)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleUpdateSettings applies only the fields present in the body.
func (s *Server) handleUpdateSettings(c echo.Context) error {
	ctx := c.Request().Context()

	scope, err := domain.ParseScope(c.Param("scope"))
	if err != nil {
		return toAppError(err).WithField("scope", c.Param("scope"))
	}
	subscriberID := c.Param("id")

	var req settingsRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}

	st, err := s.app.Settings(ctx, scope, subscriberID)
	if err != nil {
		return toAppError(err)
	}
	if req.ChannelID != nil {
		if st, err = s.app.SetChannel(ctx, scope, subscriberID, *req.ChannelID); err != nil {
			return toAppError(err)
		}
	}
	if req.Locale != nil {
		if st, err = s.app.SetLocale(ctx, scope, subscriberID, *req.Locale); err != nil {
			return toAppError(err).WithField("locale", *req.Locale)
		}
	}
	for _, m := range req.Mentions {
		if st, err = s.app.SetMention(ctx, scope, subscriberID, m.Platform, m.ExternalID, m.Enabled); err != nil {
			return toAppError(err).WithField("platform", m.Platform).WithField("external_id", m.ExternalID)
		}
	}

	if err := c.JSON(http.StatusOK, newSettingsResponse(st)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleSweep runs a cleanup pass now. With dry_run=true it only reports
// what would be deleted.
func (s *Server) handleSweep(c echo.Context) error {
	ctx := c.Request().Context()

	dryRun := false
	if raw := c.QueryParam("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return apperrors.ValidationError("dry_run must be a boolean").WithField("dry_run", raw)
		}
		dryRun = v
	}

	if dryRun {
		stale, err := s.sweeper.Stale(ctx)
		if err != nil {
			return toAppError(err)
		}
		out := make([]staleRecord, 0, len(stale))
		for _, rec := range stale {
			out = append(out, staleRecord{
				Scope:        rec.Scope,
				SubscriberID: rec.SubscriberID,
				Platform:     rec.Platform,
				ExternalID:   rec.ExternalID,
				MessageID:    rec.MessageID,
				SentAt:       rec.SentAt,
			})
		}
		response := map[string]any{
			"dryRun":    true,
			"retention": s.sweeper.Retention().String(),
			"stale":     out,
		}
		if err := c.JSON(http.StatusOK, response); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}

	deleted, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return toAppError(err)
	}
	response := map[string]any{
		"dryRun":    false,
		"retention": s.sweeper.Retention().String(),
		"deleted":   deleted,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListShards(c echo.Context) error {
	shards, err := s.shards.Active(c.Request().Context())
	if err != nil {
		return apperrors.ExternalError("failed to read shard registry", err)
	}
	if err := c.JSON(http.StatusOK, shards); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func bindError(err error) *apperrors.Error {
	if httpErr, ok := errors.AsType[*echo.HTTPError](err); ok {
		return WrapHTTPError(httpErr)
	}
	return apperrors.ValidationError("malformed request body")
}

// toAppError maps the domain error taxonomy onto API error types.
func toAppError(err error) *apperrors.Error {
	if appErr, ok := errors.AsType[*apperrors.Error](err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return newAppError(apperrors.TypeValidation, err)
	case errors.Is(err, domain.ErrNotFound):
		return newAppError(apperrors.TypeNotFound, err)
	case errors.Is(err, domain.ErrAlreadySubscribed):
		return newAppError(apperrors.TypeConflict, err)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return apperrors.ExternalError("upstream platform unavailable", err)
	default:
		return apperrors.InternalError("internal server error", err)
	}
}

func newAppError(t apperrors.ErrorType, err error) *apperrors.Error {
	return &apperrors.Error{Type: t, Message: err.Error(), Cause: err, Context: make(map[string]any)}
}
