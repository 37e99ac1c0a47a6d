package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	apperrors "github.com/pscheid92/streamnotify/internal/platform/errors"
)

const rateLimiterExpiry = 5 * time.Minute

// rateLimit describes one limiter: Rate and Burst per key, Key picks the
// bucket, Deny answers a rejected request.
type rateLimit struct {
	Rate  float64
	Burst int
	Key   func(c echo.Context) string
	Deny  func(c echo.Context) error
}

// hubRateLimit buckets deliveries per hook. A hub pushes for every topic from
// the same few addresses, so keying on the client IP would let one busy
// streamer starve the rest. Denials carry Retry-After, which hubs honour
// before redelivering.
func hubRateLimit(ratePerSecond float64, burst int) rateLimit {
	retryAfter := strconv.Itoa(max(1, int(1/ratePerSecond)))
	return rateLimit{
		Rate:  ratePerSecond,
		Burst: burst,
		Key: func(c echo.Context) string {
			if id := c.Param("hookId"); id != "" {
				return "hook:" + id
			}
			return "ip:" + c.RealIP()
		},
		Deny: func(c echo.Context) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			return c.NoContent(http.StatusTooManyRequests)
		},
	}
}

// clientRateLimit buckets per client IP and answers with the API error shape.
func clientRateLimit(ratePerSecond float64, burst int) rateLimit {
	return rateLimit{
		Rate:  ratePerSecond,
		Burst: burst,
		Key:   func(c echo.Context) string { return c.RealIP() },
		Deny: func(c echo.Context) error {
			err := apperrors.RateLimitedError("rate limit exceeded")
			return c.JSON(err.HTTPStatus(), err.ToResponse())
		},
	}
}

func newRateLimiter(cfg rateLimit) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(cfg.Rate),
			Burst:     cfg.Burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return cfg.Key(c), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return cfg.Deny(c)
		},
	})
}
