package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/weftlabs/weft/common/ratelimit"
)

// isInternalRequest reports whether the request carries the shared
// internal-service secret. With INTERNAL_SERVICE_SECRET unset the
// bypass is disabled entirely rather than falling back to a known
// default.
func isInternalRequest(c echo.Context) bool {
	got := c.Request().Header.Get("X-Internal-Service")
	want := os.Getenv("INTERNAL_SERVICE_SECRET")
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// GlobalRateLimitMiddleware admits against the service-wide window.
// Check errors fail open: an unreachable limiter must not take the API
// down with it.
func GlobalRateLimitMiddleware(limiter *ratelimit.Limiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c) {
				return next(c)
			}

			result, err := limiter.CheckGlobalLimit(c.Request().Context(), limit)
			if err != nil {
				return next(c)
			}
			if !result.Allowed {
				return tooManyRequests(c, "global_rate_limit_exceeded", result)
			}

			return next(c)
		}
	}
}

// UserRateLimitMiddleware admits against the caller's window. Requires
// user_id in context from the auth middleware; anonymous requests pass
// through and are limited globally only.
func UserRateLimitMiddleware(limiter *ratelimit.Limiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c) {
				return next(c)
			}

			userID, ok := c.Get("user_id").(string)
			if !ok || userID == "" {
				return next(c)
			}

			result, err := limiter.CheckUserLimit(c.Request().Context(), userID, limit, 60)
			if err != nil {
				return next(c)
			}
			if !result.Allowed {
				return tooManyRequests(c, "user_rate_limit_exceeded", result)
			}

			return next(c)
		}
	}
}

// tooManyRequests writes the 429 shape shared with the gateway's
// error mapper.
func tooManyRequests(c echo.Context, code string, result *ratelimit.Result) error {
	c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":             code,
		"limit":             result.Limit,
		"retryAfterSeconds": result.RetryAfterSeconds,
	})
}
