package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const (
	// UserIDKey is the context key for the caller identity
	UserIDKey ContextKey = "user_id"
)

// ExtractUserID extracts the caller identity from the X-User-ID header
// and stores it in the request context. Requests without the header pass
// through; handlers that need the identity use RequireUserID.
func ExtractUserID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get("X-User-ID")
			if userID != "" {
				c.Set(string(UserIDKey), userID)
			}
			return next(c)
		}
	}
}

// ExtractUserIDStrict extracts the caller identity and rejects requests
// that do not carry one.
func ExtractUserIDStrict() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get("X-User-ID")
			if userID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "X-User-ID header is required",
				})
			}
			c.Set(string(UserIDKey), userID)
			return next(c)
		}
	}
}

// GetUserID retrieves the caller identity from the request context.
// Returns empty string if not found.
func GetUserID(c echo.Context) string {
	if userID, ok := c.Get(string(UserIDKey)).(string); ok {
		return userID
	}
	return ""
}

// RequireUserID retrieves the caller identity or returns an error response.
// Use in handlers mounted behind the permissive extractor.
func RequireUserID(c echo.Context) (string, error) {
	userID := GetUserID(c)
	if userID == "" {
		return "", c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}
	return userID, nil
}
