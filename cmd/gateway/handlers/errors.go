package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/weftlabs/weft/cmd/gateway/service"
	"github.com/weftlabs/weft/common/repository"
)

// respondError maps service errors onto HTTP statuses. Everything the
// caller can act on gets a 4xx with a message; anything else is a 500
// with no internals leaked.
func respondError(c echo.Context, err error) error {
	var (
		validationErr *service.ValidationError
		buildErr      *service.BuildError
		rateLimitErr  *service.RateLimitError
		conflictErr   *service.ConflictError
	)

	switch {
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": validationErr.Error(),
		})

	case errors.As(err, &buildErr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "workflow failed to build",
			"issues": buildErr.Issues,
		})

	case errors.As(err, &rateLimitErr):
		c.Response().Header().Set("Retry-After", strconv.FormatInt(rateLimitErr.RetryAfterSeconds, 10))
		return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
			"error":             rateLimitErr.Error(),
			"tier":              string(rateLimitErr.Tier),
			"limit":             rateLimitErr.Limit,
			"retryAfterSeconds": rateLimitErr.RetryAfterSeconds,
		})

	case errors.As(err, &conflictErr):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": conflictErr.Error(),
		})

	case errors.Is(err, service.ErrVersionConflict):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": err.Error(),
		})

	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "not found",
		})

	default:
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "internal error",
		})
	}
}
