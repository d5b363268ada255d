package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/weftlabs/weft/cmd/gateway/container"
	"github.com/weftlabs/weft/cmd/gateway/handlers"
	"github.com/weftlabs/weft/cmd/gateway/middleware"
	commonmw "github.com/weftlabs/weft/common/middleware"
)

// RegisterExecutionRoutes registers all execution-related routes
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c.ExecutionService)

	// Execution routes require a caller identity
	ex := e.Group("/api/v1/executions")
	ex.Use(middleware.ExtractUserIDStrict()) // Extract X-User-ID into context
	ex.Use(commonmw.UserRateLimitMiddleware(c.RateLimiter, c.Components.Config.Gateway.UserRateLimit))
	{
		ex.POST("", h.SubmitExecution)                          // POST /api/v1/executions
		ex.GET("", h.ListExecutions)                            // GET /api/v1/executions
		ex.GET("/:id", h.GetExecution)                          // GET /api/v1/executions/:id
		ex.GET("/:id/events", h.GetExecutionEvents)             // GET /api/v1/executions/:id/events
		ex.POST("/:id/cancel", h.CancelExecution)               // POST /api/v1/executions/:id/cancel
		ex.POST("/:id/approvals/:node", h.ApproveExecutionNode) // POST /api/v1/executions/:id/approvals/:node
	}
}
