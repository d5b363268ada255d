package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/weftlabs/weft/cmd/gateway/container"
	"github.com/weftlabs/weft/cmd/gateway/handlers"
	"github.com/weftlabs/weft/cmd/gateway/middleware"
	commonmw "github.com/weftlabs/weft/common/middleware"
)

// RegisterWorkflowRoutes registers all workflow-related routes
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c.WorkflowService)

	// Workflow routes require a caller identity
	wf := e.Group("/api/v1/workflows")
	wf.Use(middleware.ExtractUserIDStrict()) // Extract X-User-ID into context
	wf.Use(commonmw.UserRateLimitMiddleware(c.RateLimiter, c.Components.Config.Gateway.UserRateLimit))
	{
		wf.POST("", h.CreateWorkflow)       // POST /api/v1/workflows
		wf.GET("", h.ListWorkflows)         // GET /api/v1/workflows
		wf.GET("/:id", h.GetWorkflow)       // GET /api/v1/workflows/:id
		wf.PUT("/:id", h.UpdateWorkflow)    // PUT /api/v1/workflows/:id
		wf.PATCH("/:id", h.PatchWorkflow)   // PATCH /api/v1/workflows/:id
		wf.DELETE("/:id", h.DeleteWorkflow) // DELETE /api/v1/workflows/:id
	}
}
