package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/weftlabs/weft/cmd/gateway/middleware"
	"github.com/weftlabs/weft/cmd/gateway/service"
)

// WorkflowHandler handles workflow-related requests
type WorkflowHandler struct {
	workflows *service.WorkflowService
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(workflows *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{
		workflows: workflows,
	}
}

// CreateWorkflow stores a new workflow definition
// POST /api/v1/workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	userID := middleware.GetUserID(c)

	req := new(service.CreateWorkflowRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	wf, err := h.workflows.Create(c.Request().Context(), userID, req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, wf)
}

// GetWorkflow retrieves a workflow by ID
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	userID := middleware.GetUserID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "id must be a UUID",
		})
	}

	wf, err := h.workflows.Get(c.Request().Context(), userID, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, wf)
}

// ListWorkflows lists the user's workflows
// GET /api/v1/workflows?limit=50
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	wfs, err := h.workflows.List(c.Request().Context(), userID, limit)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflows": wfs,
		"count":     len(wfs),
	})
}

// UpdateWorkflow replaces a workflow definition (version-checked)
// PUT /api/v1/workflows/:id
func (h *WorkflowHandler) UpdateWorkflow(c echo.Context) error {
	userID := middleware.GetUserID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "id must be a UUID",
		})
	}

	req := new(service.UpdateWorkflowRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	wf, err := h.workflows.Update(c.Request().Context(), userID, id, req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, wf)
}

// PatchWorkflow applies an RFC 6902 patch to a workflow definition
// PATCH /api/v1/workflows/:id
func (h *WorkflowHandler) PatchWorkflow(c echo.Context) error {
	userID := middleware.GetUserID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "id must be a UUID",
		})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "failed to read request body",
		})
	}

	wf, err := h.workflows.Patch(c.Request().Context(), userID, id, body)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, wf)
}

// DeleteWorkflow removes a workflow definition
// DELETE /api/v1/workflows/:id
func (h *WorkflowHandler) DeleteWorkflow(c echo.Context) error {
	userID := middleware.GetUserID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "id must be a UUID",
		})
	}

	if err := h.workflows.Delete(c.Request().Context(), userID, id); err != nil {
		return respondError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}
