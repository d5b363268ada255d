package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/weftlabs/weft/cmd/gateway/middleware"
	"github.com/weftlabs/weft/cmd/gateway/service"
)

// ExecutionHandler handles execution-related requests
type ExecutionHandler struct {
	executions *service.ExecutionService
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(executions *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{
		executions: executions,
	}
}

// SubmitExecution accepts a workflow execution
// POST /api/v1/executions
func (h *ExecutionHandler) SubmitExecution(c echo.Context) error {
	userID := middleware.GetUserID(c)

	req := new(service.SubmitRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	resp, err := h.executions.Submit(c.Request().Context(), userID, req)
	if err != nil {
		return respondError(c, err)
	}

	// 202: accepted for asynchronous execution
	return c.JSON(http.StatusAccepted, resp)
}

// GetExecution retrieves an execution with its span timeline
// GET /api/v1/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	userID := middleware.GetUserID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "id must be a UUID",
		})
	}

	details, err := h.executions.Get(c.Request().Context(), userID, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, details)
}

// ListExecutions lists the user's executions
// GET /api/v1/executions?limit=50
func (h *ExecutionHandler) ListExecutions(c echo.Context) error {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	execs, err := h.executions.List(c.Request().Context(), userID, limit)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
	})
}

// GetExecutionEvents returns the execution's event log
// GET /api/v1/executions/:id/events?limit=1000
func (h *ExecutionHandler) GetExecutionEvents(c echo.Context) error {
	userID := middleware.GetUserID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "id must be a UUID",
		})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	events, err := h.executions.Events(c.Request().Context(), userID, id, limit)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"executionId": id,
		"events":      events,
		"count":       len(events),
	})
}

// CancelExecution asks the engine to stop an execution
// POST /api/v1/executions/:id/cancel
func (h *ExecutionHandler) CancelExecution(c echo.Context) error {
	userID := middleware.GetUserID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "id must be a UUID",
		})
	}

	if err := h.executions.Cancel(c.Request().Context(), userID, id); err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"executionId": id,
		"status":      "cancelling",
	})
}

// ApproveExecutionNode resolves a paused human-review node
// POST /api/v1/executions/:id/approvals/:node
func (h *ExecutionHandler) ApproveExecutionNode(c echo.Context) error {
	userID := middleware.GetUserID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "id must be a UUID",
		})
	}
	nodeID := c.Param("node")

	req := new(service.ApprovalRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	if err := h.executions.Approve(c.Request().Context(), userID, id, nodeID, req); err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"executionId": id,
		"nodeId":      nodeID,
		"status":      "accepted",
	})
}
