package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewayClient handles communication with the gateway API.
// It uses context to pass authentication and other metadata.
type GatewayClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// NewGatewayClient creates a new gateway client
func NewGatewayClient(baseURL string, logger Logger) *GatewayClient {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	return &GatewayClient{
		baseURL: baseURL,
		http:    NewHTTPClient(httpClient, logger),
		logger:  logger,
	}
}

// ApprovalDecision is the payload for resolving a human_review node
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}

// ResolveApproval posts an approval decision for a paused execution
// Requires: ctx with UserID set via WithUserID()
func (c *GatewayClient) ResolveApproval(ctx context.Context, executionID, nodeID string, decision ApprovalDecision) error {
	url := fmt.Sprintf("%s/api/v1/executions/%s/approvals/%s", c.baseURL, executionID, nodeID)

	resp, err := c.http.PostJSON(ctx, url, decision)
	if err != nil {
		return fmt.Errorf("failed to post approval: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("approval request failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	c.logger.Info("approval forwarded to gateway",
		"execution_id", executionID,
		"node_id", nodeID,
		"approved", decision.Approved)

	return nil
}

// ExecutionStatusResponse is the subset of the gateway execution view
// that service-side consumers need
type ExecutionStatusResponse struct {
	ExecutionID string          `json:"id"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// GetExecution fetches current execution status from the gateway
// Requires: ctx with UserID set via WithUserID()
func (c *GatewayClient) GetExecution(ctx context.Context, executionID string) (*ExecutionStatusResponse, error) {
	url := fmt.Sprintf("%s/api/v1/executions/%s", c.baseURL, executionID)

	resp, err := c.http.DoRequest(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch execution: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("execution request failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	// The gateway wraps the execution row with its span timeline; only
	// the row is of interest here.
	var details struct {
		Execution ExecutionStatusResponse `json:"execution"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("failed to decode execution response: %w", err)
	}

	return &details.Execution, nil
}
