package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weftlabs/weft/common/clients"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the dashboard origin once it has a fixed host
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server terminates WebSocket subscriptions and forwards approval
// decisions to the gateway.
type Server struct {
	hub     *Hub
	gateway *clients.GatewayClient
	logger  Logger
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, gateway *clients.GatewayClient, logger Logger) *Server {
	return &Server{
		hub:     hub,
		gateway: gateway,
		logger:  logger,
	}
}

// HandleWebSocket upgrades the connection and subscribes it to one
// execution's live event feed
// GET /ws?executionId=<id>
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	executionID := r.URL.Query().Get("executionId")
	if executionID == "" {
		http.Error(w, "executionId query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, executionID, s.logger)

	// Seed the feed with the execution's current state before
	// subscribing, so a dashboard joining mid-run is not blind until
	// the next live event. Queued here while the client is still
	// private to this handler; the hub owns the channel afterwards.
	if userID := r.Header.Get("X-User-ID"); userID != "" && s.gateway != nil {
		s.queueSnapshot(r.Context(), client, userID)
	}

	s.hub.register <- client

	s.logger.Info("subscriber connected",
		"execution_id", executionID,
		"remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// queueSnapshot fetches the execution through the gateway and queues a
// status_snapshot frame in the same envelope the live feed uses. Best
// effort; the feed works without it.
func (s *Server) queueSnapshot(ctx context.Context, client *Client, userID string) {
	ctx, cancel := context.WithTimeout(clients.WithUserID(ctx, userID), 2*time.Second)
	defer cancel()

	exec, err := s.gateway.GetExecution(ctx, client.executionID)
	if err != nil {
		s.logger.Warn("status snapshot unavailable",
			"execution_id", client.executionID,
			"error", err)
		return
	}

	payload := map[string]interface{}{"status": exec.Status}
	if len(exec.Result) > 0 {
		payload["result"] = json.RawMessage(exec.Result)
	}
	frame, err := json.Marshal(map[string]interface{}{
		"channel":   client.executionID,
		"kind":      "status_snapshot",
		"timestamp": time.Now().UnixMilli(),
		"payload":   payload,
	})
	if err != nil {
		return
	}

	select {
	case client.send <- frame:
	default:
	}
}

// ApprovalMessage is an approval decision arriving over the fanout
// shim instead of the gateway API. Dashboards that already hold a
// WebSocket here can resolve reviews without a second base URL.
type ApprovalMessage struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId"`
	Approved    bool   `json:"approved"`
	Comment     string `json:"comment,omitempty"`
}

// HandleApproval forwards an approval decision to the gateway
// POST /api/approval
func (s *Server) HandleApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "X-User-ID header required", http.StatusUnauthorized)
		return
	}

	var msg ApprovalMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg.ExecutionID == "" || msg.NodeID == "" {
		http.Error(w, "executionId and nodeId are required", http.StatusBadRequest)
		return
	}

	// The gateway owns ownership checks and signal routing; this is
	// a pure forward.
	ctx := clients.WithUserID(r.Context(), userID)
	err := s.gateway.ResolveApproval(ctx, msg.ExecutionID, msg.NodeID, clients.ApprovalDecision{
		Approved: msg.Approved,
		Comment:  msg.Comment,
	})
	if err != nil {
		s.logger.Error("failed to forward approval",
			"execution_id", msg.ExecutionID,
			"node_id", msg.NodeID,
			"error", err)
		http.Error(w, "failed to forward approval", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"executionId": msg.ExecutionID,
		"nodeId":      msg.NodeID,
		"status":      "accepted",
	})
}
