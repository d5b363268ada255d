package main

import (
	"context"
	"sync"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Event is one event payload addressed to an execution's subscribers
type Event struct {
	ExecutionID string
	Data        []byte
}

// Hub tracks live WebSocket subscribers per execution and fans events
// out to them. Registration and fanout run on the Run goroutine; the
// read lock serves the status counters.
type Hub struct {
	logger Logger

	mu          sync.RWMutex
	subscribers map[string][]*Client

	register   chan *Client
	unregister chan *Client
	events     chan *Event
}

// NewHub creates a new Hub instance
func NewHub(logger Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		events:      make(chan *Event, 256),
	}
}

// Run dispatches registrations and events until the context ends.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case ev := <-h.events:
			h.fanout(ev)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[client.executionID] = append(h.subscribers[client.executionID], client)
	h.logger.Debug("subscriber registered",
		"execution_id", client.executionID,
		"subscribers", len(h.subscribers[client.executionID]))
}

// remove detaches the client and closes its send channel. Safe to call
// more than once for the same client; later calls find nothing.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[client.executionID]
	for i, c := range subs {
		if c == client {
			h.subscribers[client.executionID] = append(subs[:i], subs[i+1:]...)
			if len(h.subscribers[client.executionID]) == 0 {
				delete(h.subscribers, client.executionID)
			}
			close(client.send)
			break
		}
	}
}

func (h *Hub) fanout(ev *Event) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.subscribers[ev.ExecutionID]...)
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range clients {
		select {
		case c.send <- ev.Data:
		default:
			slow = append(slow, c)
		}
	}

	// A full send buffer means the client stopped reading; cut it
	// loose rather than stall the rest of the feed.
	for _, c := range slow {
		h.logger.Warn("dropping slow subscriber", "execution_id", ev.ExecutionID)
		h.remove(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, subs := range h.subscribers {
		for _, c := range subs {
			close(c.send)
		}
		delete(h.subscribers, id)
	}
	h.logger.Info("hub stopped")
}

// ConnectionCount returns the total number of live subscriptions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// ExecutionCount returns the number of executions with a live feed.
func (h *Hub) ExecutionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
