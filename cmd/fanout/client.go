package main

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Per-frame write deadline
	writeWait = 10 * time.Second

	// The connection is dead if no pong arrives inside this window
	pongWait = 30 * time.Second

	// Keepalive cadence, kept inside the pong window
	pingPeriod = (pongWait * 9) / 10

	// Subscribers never send data, only pongs
	maxMessageSize = 512

	// Frames buffered per subscriber before the hub calls it slow
	sendBuffer = 512
)

// Client is one WebSocket subscription to one execution's event feed
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	executionID string
	send        chan []byte
	logger      Logger
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, executionID string, logger Logger) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		executionID: executionID,
		send:        make(chan []byte, sendBuffer),
		logger:      logger,
	}
}

// readPump drains the connection to service ping/pong and detect
// disconnects. Subscriber data frames are ignored; the feed is
// server-push only.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", "execution_id", c.executionID, "error", err)
			}
			return
		}
	}
}

// writePump forwards hub events to the connection. Each event goes out
// as its own text frame so clients can parse one JSON object per
// message.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the subscription, at shutdown or because
				// this subscriber stopped draining frames.
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed")
				c.conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush whatever queued up behind this event, one frame each
			n := len(c.send)
			for i := 0; i < n; i++ {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
