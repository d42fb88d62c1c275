package websocket

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Subscription requests are tiny; anything larger is not ours
	maxRequestSize = 512

	// Progress updates queued per connection before the hub starts dropping
	sendBuffer = 256

	// maxFollowedJobs caps the jobs one connection can follow
	maxFollowedJobs = 32
)

// request is what a console sends to follow or stop following a job
type request struct {
	Type  MessageType `json:"type"`
	JobID uint        `json:"job_id"`
}

// Client is one progress console connected over /ws
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// jobs is only touched by the read goroutine
	jobs map[uint]struct{}
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
		jobs:   make(map[uint]struct{}),
	}
}

// ReadPump reads subscription requests until the connection drops, then
// unregisters the client
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxRequestSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && c.logger != nil {
				c.logger.Warn("progress connection closed unexpectedly", slog.Any("error", err))
			}
			return
		}
		c.handleMessage(data)
	}
}

// WritePump forwards queued progress frames and keeps the connection
// alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// unregistered by the hub
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("invalid message format")
		return
	}
	if req.Type != MessageTypeSubscribe && req.Type != MessageTypeUnsubscribe {
		c.sendError("unknown message type")
		return
	}
	if req.JobID == 0 {
		c.sendError("job_id is required")
		return
	}

	if req.Type == MessageTypeUnsubscribe {
		delete(c.jobs, req.JobID)
		c.hub.Unsubscribe(c, req.JobID)
		return
	}
	if _, ok := c.jobs[req.JobID]; !ok && len(c.jobs) >= maxFollowedJobs {
		c.sendError("too many subscriptions")
		return
	}
	c.jobs[req.JobID] = struct{}{}
	c.hub.Subscribe(c, req.JobID)
}

// deliver queues a frame without blocking; false means it was dropped
func (c *Client) deliver(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) sendError(reason string) {
	data, err := json.Marshal(WSMessage{Type: MessageTypeError, Error: reason})
	if err != nil {
		return
	}
	c.deliver(data)
}
