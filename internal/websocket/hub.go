package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeProgress    MessageType = "job_progress"
	MessageTypeError       MessageType = "error"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    MessageType `json:"type"`
	JobID   uint        `json:"job_id,omitempty"`
	Message interface{} `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ProgressPayload is sent to job subscribers once per flushed batch and
// once more when the job reaches a terminal state
type ProgressPayload struct {
	JobID      uint   `json:"job_id"`
	Status     string `json:"status"`
	Processed  int    `json:"processed"`
	Total      int    `json:"total"`
	NodeErrors int    `json:"node_errors"`
	Terminal   bool   `json:"terminal"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Job subscriptions: jobID -> set of clients
	subscriptions map[uint]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Subscribe to job
	subscribe chan *subscriptionRequest

	// Unsubscribe from job
	unsubscribeJob chan *subscriptionRequest

	// Broadcast to job subscribers
	broadcast chan *broadcastMessage

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger
}

type subscriptionRequest struct {
	client *Client
	jobID  uint
}

type broadcastMessage struct {
	jobID   uint
	message []byte
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		subscriptions:  make(map[uint]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		subscribe:      make(chan *subscriptionRequest),
		unsubscribeJob: make(chan *subscriptionRequest),
		broadcast:      make(chan *broadcastMessage, 256),
		logger:         logger,
	}
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client registered")
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				// Remove from all subscriptions
				for jobID, subscribers := range h.subscriptions {
					delete(subscribers, client)
					if len(subscribers) == 0 {
						delete(h.subscriptions, jobID)
					}
				}
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client unregistered")
			}

		case req := <-h.subscribe:
			h.mu.Lock()
			if !h.clients[req.client] {
				h.mu.Unlock()
				continue
			}
			if h.subscriptions[req.jobID] == nil {
				h.subscriptions[req.jobID] = make(map[*Client]bool)
			}
			h.subscriptions[req.jobID][req.client] = true
			h.mu.Unlock()
			// Updates broadcast from here on reach the client after this ack
			req.client.deliver(subscribedFrame(req.jobID))
			if h.logger != nil {
				h.logger.Debug("client subscribed to job", slog.Uint64("job_id", uint64(req.jobID)))
			}

		case req := <-h.unsubscribeJob:
			h.mu.Lock()
			if subscribers, ok := h.subscriptions[req.jobID]; ok {
				delete(subscribers, req.client)
				if len(subscribers) == 0 {
					delete(h.subscriptions, req.jobID)
				}
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client unsubscribed from job", slog.Uint64("job_id", uint64(req.jobID)))
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			subscribers := h.subscriptions[msg.jobID]
			for client := range subscribers {
				client.deliver(msg.message)
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe subscribes a client to a job
func (h *Hub) Subscribe(client *Client, jobID uint) {
	h.subscribe <- &subscriptionRequest{client: client, jobID: jobID}
}

// Unsubscribe unsubscribes a client from a job
func (h *Hub) Unsubscribe(client *Client, jobID uint) {
	h.unsubscribeJob <- &subscriptionRequest{client: client, jobID: jobID}
}

// SubscriberCount returns the number of clients following a job
func (h *Hub) SubscriberCount(jobID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[jobID])
}

func subscribedFrame(jobID uint) []byte {
	data, _ := json.Marshal(WSMessage{Type: MessageTypeSubscribed, JobID: jobID})
	return data
}

// BroadcastProgress queues a progress update for the job's subscribers.
// It never blocks the ingestion loop: when the queue is full the update
// is dropped, since the next batch supersedes it.
func (h *Hub) BroadcastProgress(payload *ProgressPayload) {
	if h.SubscriberCount(payload.JobID) == 0 {
		return
	}
	msg := WSMessage{
		Type:    MessageTypeProgress,
		JobID:   payload.JobID,
		Message: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to marshal broadcast message", slog.Any("error", err))
		}
		return
	}

	select {
	case h.broadcast <- &broadcastMessage{jobID: payload.JobID, message: data}:
	default:
		if h.logger != nil {
			h.logger.Warn("progress update dropped", slog.Uint64("job_id", uint64(payload.JobID)))
		}
	}
}
