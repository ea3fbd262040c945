package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/logging"
)

// clientQueueSize is the per-client outbound frame buffer. A client that
// falls this far behind loses frames instead of stalling the broadcast.
const clientQueueSize = 256

// Hub tracks WebSocket clients and fans events out to them.
//
// Thread Safety: all methods are safe for concurrent use. Broadcast runs on
// the coordinator loop and never blocks on a client.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates a hub with no clients.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and closes its queue. Repeated calls are no-ops.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast encodes one event and queues it for every client whose
// subscription matches channel and topic. It never blocks on a client.
func (h *Hub) Broadcast(channel, topic string, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(channel, topic) {
			c.enqueue(data)
		}
	}
}

// subscription is the set of channels and device topics a client follows.
// An empty topic set follows every device.
type subscription struct {
	channels map[string]struct{}
	topics   map[string]struct{}
}

func newSubscription() subscription {
	return subscription{
		channels: make(map[string]struct{}),
		topics:   make(map[string]struct{}),
	}
}

func (s subscription) matches(channel, topic string) bool {
	if _, ok := s.channels[channel]; !ok {
		return false
	}
	if len(s.topics) == 0 || topic == "" {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	sub    subscription
	send   chan []byte
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:  h,
		conn: conn,
		sub:  newSubscription(),
		send: make(chan []byte, clientQueueSize),
	}
}

func (c *WSClient) wants(channel, topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub.matches(channel, topic)
}

// enqueue drops the frame when the client is closed or its queue is full.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close ends the write pump and the connection. Safe to call repeatedly.
func (c *WSClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(timeFormat)
	}
	return json.Marshal(msg)
}
