package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/bemfa-bridge/internal/device"
	"github.com/nerrad567/bemfa-bridge/internal/entity"
)

// Frame types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels.
const (
	// ChannelStateChanged carries every state table change.
	ChannelStateChanged = "device.state_changed"

	// ChannelSnapshot carries the current device list, once, to a client
	// that asks for it when subscribing.
	ChannelSnapshot = "device.snapshot"
)

// WSMessage is one frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// inboundFrame defers payload decoding to the frame handler.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSSubscribePayload selects channels and, optionally, device topics.
// Snapshot asks for the current device list right after subscribing.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Topics   []string `json:"topics,omitempty"`
	Snapshot bool     `json:"snapshot,omitempty"`
}

// StateChangedEvent is the payload of a device.state_changed event.
type StateChangedEvent struct {
	Topic       string        `json:"topic"`
	Source      device.Source `json:"source"`
	Added       bool          `json:"added"`
	PreviousRaw string        `json:"previous_raw_state"`
	Record      device.Record `json:"record"`
	Device      *entity.View  `json:"device,omitempty"`
}

// Origins are checked by the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// broadcastChange is a coordinator subscriber.
func (s *Server) broadcastChange(ch device.Change) {
	ev := StateChangedEvent{
		Topic:       ch.Record.Topic,
		Source:      ch.Source,
		Added:       ch.Added,
		PreviousRaw: ch.Previous.RawState,
		Record:      ch.Record,
	}
	if e, ok := s.entities.Get(ch.Record.Topic); ok {
		v := e.Render()
		ev.Device = &v
	}
	s.hub.Broadcast(ChannelStateChanged, ch.Record.Topic, ev)
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(s.hub, conn)
	s.hub.Register(c)

	ka := keepaliveFrom(s.wsCfg.PingInterval, s.wsCfg.PongTimeout)
	go c.writePump(ka)
	go c.readPump(s, ka, int64(s.wsCfg.MaxMessageSize))
}

// keepalive holds the ping cadence and how long a silent peer is tolerated.
type keepalive struct {
	ping     time.Duration
	deadline time.Duration
	write    time.Duration
}

func keepaliveFrom(pingSeconds, pongSeconds int) keepalive {
	ping := time.Duration(pingSeconds) * time.Second
	pong := time.Duration(pongSeconds) * time.Second
	return keepalive{ping: ping, deadline: ping + pong, write: pong}
}

func (c *WSClient) readPump(s *Server, ka keepalive, limit int64) {
	defer c.hub.Unregister(c)

	if limit > 0 {
		c.conn.SetReadLimit(limit)
	}
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(ka.deadline)) }
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application frames count as liveness too; some browsers never
		// answer protocol pings.
		_ = extend()
		c.handleFrame(s, data)
	}
}

func (c *WSClient) writePump(ka keepalive) {
	ticker := time.NewTicker(ka.ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ka.write))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ka.write))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleFrame(s *Server, data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch f.Type {
	case WSTypePing:
		c.reply(f.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				c.reply(f.ID, WSTypeError, errorBody("invalid "+f.Type+" payload"))
				return
			}
		}
		if f.Type == WSTypeUnsubscribe {
			c.unsubscribe(f.ID, p)
			return
		}
		c.subscribe(s, f.ID, p)
	default:
		c.reply(f.ID, WSTypeError, errorBody("unknown message type: "+f.Type))
	}
}

func (c *WSClient) subscribe(s *Server, id string, p WSSubscribePayload) {
	c.mu.Lock()
	for _, ch := range p.Channels {
		c.sub.channels[ch] = struct{}{}
	}
	for _, t := range p.Topics {
		c.sub.topics[t] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", p.Channels, "topics", p.Topics)
	c.reply(id, WSTypeResponse, map[string]any{"subscribed": p.Channels, "topics": p.Topics})

	if p.Snapshot {
		c.sendSnapshot(s)
	}
}

func (c *WSClient) unsubscribe(id string, p WSSubscribePayload) {
	c.mu.Lock()
	for _, ch := range p.Channels {
		delete(c.sub.channels, ch)
	}
	for _, t := range p.Topics {
		delete(c.sub.topics, t)
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"unsubscribed": p.Channels, "topics": p.Topics})
}

// sendSnapshot delivers the device list filtered by the client's topics.
func (c *WSClient) sendSnapshot(s *Server) {
	views := s.entities.Views()
	out := make([]entity.View, 0, len(views))
	for _, v := range views {
		if c.followsTopic(v.Topic) {
			out = append(out, v)
		}
	}
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: ChannelSnapshot, Payload: out})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WSClient) followsTopic(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sub.topics) == 0 {
		return true
	}
	_, ok := c.sub.topics[topic]
	return ok
}

func (c *WSClient) reply(id, frameType string, payload any) {
	data, err := encodeFrame(WSMessage{Type: frameType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}
