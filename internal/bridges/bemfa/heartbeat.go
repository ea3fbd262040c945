package bemfa

import (
	"context"
	"sync"
	"time"
)

// Heartbeat defaults, matching the cloud integration's constants.
const (
	DefaultHeartbeatTopic   = "hassping"
	DefaultHeartbeatPayload = "ping"
	defaultSendInterval     = 30 * time.Second
	defaultReceiveInterval  = 20 * time.Second
	defaultMaxLost          = 3
)

// HeartbeatPublisher sends the heartbeat payload.
type HeartbeatPublisher interface {
	Publish(topic, payload string) error
}

// HeartbeatConfig holds heartbeat timing and callbacks.
type HeartbeatConfig struct {
	// Topic is both published to and subscribed; the broker echoes our own
	// pings back, which proves the round trip.
	Topic   string
	Payload string

	// SendInterval is how often a ping is published. Default: 30s.
	SendInterval time.Duration

	// ReceiveInterval is the length of one receive window. A window with no
	// ping counts as one miss. Default: 20s.
	ReceiveInterval time.Duration

	// MaxLost is how many consecutive misses are tolerated. OnLost fires when
	// the count goes above it. Default: 3.
	MaxLost int

	// OnLost is called once per loss, with the miss count. Optional.
	OnLost func(missed int)

	// OnRestored is called on the first ping after a loss. Optional.
	OnRestored func()

	// StartLost starts the heartbeat in the lost state, so the first ping
	// fires OnRestored. Used to carry a loss across reconnects.
	StartLost bool
}

func (c HeartbeatConfig) withDefaults() HeartbeatConfig {
	if c.Topic == "" {
		c.Topic = DefaultHeartbeatTopic
	}
	if c.Payload == "" {
		c.Payload = DefaultHeartbeatPayload
	}
	if c.SendInterval <= 0 {
		c.SendInterval = defaultSendInterval
	}
	if c.ReceiveInterval <= 0 {
		c.ReceiveInterval = defaultReceiveInterval
	}
	if c.MaxLost <= 0 {
		c.MaxLost = defaultMaxLost
	}
	return c
}

// HeartbeatStatus is a point-in-time view of the heartbeat.
type HeartbeatStatus struct {
	Running  bool      `json:"running"`
	Missed   int       `json:"missed"`
	Lost     bool      `json:"lost"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Heartbeat publishes pings and counts receive windows without one.
//
// Thread Safety: all methods are safe for concurrent use. Callbacks run on
// the watch goroutine (OnLost) or the caller of Received (OnRestored).
//
// One Heartbeat lives for one connection: the transport starts a fresh one
// on every connect and stops it on disconnect. A loss outlives the
// connection it was declared on; see HeartbeatConfig.StartLost.
type Heartbeat struct {
	cfg       HeartbeatConfig
	publisher HeartbeatPublisher
	logger    Logger

	mu       sync.Mutex
	missed   int
	seen     bool
	lost     bool
	lastSeen time.Time
	running  bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHeartbeat creates a heartbeat. Call Start to begin.
//
// Parameters:
//   - cfg: timing and callbacks; zero fields take defaults
//   - publisher: sends pings; nil disables sending
//   - logger: may be nil
//
// Returns:
//   - *Heartbeat: stopped until Start
func NewHeartbeat(cfg HeartbeatConfig, publisher HeartbeatPublisher, logger Logger) *Heartbeat {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Heartbeat{
		cfg:       cfg.withDefaults(),
		publisher: publisher,
		logger:    logger,
		lost:      cfg.StartLost,
		done:      make(chan struct{}),
	}
}

// Topic returns the heartbeat topic.
func (h *Heartbeat) Topic() string {
	return h.cfg.Topic
}

// Start launches the send and receive loops. The first ping goes out
// immediately.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	h.wg.Add(2)
	go h.sendLoop(ctx)
	go h.watchLoop(ctx)
}

// Stop ends both loops and waits for them. Safe to call multiple times.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	})
}

// Received records an incoming ping. It resets the miss counter and fires
// OnRestored if the link had been declared lost.
func (h *Heartbeat) Received() {
	h.mu.Lock()
	h.seen = true
	h.missed = 0
	h.lastSeen = time.Now()
	wasLost := h.lost
	h.lost = false
	h.mu.Unlock()

	if wasLost {
		h.logger.Info("heartbeat restored")
		if h.cfg.OnRestored != nil {
			h.cfg.OnRestored()
		}
	}
}

// Missed returns the number of consecutive receive windows without a ping.
func (h *Heartbeat) Missed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.missed
}

// Status returns a snapshot of the heartbeat.
func (h *Heartbeat) Status() HeartbeatStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeartbeatStatus{
		Running:  h.running,
		Missed:   h.missed,
		Lost:     h.lost,
		LastSeen: h.lastSeen,
	}
}

func (h *Heartbeat) sendLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.SendInterval)
	defer ticker.Stop()

	h.send()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.send()
		}
	}
}

func (h *Heartbeat) send() {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(h.cfg.Topic, h.cfg.Payload); err != nil {
		h.logger.Warn("heartbeat publish failed", "topic", h.cfg.Topic, "error", err)
	}
}

func (h *Heartbeat) watchLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.ReceiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.closeWindow()
		}
	}
}

// closeWindow ends one receive window.
func (h *Heartbeat) closeWindow() {
	h.mu.Lock()
	if h.seen {
		h.seen = false
		h.mu.Unlock()
		return
	}
	h.missed++
	missed := h.missed
	fire := missed > h.cfg.MaxLost && !h.lost
	if fire {
		h.lost = true
	}
	h.mu.Unlock()

	if fire {
		h.logger.Warn("heartbeat lost", "missed", missed, "max_lost", h.cfg.MaxLost)
		if h.cfg.OnLost != nil {
			h.cfg.OnLost(missed)
		}
	}
}
