package bemfa

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of *mqtt.Client the transport needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Close() error
}

// Dialer opens the cloud connection. The transport passes its own connect
// and disconnect hooks; the dialer must register them before the first
// connection attempt (mqtt.WithOnConnect, mqtt.WithOnDisconnect).
type Dialer func(onConnect func(), onDisconnect func(error)) (MQTTClient, error)

// MessageFunc receives every non-heartbeat message on a watched topic.
type MessageFunc func(topic string, payload []byte)

// TransportConfig configures a Transport.
type TransportConfig struct {
	Heartbeat HeartbeatConfig
	QoS       byte
}

// TransportFromConfig builds a TransportConfig from the loaded configuration.
func TransportFromConfig(cfg *config.Config) TransportConfig {
	return TransportConfig{
		Heartbeat: HeartbeatConfig{
			Topic:           cfg.Heartbeat.Topic,
			Payload:         cfg.Heartbeat.Payload,
			SendInterval:    cfg.Heartbeat.GetSendInterval(),
			ReceiveInterval: cfg.Heartbeat.GetReceiveInterval(),
			MaxLost:         cfg.Heartbeat.MaxLost,
		},
		QoS: byte(cfg.Bemfa.MQTT.QoS),
	}
}

// Transport owns the Bemfa cloud MQTT session.
//
// It keeps the set of watched device topics, subscribes the whole set on every
// connect, and runs a fresh Heartbeat for each connection. Device topics may
// be added at any time; they are subscribed immediately when connected and
// on the next connect otherwise.
//
// Thread Safety: all methods are safe for concurrent use.
type Transport struct {
	cfg    TransportConfig
	logger Logger

	mu         sync.Mutex
	client     MQTTClient
	watched    map[string]struct{}
	heartbeat  *Heartbeat
	onMessage  MessageFunc
	onLink     func(connected bool)
	onLost     func(missed int)
	onRestored func()

	// heartbeatLost is the lost state of the last stopped heartbeat.
	heartbeatLost bool

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// NewTransport creates a transport. Set callbacks, then call Connect.
//
// Parameters:
//   - cfg: heartbeat settings and QoS; zero heartbeat fields take defaults
//   - logger: may be nil
//
// Returns:
//   - *Transport: disconnected, with an empty watch set
func NewTransport(cfg TransportConfig, logger Logger) *Transport {
	if logger == nil {
		logger = noopLogger{}
	}
	cfg.Heartbeat = cfg.Heartbeat.withDefaults()
	return &Transport{
		cfg:     cfg,
		logger:  logger,
		watched: make(map[string]struct{}),
		ready:   make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// OnMessage sets the device message callback. It runs on the MQTT network
// goroutine and must not block.
func (t *Transport) OnMessage(fn MessageFunc) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

// OnLinkChange sets the callback for connect and disconnect events.
func (t *Transport) OnLinkChange(fn func(connected bool)) {
	t.mu.Lock()
	t.onLink = fn
	t.mu.Unlock()
}

// OnHeartbeat sets the heartbeat loss and restore callbacks.
func (t *Transport) OnHeartbeat(lost func(missed int), restored func()) {
	t.mu.Lock()
	t.onLost = lost
	t.onRestored = restored
	t.mu.Unlock()
}

// Connect dials the broker. Connect hooks that fire before the dialer
// returns wait until the client is attached.
//
// Parameters:
//   - dial: opens the MQTT session and registers the transport's hooks
//
// Returns:
//   - error: the dialer's error, wrapped; nil once the client is attached
func (t *Transport) Connect(dial Dialer) error {
	client, err := dial(t.handleConnect, t.handleDisconnect)
	if err != nil {
		return fmt.Errorf("bemfa: connecting: %w", err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	t.readyOnce.Do(func() { close(t.ready) })
	return nil
}

// Connected reports whether the cloud session is up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	return client != nil && client.IsConnected()
}

// Watch adds device topics to the subscription set.
//
// Topics already watched are ignored. When connected, new topics are
// subscribed immediately; the first subscribe error is returned and the
// topic stays in the set for the next connect.
func (t *Transport) Watch(topics ...string) error {
	t.mu.Lock()
	var added []string
	for _, topic := range topics {
		if topic == "" || topic == t.cfg.Heartbeat.Topic {
			continue
		}
		if _, ok := t.watched[topic]; ok {
			continue
		}
		t.watched[topic] = struct{}{}
		added = append(added, topic)
	}
	client := t.client
	t.mu.Unlock()

	if len(added) == 0 || client == nil || !client.IsConnected() {
		return nil
	}

	var firstErr error
	for _, topic := range added {
		if err := client.Subscribe(topic, t.cfg.QoS, t.deviceHandler); err != nil {
			t.logger.Warn("subscribe failed", "topic", topic, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("bemfa: subscribing %s: %w", topic, err)
			}
		}
	}
	return firstErr
}

// Watched returns the watched device topics, sorted.
func (t *Transport) Watched() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	topics := make([]string, 0, len(t.watched))
	for topic := range t.watched {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Publish sends a non-retained message.
func (t *Transport) Publish(topic, payload string) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}
	if err := client.Publish(topic, []byte(payload), t.cfg.QoS, false); err != nil {
		return fmt.Errorf("bemfa: publishing %s: %w", topic, err)
	}
	return nil
}

// HeartbeatStatus returns the current connection's heartbeat status. The
// zero status means no heartbeat is running.
func (t *Transport) HeartbeatStatus() HeartbeatStatus {
	t.mu.Lock()
	hb := t.heartbeat
	t.mu.Unlock()
	if hb == nil {
		return HeartbeatStatus{}
	}
	return hb.Status()
}

// Close stops the heartbeat, unsubscribes every topic and disconnects.
// Safe to call multiple times.
//
// Unsubscribe failures are logged, not returned.
//
// Returns:
//   - error: from closing the MQTT client, on the first call only
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)

		t.mu.Lock()
		hb := t.heartbeat
		t.heartbeat = nil
		client := t.client
		topics := make([]string, 0, len(t.watched)+1)
		topics = append(topics, t.cfg.Heartbeat.Topic)
		for topic := range t.watched {
			topics = append(topics, topic)
		}
		t.mu.Unlock()

		if hb != nil {
			hb.Stop()
		}
		if client == nil {
			return
		}
		if client.IsConnected() {
			for _, topic := range topics {
				if uerr := client.Unsubscribe(topic); uerr != nil {
					t.logger.Debug("unsubscribe failed", "topic", topic, "error", uerr)
				}
			}
		}
		err = client.Close()
	})
	return err
}

// handleConnect runs on every connect, on the MQTT client's goroutine.
func (t *Transport) handleConnect() {
	select {
	case <-t.ready:
	case <-t.closed:
		return
	}

	t.mu.Lock()
	client := t.client
	old := t.heartbeat
	topics := make([]string, 0, len(t.watched))
	for topic := range t.watched {
		topics = append(topics, topic)
	}
	onLink := t.onLink
	hbCfg := t.cfg.Heartbeat
	hbCfg.OnLost = t.onLost
	hbCfg.OnRestored = t.onRestored
	hbCfg.StartLost = t.heartbeatLost
	t.mu.Unlock()

	if old != nil {
		old.Stop()
		hbCfg.StartLost = old.Status().Lost
	}

	hb := NewHeartbeat(hbCfg, t, t.logger)
	if err := client.Subscribe(hbCfg.Topic, t.cfg.QoS, func(string, []byte) error {
		hb.Received()
		return nil
	}); err != nil {
		t.logger.Warn("heartbeat subscribe failed", "topic", hbCfg.Topic, "error", err)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		if err := client.Subscribe(topic, t.cfg.QoS, t.deviceHandler); err != nil {
			t.logger.Warn("subscribe failed", "topic", topic, "error", err)
		}
	}

	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return
	default:
	}
	t.heartbeat = hb
	t.mu.Unlock()
	hb.Start(context.Background())

	t.logger.Info("bemfa cloud connected", "topics", len(topics))
	if onLink != nil {
		onLink(true)
	}
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	hb := t.heartbeat
	t.heartbeat = nil
	onLink := t.onLink
	t.mu.Unlock()

	if hb != nil {
		hb.Stop()
		t.mu.Lock()
		t.heartbeatLost = hb.Status().Lost
		t.mu.Unlock()
	}

	t.logger.Warn("bemfa cloud disconnected", "error", err)
	if onLink != nil {
		onLink(false)
	}
}

func (t *Transport) deviceHandler(topic string, payload []byte) error {
	if topic == t.cfg.Heartbeat.Topic {
		return nil
	}
	t.mu.Lock()
	fn := t.onMessage
	t.mu.Unlock()
	if fn != nil {
		fn(topic, payload)
	}
	return nil
}
