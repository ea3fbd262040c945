package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/bemfa-bridge/internal/device"
	"github.com/nerrad567/bemfa-bridge/internal/entity"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/mqtt"
)

const (
	defaultQueueSize = 256
	commandTimeout   = 10 * time.Second
)

// MQTTClient is the subset of *mqtt.Client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Entities looks up entities. Satisfied by *entity.Registry.
type Entities interface {
	Get(topic string) (entity.Entity, bool)
	Entities() []entity.Entity
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures the bridge.
type Config struct {
	DiscoveryPrefix string
	BaseTopic       string
	StatusTopic     string
	QoS             byte
	Version         string
	QueueSize       int
}

// FromConfig builds a bridge Config from the hass section.
func FromConfig(cfg config.HassConfig, version string) Config {
	return Config{
		DiscoveryPrefix: cfg.DiscoveryPrefix,
		BaseTopic:       cfg.BaseTopic,
		StatusTopic:     cfg.MQTT.StatusTopic,
		QoS:             byte(cfg.MQTT.QoS),
		Version:         version,
	}
}

type inbound struct {
	topic   string
	payload []byte
}

// Bridge publishes discovery configs and states, and turns Home Assistant
// commands into entity commands.
//
// Table changes arrive on the coordinator loop and are queued; a publisher
// goroutine drains them. Commands are handled on a separate goroutine so a
// slow cloud publish never stalls state updates.
//
// Thread Safety: HandleChange, Resync and Stop may be called from any goroutine.
type Bridge struct {
	cfg      Config
	builder  Builder
	client   MQTTClient
	entities Entities
	logger   Logger

	changes  chan string
	commands chan inbound
	resync   chan struct{}

	mu         sync.Mutex
	discovered map[string]bool

	ctx       context.Context
	ctxCancel context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New creates a bridge. Call Start to subscribe and begin publishing.
//
// Parameters:
//   - cfg: topic layout, QoS and queue size; QueueSize 0 takes the default
//   - client: the local broker connection
//   - entities: the source of discovery and state payloads
//   - logger: may be nil
//
// Returns:
//   - *Bridge: idle until Start
func New(cfg Config, client MQTTClient, entities Entities, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	topics := Topics{DiscoveryPrefix: cfg.DiscoveryPrefix, BaseTopic: cfg.BaseTopic}
	return &Bridge{
		cfg:        cfg,
		builder:    Builder{Topics: topics, StatusTopic: cfg.StatusTopic, Version: cfg.Version},
		client:     client,
		entities:   entities,
		logger:     logger,
		changes:    make(chan string, cfg.QueueSize),
		commands:   make(chan inbound, cfg.QueueSize),
		resync:     make(chan struct{}, 1),
		discovered: make(map[string]bool),
		done:       make(chan struct{}),
	}
}

// Start subscribes to command and Home Assistant status topics, starts the
// workers and publishes every known entity.
//
// Parameters:
//   - ctx: cancelling it stops the workers, like Stop
//
// Returns:
//   - error: if either subscription fails; no workers are started then
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.ctxCancel = context.WithCancel(ctx)

	topics := b.builder.Topics
	if err := b.client.Subscribe(topics.CommandSubscription(), b.cfg.QoS, b.handleCommand); err != nil {
		return fmt.Errorf("hass: subscribe to commands: %w", err)
	}
	if err := b.client.Subscribe(topics.HAStatus(), b.cfg.QoS, b.handleHAStatus); err != nil {
		return fmt.Errorf("hass: subscribe to status: %w", err)
	}

	b.wg.Add(2)
	go b.publishLoop()
	go b.commandLoop()

	b.Resync()
	b.logger.Info("hass bridge started",
		"discovery_prefix", b.cfg.DiscoveryPrefix,
		"base_topic", b.cfg.BaseTopic,
	)
	return nil
}

// Stop ends the workers. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		if b.ctxCancel != nil {
			b.ctxCancel()
		}
		b.wg.Wait()
		b.logger.Info("hass bridge stopped")
	})
}

// HandleChange is a coordinator subscriber. It never blocks.
func (b *Bridge) HandleChange(ch device.Change) {
	select {
	case b.changes <- ch.Record.Topic:
	default:
		b.logger.Warn("hass publish queue full, dropping update", "topic", ch.Record.Topic)
		b.Resync()
	}
}

// Resync schedules a full republish of configs and states.
func (b *Bridge) Resync() {
	select {
	case b.resync <- struct{}{}:
	default:
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case topic := <-b.changes:
			b.publishTopic(topic)
		case <-b.resync:
			b.publishAll()
		}
	}
}

func (b *Bridge) commandLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case cmd := <-b.commands:
			b.applyCommand(cmd)
		}
	}
}

// publishAll republishes every entity, discovery included.
func (b *Bridge) publishAll() {
	b.mu.Lock()
	b.discovered = make(map[string]bool)
	b.mu.Unlock()

	for _, e := range b.entities.Entities() {
		b.publishEntity(e)
	}
}

func (b *Bridge) publishTopic(topic string) {
	e, ok := b.entities.Get(topic)
	if !ok {
		return
	}
	b.publishEntity(e)
}

// publishEntity sends discovery once per entity, then the current state.
// Sensors republish discovery whenever their channel set grows.
func (b *Bridge) publishEntity(e entity.Entity) {
	v := e.Render()

	key := v.Topic
	if v.Type == device.TypeSensor {
		key = fmt.Sprintf("%s#%d", v.Topic, len(v.Capabilities.Channels))
	}

	b.mu.Lock()
	needDiscovery := !b.discovered[key]
	b.mu.Unlock()

	if needDiscovery {
		msgs, err := b.builder.Discovery(v)
		if err != nil {
			b.logger.Warn("building discovery failed", "topic", v.Topic, "error", err)
			return
		}
		if b.publish(msgs) {
			b.mu.Lock()
			b.discovered[key] = true
			b.mu.Unlock()
		}
	}

	msgs, err := b.builder.State(v)
	if err != nil {
		b.logger.Warn("building state failed", "topic", v.Topic, "error", err)
		return
	}
	b.publish(msgs)
}

// publish sends retained messages and reports whether all succeeded.
func (b *Bridge) publish(msgs []Message) bool {
	ok := true
	for _, m := range msgs {
		if err := b.client.Publish(m.Topic, m.Payload, b.cfg.QoS, true); err != nil {
			b.logger.Warn("hass publish failed", "topic", m.Topic, "error", err)
			ok = false
		}
	}
	return ok
}

// handleCommand runs on the MQTT network goroutine and only queues.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	select {
	case b.commands <- inbound{topic: topic, payload: append([]byte(nil), payload...)}:
		return nil
	default:
		return fmt.Errorf("hass: command queue full, dropping %s", topic)
	}
}

func (b *Bridge) applyCommand(cmd inbound) {
	dev, ok := b.builder.Topics.ParseCommand(cmd.topic)
	if !ok {
		b.logger.Debug("ignoring command on unexpected topic", "topic", cmd.topic)
		return
	}
	e, ok := b.entities.Get(dev)
	if !ok {
		b.logger.Warn("command for unknown device", "topic", dev)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	if err := e.HandleCommand(ctx, json.RawMessage(cmd.payload)); err != nil {
		b.logger.Warn("hass command failed", "topic", dev, "payload", string(cmd.payload), "error", err)
		return
	}
	b.logger.Debug("hass command applied", "topic", dev)
}

func (b *Bridge) handleHAStatus(_ string, payload []byte) error {
	if string(payload) == payloadOnline {
		b.logger.Info("home assistant online, republishing discovery")
		b.Resync()
	}
	return nil
}
