package mqtt

import (
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
)

// Client is a paho client that remembers its subscriptions and restores
// them after every reconnect. The bridge runs one against the Bemfa cloud
// broker and, optionally, a second against the local Home Assistant broker.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connected atomic.Bool

	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger receives handler failures. *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one inbound message. It runs on paho's network
// goroutine, so it must hand work off instead of blocking. A returned error
// is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Option configures a Client before its first connection attempt.
type Option func(*Client)

// WithOnConnect runs callback after every successful connection, the first
// one included, once subscriptions have been restored.
func WithOnConnect(callback func()) Option {
	return func(c *Client) { c.onConnect = callback }
}

// WithOnDisconnect runs callback when an established connection is lost.
func WithOnDisconnect(callback func(err error)) Option {
	return func(c *Client) { c.onDisconnect = callback }
}

// WithLogger sets where handler errors and panics are reported.
func WithLogger(logger Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Connect dials the broker described by cfg and waits for the first
// CONNACK. When cfg.StatusTopic is set, a retained online message is
// published there on every connect and an offline will is registered.
//
// A failed first attempt tears the client down; paho's background retry
// only covers later reconnects.
//
// Returns:
//   - *Client: Connected client
//   - error: Wrapped ErrConnectionFailed on timeout or rejection
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}

	pahoOpts := buildClientOptions(cfg).
		SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	if cfg.StatusTopic != "" {
		setWill(pahoOpts, cfg.StatusTopic, cfg.Broker.ClientID)
	}

	c.client = pahomqtt.NewClient(pahoOpts)
	if err := await(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		c.client.Disconnect(0)
		return nil, err
	}

	// The paho connect handler is asynchronous.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.subMu.RLock()
	for _, sub := range c.subscriptions {
		// Failures surface through the next publish.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.publishStatus(statusOnline, "")

	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// publishStatus returns the token so Close can wait on the offline message.
func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	if c.cfg.StatusTopic == "" {
		return nil
	}
	payload := statusPayload(c.cfg.Broker.ClientID, status, reason)
	return c.client.Publish(c.cfg.StatusTopic, byte(c.cfg.QoS), true, payload)
}

// Close publishes the graceful offline status, if configured, and
// disconnects. Calling Close on a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		if tok := c.publishStatus(statusOffline, reasonShutdown); tok != nil {
			tok.WaitTimeout(defaultPublishTimeout)
		}
	}
	c.client.Disconnect(disconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// IsConnected reports whether the client currently holds a broker session.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs one handler call. A panic or error is logged and the
// subscription stays in place.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Error("mqtt handler panicked", "topic", topic, "panic", fmt.Sprint(r))
		}
	}()

	if err := handler(topic, payload); err != nil && c.logger != nil {
		c.logger.Warn("mqtt handler failed", "topic", topic, "error", err)
	}
}
