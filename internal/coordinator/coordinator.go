package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/device"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
)

const (
	defaultRefreshInterval = 30 * time.Second
	defaultQueueSize       = 256

	// backgroundRefreshTimeout bounds refreshes started by RequestRefresh.
	backgroundRefreshTimeout = 30 * time.Second
)

// DeviceLister fetches the account's device list.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]bemfa.Device, error)
}

// Transport publishes commands and manages topic subscriptions.
type Transport interface {
	Publish(topic, payload string) error
	Watch(topics ...string) error
}

// Observer receives refresh and publish outcomes, for metrics.
type Observer interface {
	ObserveRefresh(d time.Duration, err error)
	ObservePublish(topic string, err error)
	ObserveDropped()
}

// Logger is the logging interface used by the coordinator.
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

type noopObserver struct{}

func (noopObserver) ObserveRefresh(time.Duration, error) {}
func (noopObserver) ObservePublish(string, error)        {}
func (noopObserver) ObserveDropped()                     {}

// Config holds coordinator settings.
type Config struct {
	// RefreshInterval between periodic polls. Default: 30s.
	RefreshInterval time.Duration

	// StalePolicy is config.StalePolicyKeep or config.StalePolicyOffline.
	// Default: offline.
	StalePolicy string

	// MarkOfflineOnHeartbeatLoss marks every record offline when the
	// heartbeat is declared lost.
	MarkOfflineOnHeartbeatLoss bool

	// HeartbeatTopic is never stored in the table. Default: "hassping".
	HeartbeatTopic string

	// QueueSize bounds the event channel. Default: 256.
	QueueSize int
}

// FromConfig builds a coordinator Config from the loaded configuration.
func FromConfig(cfg *config.Config) Config {
	return Config{
		RefreshInterval:            cfg.GetRefreshInterval(),
		StalePolicy:                cfg.Sync.StalePolicy,
		MarkOfflineOnHeartbeatLoss: cfg.Heartbeat.MarkOffline,
		HeartbeatTopic:             cfg.Heartbeat.Topic,
		QueueSize:                  cfg.Sync.QueueSize,
	}
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.StalePolicy == "" {
		c.StalePolicy = config.StalePolicyOffline
	}
	if c.HeartbeatTopic == "" {
		c.HeartbeatTopic = bemfa.DefaultHeartbeatTopic
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(c *Coordinator) {
		if obs != nil {
			c.observer = obs
		}
	}
}

// Coordinator is the single writer of the device table.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Coordinator struct {
	cfg       Config
	table     *device.Table
	lister    DeviceLister
	transport Transport
	logger    Logger
	observer  Observer

	events chan event

	subsMu  sync.RWMutex
	subs    []subscriber
	nextSub uint64

	// lifeMu guards the lifecycle flags and wg.Add against Stop.
	lifeMu   sync.Mutex
	started  bool
	stopped  bool
	baseCtx  context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	// refreshSem admits one refresh at a time, so listings are applied in
	// the order they were fetched.
	refreshSem     chan struct{}
	refreshPending atomic.Bool
	connected      atomic.Bool
	heartbeatLost  atomic.Bool

	statsMu sync.Mutex
	stats   Stats
}

type subscriber struct {
	id uint64
	fn func(device.Change)
}

// New creates a coordinator. Call Start to run it.
//
// Parameters:
//   - table: the table to write; the coordinator becomes its only writer
//   - lister: fetches the account's device list for refreshes
//   - transport: publishes commands and subscribes device topics
//   - cfg: timing and stale policy; zero fields take defaults
//   - opts: logger and metrics observer
//
// Returns:
//   - *Coordinator: ready to Start
func New(table *device.Table, lister DeviceLister, transport Transport, cfg Config, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg:        cfg,
		table:      table,
		lister:     lister,
		transport:  transport,
		logger:     noopLogger{},
		observer:   noopObserver{},
		events:     make(chan event, cfg.QueueSize),
		refreshSem: make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Table returns the table the coordinator writes.
func (c *Coordinator) Table() *device.Table {
	return c.table
}

// Start launches the loop and performs the first refresh synchronously.
//
// A failed first refresh stops the coordinator and is returned: without a
// device list there is nothing to bridge.
//
// Parameters:
//   - ctx: bounds the first refresh; cancelling it later does not stop the loop
//
// Returns:
//   - error: ErrAlreadyStarted, ErrStopped or the first refresh's error
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	if c.stopped {
		c.lifeMu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.lifeMu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.baseCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.lifeMu.Unlock()

	go c.loop()

	if err := c.Refresh(ctx); err != nil {
		c.Stop()
		return fmt.Errorf("coordinator: initial refresh: %w", err)
	}
	c.logger.Info("coordinator started",
		"devices", c.table.Len(),
		"refresh_interval", c.cfg.RefreshInterval,
		"stale_policy", c.cfg.StalePolicy,
	)
	return nil
}

// Stop signals the loop, waits for it to exit and waits for background
// refreshes. Safe to call multiple times, and before Start.
//
// Events queued but not yet applied are discarded; pending Apply and Refresh
// calls return ErrStopped.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.lifeMu.Lock()
		c.stopped = true
		started := c.started
		cancel := c.cancel
		c.lifeMu.Unlock()

		if cancel != nil {
			cancel()
		}
		close(c.quit)
		if !started {
			close(c.done)
			return
		}
		<-c.done
		c.wg.Wait()
	})
}

// running reports whether the loop accepts events.
func (c *Coordinator) running() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.started && !c.stopped
}

// Refresh polls the device list and unions it into the table.
//
// The HTTP call runs on the caller's goroutine; only the union runs on the
// loop. Concurrent refreshes queue behind each other, so an older listing
// never overwrites a newer one. On failure the table is left untouched.
//
// Parameters:
//   - ctx: bounds the wait for a running refresh, the HTTP call and the union
//
// Returns:
//   - error: ErrStopped, the lister's error or ctx.Err(); nil on success
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.running() {
		return ErrStopped
	}

	select {
	case c.refreshSem <- struct{}{}:
	case <-c.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.refreshSem }()

	start := time.Now()
	devices, err := c.lister.ListDevices(ctx)
	if err != nil {
		c.recordRefresh(time.Since(start), err)
		return fmt.Errorf("coordinator: refresh: %w", err)
	}
	records := bemfa.Records(devices)

	if _, err := c.submit(ctx, event{kind: eventUnion, records: records, source: device.SourceRefresh}); err != nil {
		c.recordRefresh(time.Since(start), err)
		return err
	}
	c.recordRefresh(time.Since(start), nil)

	topics := make([]string, len(records))
	for i, rec := range records {
		topics[i] = rec.Topic
	}
	if err := c.transport.Watch(topics...); err != nil {
		// Watched topics are retried on the next connect.
		c.logger.Warn("subscribing device topics failed", "error", err)
	}
	return nil
}

// RequestRefresh schedules a background refresh. Requests made while one is
// pending are coalesced into it.
func (c *Coordinator) RequestRefresh() {
	c.lifeMu.Lock()
	if !c.started || c.stopped {
		c.lifeMu.Unlock()
		return
	}
	if !c.refreshPending.CompareAndSwap(false, true) {
		c.lifeMu.Unlock()
		return
	}
	c.wg.Add(1)
	base := c.baseCtx
	c.lifeMu.Unlock()

	go func() {
		defer c.wg.Done()
		defer c.refreshPending.Store(false)

		ctx, cancel := context.WithTimeout(base, backgroundRefreshTimeout)
		defer cancel()
		if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrStopped) {
			c.logger.Warn("background refresh failed", "error", err)
		}
	}()
}

// HandleMessage is the MQTT push path. It runs on the MQTT client's network
// goroutine and never blocks: when the event queue is full the message is
// dropped and counted, and the next refresh reconciles.
func (c *Coordinator) HandleMessage(topic string, payload []byte) {
	if topic == c.cfg.HeartbeatTopic {
		return
	}
	if _, ok := c.table.Get(topic); !ok {
		c.logger.Debug("ignoring message for unknown topic", "topic", topic)
		return
	}
	if !utf8.Valid(payload) {
		c.logger.Warn("dropping non-UTF-8 payload", "topic", topic, "bytes", len(payload))
		c.countDropped()
		return
	}
	if !c.running() {
		return
	}

	ev := event{kind: eventPatch, topic: topic, raw: string(payload), source: device.SourcePush}
	if !c.trySend(ev) {
		c.logger.Warn("event queue full, dropping message", "topic", topic)
		c.countDropped()
	}
}

// Apply is the command path.
//
// It writes the wire state optimistically, publishes it to <topic>/set and
// then requests a refresh for ground truth. A publish failure is returned but
// the optimistic write stays; the refresh corrects it.
//
// Parameters:
//   - ctx: bounds the wait for the optimistic write
//   - topic: a topic already in the table
//   - wire: the encoded payload, as produced by the device's codec
//
// Returns:
//   - error: ErrStopped, ErrUnknownTopic, ctx.Err() or a wrapped publish error
func (c *Coordinator) Apply(ctx context.Context, topic, wire string) error {
	if !c.running() {
		return ErrStopped
	}
	if _, ok := c.table.Get(topic); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	if _, err := c.submit(ctx, event{kind: eventPatch, topic: topic, raw: wire, source: device.SourceCommand}); err != nil {
		return err
	}

	setTopic := topic + "/set"
	err := c.transport.Publish(setTopic, wire)
	c.observer.ObservePublish(topic, err)
	if err != nil {
		c.statsMu.Lock()
		c.stats.PublishFailures++
		c.statsMu.Unlock()
		c.logger.Warn("command publish failed", "topic", setTopic, "payload", wire, "error", err)
		c.RequestRefresh()
		return fmt.Errorf("coordinator: publishing %s: %w", setTopic, err)
	}
	c.logger.Debug("command published", "topic", setTopic, "payload", wire)

	c.RequestRefresh()
	return nil
}

// HeartbeatLost is the heartbeat loss callback.
func (c *Coordinator) HeartbeatLost(missed int) {
	c.heartbeatLost.Store(true)
	c.logger.Warn("cloud heartbeat lost", "missed", missed)
	if !c.cfg.MarkOfflineOnHeartbeatLoss || !c.running() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.submit(ctx, event{kind: eventOffline, source: device.SourceHeartbeat}); err != nil && !errors.Is(err, ErrStopped) {
		c.logger.Warn("marking devices offline failed", "error", err)
	}
}

// HeartbeatRestored is the heartbeat restore callback. Records come back
// online with the next push, so a refresh is requested to speed that up.
func (c *Coordinator) HeartbeatRestored() {
	c.heartbeatLost.Store(false)
	c.logger.Info("cloud heartbeat restored")
	c.RequestRefresh()
}

// LinkChanged records the cloud connection state. A reconnect triggers a
// refresh to pick up whatever changed while the link was down.
func (c *Coordinator) LinkChanged(connected bool) {
	if !c.running() {
		c.connected.Store(connected)
		return
	}
	if !c.trySend(event{kind: eventLink, connected: connected}) {
		c.connected.Store(connected)
	}
}

// Subscribe registers fn for every table change. The returned function
// removes the subscription.
//
// fn runs on the coordinator loop, in subscription order, and must not block
// or call back into the coordinator's write paths. A panic in fn is logged
// and skips only that delivery.
func (c *Coordinator) Subscribe(fn func(device.Change)) (cancel func()) {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Connected reports the last known cloud link state.
func (c *Coordinator) Connected() bool {
	return c.connected.Load()
}

func (c *Coordinator) countDropped() {
	c.statsMu.Lock()
	c.stats.DroppedMessages++
	c.statsMu.Unlock()
	c.observer.ObserveDropped()
}

func (c *Coordinator) recordRefresh(d time.Duration, err error) {
	c.observer.ObserveRefresh(d, err)

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.Refreshes++
	if err != nil {
		c.stats.RefreshFailures++
		c.stats.LastRefreshError = err.Error()
		return
	}
	c.stats.LastRefresh = time.Now()
	c.stats.LastRefreshError = ""
}
