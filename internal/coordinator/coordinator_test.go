package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/device"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
)

// fakeLister returns a configurable device list. When gate is set, a call
// takes its listing and then blocks until gate is closed.
type fakeLister struct {
	mu      sync.Mutex
	devices []bemfa.Device
	err     error
	calls   int
	gate    chan struct{}
}

func (f *fakeLister) ListDevices(_ context.Context) ([]bemfa.Device, error) {
	f.mu.Lock()
	f.calls++
	devices := append([]bemfa.Device(nil), f.devices...)
	err := f.err
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (f *fakeLister) set(devices []bemfa.Device, err error) {
	f.mu.Lock()
	f.devices = devices
	f.err = err
	f.mu.Unlock()
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// mockTransport captures publishes and watched topics.
type mockTransport struct {
	mu         sync.Mutex
	published  []publishedCommand
	watched    map[string]bool
	publishErr error
}

type publishedCommand struct {
	topic   string
	payload string
}

func newMockTransport() *mockTransport {
	return &mockTransport{watched: make(map[string]bool)}
}

func (m *mockTransport) Publish(topic, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, publishedCommand{topic: topic, payload: payload})
	return nil
}

func (m *mockTransport) Watch(topics ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range topics {
		m.watched[t] = true
	}
	return nil
}

func (m *mockTransport) getPublished() []publishedCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedCommand(nil), m.published...)
}

// changeRecorder collects changes delivered to a subscriber.
type changeRecorder struct {
	mu      sync.Mutex
	changes []device.Change
}

func (r *changeRecorder) record(ch device.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, ch)
	r.mu.Unlock()
}

func (r *changeRecorder) get() []device.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.Change(nil), r.changes...)
}

var testDevices = []bemfa.Device{
	{Topic: "lamp002", Name: "Lamp", Msg: "on#50#4000"},
	{Topic: "plug001", Name: "Plug", Msg: "off"},
	{Topic: "unknown", Name: "Mystery", Msg: "x"},
}

func setupCoordinator(t *testing.T, cfg Config) (*Coordinator, *fakeLister, *mockTransport) {
	t.Helper()
	lister := &fakeLister{devices: testDevices}
	transport := newMockTransport()
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = time.Hour
	}
	c := New(device.NewTable(), lister, transport, cfg)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(c.Stop)
	return c, lister, transport
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestCoordinator_StartRefreshes(t *testing.T) {
	c, _, transport := setupCoordinator(t, Config{})

	if got := c.Table().Len(); got != 2 {
		t.Fatalf("table has %d records, want 2 (unknown topic dropped)", got)
	}
	rec, ok := c.Table().Get("lamp002")
	if !ok || rec.Type != device.TypeLight || rec.RawState != "on#50#4000" || !rec.Online {
		t.Errorf("lamp002 = %+v", rec)
	}
	if rec, _ := c.Table().Get("plug001"); rec.Name != "Plug" {
		t.Errorf("plug001 name = %q", rec.Name)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if !transport.watched["lamp002"] || !transport.watched["plug001"] || transport.watched["unknown"] {
		t.Errorf("watched = %v", transport.watched)
	}
}

func TestCoordinator_StartFailsOnFirstRefresh(t *testing.T) {
	lister := &fakeLister{err: bemfa.ErrRefreshFailed}
	c := New(device.NewTable(), lister, newMockTransport(), Config{})

	err := c.Start(context.Background())
	if !errors.Is(err, bemfa.ErrRefreshFailed) {
		t.Fatalf("Start() error = %v, want ErrRefreshFailed", err)
	}
	if c.Status().Running {
		t.Error("coordinator still running after failed start")
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("second Start() error = %v, want ErrStopped", err)
	}
}

func TestCoordinator_RefreshFailureLeavesTable(t *testing.T) {
	c, lister, _ := setupCoordinator(t, Config{})
	before := c.Table().Snapshot()

	lister.set(nil, errors.New("connection reset"))
	err := c.Refresh(context.Background())
	if err == nil {
		t.Fatal("Refresh() expected error")
	}

	after := c.Table().Snapshot()
	if len(after) != len(before) {
		t.Fatalf("table size changed from %d to %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("record %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if st := c.Status(); st.Stats.RefreshFailures != 1 || st.Stats.LastRefreshError == "" {
		t.Errorf("stats = %+v", st.Stats)
	}
}

func TestCoordinator_StalePolicy(t *testing.T) {
	tests := []struct {
		policy     string
		wantOnline bool
	}{
		{config.StalePolicyOffline, false},
		{config.StalePolicyKeep, true},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			c, lister, _ := setupCoordinator(t, Config{StalePolicy: tt.policy})

			lister.set(testDevices[:1], nil)
			if err := c.Refresh(context.Background()); err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}

			rec, ok := c.Table().Get("plug001")
			if !ok {
				t.Fatal("vanished topic was deleted")
			}
			if rec.Online != tt.wantOnline {
				t.Errorf("plug001 online = %v, want %v", rec.Online, tt.wantOnline)
			}

			// Reappearing brings it back online.
			lister.set(testDevices, nil)
			if err := c.Refresh(context.Background()); err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			if rec, _ := c.Table().Get("plug001"); !rec.Online {
				t.Error("plug001 should be online after reappearing")
			}
		})
	}
}

func TestCoordinator_HandleMessage(t *testing.T) {
	c, _, _ := setupCoordinator(t, Config{})
	rec := &changeRecorder{}
	c.Subscribe(rec.record)

	c.HandleMessage("plug001", []byte("on"))
	c.HandleMessage("hassping", []byte("ping"))
	c.HandleMessage("nobody", []byte("on"))
	c.HandleMessage("lamp002", []byte{0xff, 0xfe})

	waitFor(t, func() bool { return len(rec.get()) >= 1 })
	time.Sleep(20 * time.Millisecond)

	changes := rec.get()
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1: %+v", len(changes), changes)
	}
	ch := changes[0]
	if ch.Record.Topic != "plug001" || ch.Record.RawState != "on" || ch.Source != device.SourcePush {
		t.Errorf("change = %+v", ch)
	}
	if ch.Previous.RawState != "off" {
		t.Errorf("previous raw = %q, want off", ch.Previous.RawState)
	}
	if _, ok := c.Table().Get("hassping"); ok {
		t.Error("heartbeat topic stored in table")
	}
	if rec, _ := c.Table().Get("lamp002"); rec.RawState != "on#50#4000" {
		t.Errorf("invalid UTF-8 payload was stored: %q", rec.RawState)
	}
	if c.Status().Stats.DroppedMessages != 1 {
		t.Errorf("DroppedMessages = %d, want 1", c.Status().Stats.DroppedMessages)
	}
}

func TestCoordinator_Apply(t *testing.T) {
	c, lister, transport := setupCoordinator(t, Config{})
	calls := lister.callCount()
	// The cloud confirms the command on the follow-up refresh.
	lister.set([]bemfa.Device{
		{Topic: "lamp002", Name: "Lamp", Msg: "on#100#6500"},
		{Topic: "plug001", Name: "Plug", Msg: "off"},
	}, nil)

	rec := &changeRecorder{}
	c.Subscribe(rec.record)

	if err := c.Apply(context.Background(), "lamp002", "on#100#6500"); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	// The optimistic write is visible as soon as Apply returns.
	if got, _ := c.Table().Get("lamp002"); got.RawState != "on#100#6500" {
		t.Errorf("raw state = %q, want optimistic value", got.RawState)
	}
	pub := transport.getPublished()
	if len(pub) != 1 || pub[0].topic != "lamp002/set" || pub[0].payload != "on#100#6500" {
		t.Errorf("published = %+v", pub)
	}
	changes := rec.get()
	if len(changes) == 0 || changes[0].Source != device.SourceCommand {
		t.Errorf("changes = %+v, want a command change first", changes)
	}

	// A refresh follows every command.
	waitFor(t, func() bool { return lister.callCount() > calls })
}

func TestCoordinator_ApplyErrors(t *testing.T) {
	c, lister, transport := setupCoordinator(t, Config{})
	// Keep follow-up refreshes from overwriting the optimistic write.
	lister.set(nil, errors.New("offline"))

	if err := c.Apply(context.Background(), "ghost001", "on"); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("Apply(unknown) error = %v, want ErrUnknownTopic", err)
	}

	transport.mu.Lock()
	transport.publishErr = bemfa.ErrNotConnected
	transport.mu.Unlock()

	err := c.Apply(context.Background(), "plug001", "on")
	if !errors.Is(err, bemfa.ErrNotConnected) {
		t.Fatalf("Apply() error = %v, want ErrNotConnected", err)
	}
	// The optimistic write stays.
	if rec, _ := c.Table().Get("plug001"); rec.RawState != "on" {
		t.Errorf("raw state = %q, want on", rec.RawState)
	}
	if c.Status().Stats.PublishFailures != 1 {
		t.Errorf("PublishFailures = %d, want 1", c.Status().Stats.PublishFailures)
	}
}

func TestCoordinator_HeartbeatLoss(t *testing.T) {
	c, _, _ := setupCoordinator(t, Config{MarkOfflineOnHeartbeatLoss: true})
	rec := &changeRecorder{}
	c.Subscribe(rec.record)

	c.HeartbeatLost(4)

	for _, r := range c.Table().Snapshot() {
		if r.Online {
			t.Errorf("%s still online after heartbeat loss", r.Topic)
		}
	}
	changes := rec.get()
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	for _, ch := range changes {
		if ch.Source != device.SourceHeartbeat {
			t.Errorf("source = %s, want heartbeat", ch.Source)
		}
	}
	if !c.Status().HeartbeatLost {
		t.Error("Status().HeartbeatLost = false")
	}

	// A push restores the single record it touches.
	c.HandleMessage("plug001", []byte("on"))
	waitFor(t, func() bool {
		r, _ := c.Table().Get("plug001")
		return r.Online
	})
	if r, _ := c.Table().Get("lamp002"); r.Online {
		t.Error("lamp002 should stay offline until it reports")
	}
}

func TestCoordinator_HeartbeatLossKeepsRecords(t *testing.T) {
	c, _, _ := setupCoordinator(t, Config{MarkOfflineOnHeartbeatLoss: false})
	c.HeartbeatLost(4)
	for _, r := range c.Table().Snapshot() {
		if !r.Online {
			t.Errorf("%s marked offline with mark_offline disabled", r.Topic)
		}
	}
}

func TestCoordinator_RequestRefreshCoalesces(t *testing.T) {
	c, lister, _ := setupCoordinator(t, Config{})
	calls := lister.callCount()

	for i := 0; i < 50; i++ {
		c.RequestRefresh()
	}
	waitFor(t, func() bool { return lister.callCount() > calls })
	time.Sleep(20 * time.Millisecond)

	// Coalescing keeps the total far below the number of requests.
	if got := lister.callCount() - calls; got > 5 {
		t.Errorf("%d refreshes for 50 requests", got)
	}
}

func TestCoordinator_RefreshesApplyInOrder(t *testing.T) {
	c, lister, _ := setupCoordinator(t, Config{StalePolicy: config.StalePolicyKeep})

	gate := make(chan struct{})
	lister.mu.Lock()
	lister.devices = []bemfa.Device{{Topic: "lamp002", Msg: "off"}}
	lister.gate = gate
	lister.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- c.Refresh(context.Background())
	}()
	waitFor(t, func() bool { return lister.callCount() == 2 })

	lister.mu.Lock()
	lister.devices = []bemfa.Device{{Topic: "lamp002", Msg: "on#80#4000"}}
	lister.gate = nil
	lister.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- c.Refresh(context.Background())
	}()

	time.Sleep(30 * time.Millisecond)
	if got := lister.callCount(); got != 2 {
		t.Errorf("lister called %d times while a refresh was in flight, want 2", got)
	}

	close(gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
	}

	rec, _ := c.Table().Get("lamp002")
	if rec.RawState != "on#80#4000" {
		t.Errorf("lamp002 raw = %q, want the newer listing", rec.RawState)
	}
}

func TestCoordinator_PeriodicRefresh(t *testing.T) {
	c, lister, _ := setupCoordinator(t, Config{RefreshInterval: 10 * time.Millisecond})
	calls := lister.callCount()
	waitFor(t, func() bool { return lister.callCount() >= calls+2 })
	if !c.Status().Running {
		t.Error("not running")
	}
}

func TestCoordinator_LinkChange(t *testing.T) {
	c, lister, _ := setupCoordinator(t, Config{})
	calls := lister.callCount()

	c.LinkChanged(true)
	waitFor(t, func() bool { return c.Connected() })
	waitFor(t, func() bool { return lister.callCount() > calls })

	c.LinkChanged(false)
	waitFor(t, func() bool { return !c.Connected() })
}

func TestCoordinator_SubscribeCancel(t *testing.T) {
	c, lister, _ := setupCoordinator(t, Config{})
	lister.set(nil, errors.New("offline"))

	first := &changeRecorder{}
	second := &changeRecorder{}
	cancelFirst := c.Subscribe(first.record)
	c.Subscribe(second.record)
	c.Subscribe(func(device.Change) { panic("boom") })

	if err := c.Apply(context.Background(), "plug001", "on"); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	cancelFirst()
	cancelFirst()
	if err := c.Apply(context.Background(), "plug001", "off"); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if got := len(first.get()); got != 1 {
		t.Errorf("cancelled subscriber got %d changes, want 1", got)
	}
	if got := len(second.get()); got < 2 {
		t.Errorf("subscriber got %d changes, want at least 2", got)
	}
}

func TestCoordinator_Stop(t *testing.T) {
	lister := &fakeLister{devices: testDevices}
	c := New(device.NewTable(), lister, newMockTransport(), Config{RefreshInterval: time.Hour})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c.Stop()
	c.Stop()

	if err := c.Refresh(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Refresh() after Stop error = %v, want ErrStopped", err)
	}
	if err := c.Apply(context.Background(), "plug001", "on"); !errors.Is(err, ErrStopped) {
		t.Errorf("Apply() after Stop error = %v, want ErrStopped", err)
	}
	c.HandleMessage("plug001", []byte("on"))
	c.RequestRefresh()
	if rec, _ := c.Table().Get("plug001"); rec.RawState != "off" {
		t.Errorf("table written after Stop: %+v", rec)
	}
}

func TestCoordinator_StopBeforeStart(t *testing.T) {
	c := New(device.NewTable(), &fakeLister{}, newMockTransport(), Config{})
	c.Stop()
	if err := c.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrStopped", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sync.RefreshInterval = 45
	cfg.Sync.StalePolicy = config.StalePolicyKeep
	cfg.Heartbeat.MarkOffline = true
	cfg.Heartbeat.Topic = "hassping"

	got := FromConfig(cfg).withDefaults()
	if got.RefreshInterval != 45*time.Second || got.StalePolicy != config.StalePolicyKeep ||
		!got.MarkOfflineOnHeartbeatLoss || got.QueueSize != defaultQueueSize {
		t.Errorf("FromConfig() = %+v", got)
	}
}
