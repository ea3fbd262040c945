package bemfa

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockPublisher implements HeartbeatPublisher for testing.
type mockPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

type publishedMessage struct {
	topic   string
	payload string
}

func (m *mockPublisher) Publish(topic, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHeartbeat_PublishesImmediately(t *testing.T) {
	pub := &mockPublisher{}
	hb := NewHeartbeat(HeartbeatConfig{SendInterval: time.Hour, ReceiveInterval: time.Hour}, pub, nil)
	hb.Start(context.Background())
	defer hb.Stop()

	waitFor(t, time.Second, func() bool { return len(pub.getMessages()) == 1 })
	msg := pub.getMessages()[0]
	if msg.topic != "hassping" || msg.payload != "ping" {
		t.Errorf("published %s=%s, want hassping=ping", msg.topic, msg.payload)
	}
}

func TestHeartbeat_LostAfterMaxMisses(t *testing.T) {
	var lostCalls atomic.Int32
	var lostMissed atomic.Int32

	hb := NewHeartbeat(HeartbeatConfig{
		SendInterval:    time.Hour,
		ReceiveInterval: 10 * time.Millisecond,
		MaxLost:         2,
		OnLost: func(missed int) {
			lostCalls.Add(1)
			lostMissed.Store(int32(missed))
		},
	}, &mockPublisher{}, nil)
	hb.Start(context.Background())
	defer hb.Stop()

	waitFor(t, 2*time.Second, func() bool { return lostCalls.Load() > 0 })

	// Further misses do not fire again.
	time.Sleep(50 * time.Millisecond)
	if got := lostCalls.Load(); got != 1 {
		t.Errorf("OnLost called %d times, want 1", got)
	}
	if got := lostMissed.Load(); got != 3 {
		t.Errorf("OnLost missed = %d, want 3", got)
	}
	if !hb.Status().Lost {
		t.Error("Status().Lost = false, want true")
	}
}

func TestHeartbeat_ReceivedRestores(t *testing.T) {
	var restored atomic.Int32
	lost := make(chan struct{}, 1)

	hb := NewHeartbeat(HeartbeatConfig{
		SendInterval:    time.Hour,
		ReceiveInterval: 10 * time.Millisecond,
		MaxLost:         1,
		OnLost:          func(int) { lost <- struct{}{} },
		OnRestored:      func() { restored.Add(1) },
	}, &mockPublisher{}, nil)
	hb.Start(context.Background())
	defer hb.Stop()

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat never reported lost")
	}

	hb.Received()
	if restored.Load() != 1 {
		t.Errorf("OnRestored called %d times, want 1", restored.Load())
	}
	st := hb.Status()
	if st.Lost {
		t.Error("Status().Lost = true after Received")
	}
	if st.LastSeen.IsZero() {
		t.Error("LastSeen not set")
	}

	// A ping while healthy does not fire OnRestored.
	hb.Received()
	if restored.Load() != 1 {
		t.Errorf("OnRestored called %d times, want 1", restored.Load())
	}
}

func TestHeartbeat_StartLost(t *testing.T) {
	var restored atomic.Int32
	hb := NewHeartbeat(HeartbeatConfig{
		SendInterval:    time.Hour,
		ReceiveInterval: time.Hour,
		StartLost:       true,
		OnRestored:      func() { restored.Add(1) },
	}, &mockPublisher{}, nil)

	if !hb.Status().Lost {
		t.Fatal("Status().Lost = false, want true")
	}
	hb.Received()
	if restored.Load() != 1 {
		t.Errorf("OnRestored called %d times, want 1", restored.Load())
	}
	if hb.Status().Lost {
		t.Error("Status().Lost = true after Received")
	}
}

func TestHeartbeat_ReceiptResetsMisses(t *testing.T) {
	hb := NewHeartbeat(HeartbeatConfig{MaxLost: 3}, &mockPublisher{}, nil)

	hb.closeWindow()
	hb.closeWindow()
	if hb.Missed() != 2 {
		t.Fatalf("Missed() = %d, want 2", hb.Missed())
	}

	hb.Received()
	if hb.Missed() != 0 {
		t.Errorf("Missed() = %d after Received, want 0", hb.Missed())
	}

	// The window in which a ping arrived does not count as a miss.
	hb.closeWindow()
	if hb.Missed() != 0 {
		t.Errorf("Missed() = %d, want 0", hb.Missed())
	}
	hb.closeWindow()
	if hb.Missed() != 1 {
		t.Errorf("Missed() = %d, want 1", hb.Missed())
	}
}

func TestHeartbeat_StopIdempotent(t *testing.T) {
	hb := NewHeartbeat(HeartbeatConfig{}, &mockPublisher{}, nil)
	hb.Start(context.Background())
	if !hb.Status().Running {
		t.Error("Status().Running = false after Start")
	}
	hb.Stop()
	hb.Stop()
	if hb.Status().Running {
		t.Error("Status().Running = true after Stop")
	}
}

func TestHeartbeatConfig_Defaults(t *testing.T) {
	cfg := HeartbeatConfig{}.withDefaults()
	if cfg.Topic != DefaultHeartbeatTopic || cfg.Payload != DefaultHeartbeatPayload {
		t.Errorf("topic/payload = %s/%s", cfg.Topic, cfg.Payload)
	}
	if cfg.SendInterval != 30*time.Second || cfg.ReceiveInterval != 20*time.Second || cfg.MaxLost != 3 {
		t.Errorf("timing = %v/%v/%d", cfg.SendInterval, cfg.ReceiveInterval, cfg.MaxLost)
	}
}
