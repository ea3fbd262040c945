package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/coordinator"
	"github.com/nerrad567/bemfa-bridge/internal/device"
)

var _ coordinator.Observer = (*Metrics)(nil)

func TestMetrics_Observer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRefresh(200*time.Millisecond, nil)
	m.ObserveRefresh(time.Second, errors.New("boom"))
	m.ObservePublish("lamp002", nil)
	m.ObservePublish("lamp002", nil)
	m.ObservePublish("lamp002", errors.New("down"))
	m.ObserveDropped()

	if got := testutil.ToFloat64(m.publishes.WithLabelValues(resultOK)); got != 2 {
		t.Errorf("ok publishes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.publishes.WithLabelValues(resultError)); got != 1 {
		t.Errorf("failed publishes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.dropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.refreshDuration); got != 2 {
		t.Errorf("refresh histogram series = %d, want 2", got)
	}
}

func TestMetrics_HandleChange(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.HandleChange(device.Change{Record: device.Record{Topic: "lamp002", Type: device.TypeLight}, Source: device.SourcePush})
	m.HandleChange(device.Change{Record: device.Record{Topic: "lamp002", Type: device.TypeLight}, Source: device.SourcePush})
	m.HandleChange(device.Change{Record: device.Record{Topic: "plug001", Type: device.TypeSwitch}, Source: device.SourceRefresh})

	if got := testutil.ToFloat64(m.changes.WithLabelValues("push", "light")); got != 2 {
		t.Errorf("push/light = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.changes.WithLabelValues("refresh", "switch")); got != 1 {
		t.Errorf("refresh/switch = %v, want 1", got)
	}
}

func TestMetrics_StatusGauges(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	status := func() coordinator.Status {
		return coordinator.Status{Connected: true, Devices: 3, Online: 2}
	}
	heartbeat := func() bemfa.HeartbeatStatus {
		return bemfa.HeartbeatStatus{Running: true, Missed: 4, Lost: true}
	}
	m.RegisterStatus(reg, status, heartbeat)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"bemfa_devices 3",
		"bemfa_devices_online 2",
		"bemfa_broker_connected 1",
		"bemfa_heartbeat_missed_windows 4",
		"bemfa_heartbeat_lost 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_StatusWithoutHeartbeat(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RegisterStatus(reg, func() coordinator.Status { return coordinator.Status{} }, nil)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), "bemfa_heartbeat") {
			t.Errorf("unexpected %s without a heartbeat source", mf.GetName())
		}
	}
}
