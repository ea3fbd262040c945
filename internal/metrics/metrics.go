package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/coordinator"
	"github.com/nerrad567/bemfa-bridge/internal/device"
)

const namespace = "bemfa"

const (
	resultOK    = "ok"
	resultError = "error"
)

// Metrics holds the event-driven collectors.
type Metrics struct {
	refreshDuration *prometheus.HistogramVec
	publishes       *prometheus.CounterVec
	dropped         prometheus.Counter
	changes         *prometheus.CounterVec
}

// NewRegistry returns a non-global registry carrying the Go runtime and
// build info collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewBuildInfoCollector())
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// New creates the collectors and registers them with reg.
//
// Parameters:
//   - reg: usually the registry from NewRegistry; registration panics on
//     duplicate collectors
//
// Returns:
//   - *Metrics: implements the coordinator Observer
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of device list refreshes against the HTTP API.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"result"},
		),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_publishes_total",
				Help:      "Command payloads published to the cloud broker.",
			},
			[]string{"result"},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_messages_total",
				Help:      "Inbound device messages dropped before reaching the state table.",
			},
		),
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_changes_total",
				Help:      "State table changes by source and device type.",
			},
			[]string{"source", "type"},
		),
	}
	reg.MustRegister(m.refreshDuration)
	reg.MustRegister(m.publishes)
	reg.MustRegister(m.dropped)
	reg.MustRegister(m.changes)
	return m
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultOK
}

// ObserveRefresh implements coordinator.Observer.
func (m *Metrics) ObserveRefresh(d time.Duration, err error) {
	m.refreshDuration.WithLabelValues(result(err)).Observe(d.Seconds())
}

// ObservePublish implements coordinator.Observer.
func (m *Metrics) ObservePublish(_ string, err error) {
	m.publishes.WithLabelValues(result(err)).Inc()
}

// ObserveDropped implements coordinator.Observer.
func (m *Metrics) ObserveDropped() {
	m.dropped.Inc()
}

// HandleChange is a coordinator subscriber counting table changes.
func (m *Metrics) HandleChange(ch device.Change) {
	m.changes.WithLabelValues(string(ch.Source), string(ch.Record.Type)).Inc()
}

// RegisterStatus adds gauges sampled from status functions on every scrape.
// heartbeat may be nil when no transport is wired.
func (m *Metrics) RegisterStatus(reg prometheus.Registerer, status func() coordinator.Status, heartbeat func() bemfa.HeartbeatStatus) {
	gauge := func(name, help string, fn func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
			fn,
		))
	}

	gauge("devices", "Devices in the state table.", func() float64 {
		return float64(status().Devices)
	})
	gauge("devices_online", "Devices currently marked online.", func() float64 {
		return float64(status().Online)
	})
	gauge("broker_connected", "1 when the cloud broker link is up.", func() float64 {
		return boolGauge(status().Connected)
	})
	gauge("event_queue_depth", "Events waiting for the coordinator loop.", func() float64 {
		return float64(status().QueueDepth)
	})

	if heartbeat == nil {
		return
	}
	gauge("heartbeat_missed_windows", "Consecutive receive windows without a heartbeat echo.", func() float64 {
		return float64(heartbeat().Missed)
	})
	gauge("heartbeat_lost", "1 while the heartbeat is considered lost.", func() float64 {
		return boolGauge(heartbeat().Lost)
	})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
