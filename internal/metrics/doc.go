// Package metrics exposes bridge internals as Prometheus collectors.
//
// Counters and histograms are fed by the coordinator through its Observer
// hook and by table change notifications. Gauges are sampled on scrape from
// status functions, so nothing in the hot path holds a metrics lock.
//
// Usage:
//
//	reg := metrics.NewRegistry()
//	m := metrics.New(reg)
//	coord := coordinator.New(..., coordinator.WithObserver(m))
//	coord.Subscribe(m.HandleChange)
//	m.RegisterStatus(reg, coord.Status, transport.HeartbeatStatus)
//	http.Handle("/metrics", metrics.Handler(reg))
package metrics
