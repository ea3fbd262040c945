// Package influxdb writes bridge telemetry to InfluxDB v2 with the official
// influxdb-client-go library.
//
// Sensor channel values go to the bemfa_sensor measurement, tagged by topic
// and channel. Every state change also writes a bemfa_device point holding
// the raw payload and availability. Points are batched per batch_size and
// flush_interval.
package influxdb
