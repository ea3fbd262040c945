// Package api implements the HTTP REST API and WebSocket server for the bridge.
//
// This package provides:
//   - REST endpoints to list devices, read one device and send it a command
//   - A synchronous refresh endpoint and a history endpoint backed by SQLite
//   - A WebSocket hub broadcasting table changes as "device.state_changed"
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus exposition on /metrics when a handler is supplied
//
// # Architecture
//
// The server reads entity views from the entity registry and sends commands
// through the entities themselves, so every command goes through the same
// codec and coordinator path as Home Assistant commands. Table changes reach
// WebSocket clients through a coordinator subscription.
//
// # Graceful Degradation
//
// History and metrics are optional. Without a history repository the history
// endpoint answers 503; every other endpoint keeps working.
package api
