package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/bemfa-bridge/internal/coordinator"
)

// SystemStatus is the body of GET /api/v1/status.
type SystemStatus struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Goroutines    int                `json:"goroutines"`
	HeapMB        float64            `json:"heap_mb"`
	WSClients     int                `json:"ws_clients"`
	Coordinator   coordinator.Status `json:"coordinator"`
	Devices       map[string]int     `json:"devices_by_type"`
}

// handleStatus is the JSON counterpart of /metrics: process figures, the
// coordinator snapshot and a device count per class.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	byType := make(map[string]int)
	for _, v := range s.entities.Views() {
		byType[string(v.Type)]++
	}

	writeJSON(w, http.StatusOK, SystemStatus{
		Timestamp:     time.Now().UTC().Format(timeFormat),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		HeapMB:        float64(mem.HeapAlloc) / (1 << 20),
		WSClients:     s.hub.ClientCount(),
		Coordinator:   s.coordinator.Status(),
		Devices:       byType,
	})
}
