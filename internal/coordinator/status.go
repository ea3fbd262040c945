package coordinator

import "time"

// Stats are cumulative counters since Start.
type Stats struct {
	Refreshes        uint64    `json:"refreshes"`
	RefreshFailures  uint64    `json:"refresh_failures"`
	PublishFailures  uint64    `json:"publish_failures"`
	DroppedMessages  uint64    `json:"dropped_messages"`
	LastRefresh      time.Time `json:"last_refresh,omitempty"`
	LastRefreshError string    `json:"last_refresh_error,omitempty"`
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Running       bool  `json:"running"`
	Connected     bool  `json:"connected"`
	HeartbeatLost bool  `json:"heartbeat_lost"`
	Devices       int   `json:"devices"`
	Online        int   `json:"online"`
	QueueDepth    int   `json:"queue_depth"`
	Stats         Stats `json:"stats"`
}

// Status returns the current status.
func (c *Coordinator) Status() Status {
	c.statsMu.Lock()
	stats := c.stats
	c.statsMu.Unlock()

	records := c.table.Snapshot()
	online := 0
	for _, rec := range records {
		if rec.Online {
			online++
		}
	}

	return Status{
		Running:       c.running(),
		Connected:     c.connected.Load(),
		HeartbeatLost: c.heartbeatLost.Load(),
		Devices:       len(records),
		Online:        online,
		QueueDepth:    len(c.events),
		Stats:         stats,
	}
}
