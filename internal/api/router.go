package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID)
	r.Use(s.withAccessLog)
	r.Use(s.withRecovery)
	r.Use(s.withCORS)
	r.Use(middleware.RequestSize(maxRequestBodySize))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefresh)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{topic}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/command", s.handleCommand)
				r.Get("/history", s.handleGetDeviceHistory)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// backendCheckTimeout bounds all backend checks of one health request.
const backendCheckTimeout = 2 * time.Second

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Connected bool              `json:"connected"`
	Devices   int               `json:"devices"`
	Online    int               `json:"online"`
	Heartbeat *heartbeatSummary `json:"heartbeat,omitempty"`
	Backends  map[string]string `json:"backends,omitempty"`
}

type heartbeatSummary struct {
	Missed   int    `json:"missed"`
	Lost     bool   `json:"lost"`
	LastSeen string `json:"last_seen,omitempty"`
}

// handleHealth reports the link and heartbeat status and pings each
// optional backend. The status is "degraded" while the broker link is down,
// the heartbeat is lost or a backend fails its check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.coordinator.Status()
	resp := healthResponse{
		Status:    "ok",
		Version:   s.version,
		Connected: st.Connected,
		Devices:   st.Devices,
		Online:    st.Online,
	}
	if !st.Connected || st.HeartbeatLost {
		resp.Status = "degraded"
	}

	if s.heartbeat != nil {
		hb := s.heartbeat()
		resp.Heartbeat = &heartbeatSummary{Missed: hb.Missed, Lost: hb.Lost}
		if !hb.LastSeen.IsZero() {
			resp.Heartbeat.LastSeen = hb.LastSeen.UTC().Format(timeFormat)
		}
	}

	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), backendCheckTimeout)
		defer cancel()
		resp.Backends = make(map[string]string, len(s.checks))
		for name, c := range s.checks {
			if err := c.HealthCheck(ctx); err != nil {
				resp.Backends[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Backends[name] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
