package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/coordinator"
	"github.com/nerrad567/bemfa-bridge/internal/device"
	"github.com/nerrad567/bemfa-bridge/internal/entity"
)

// maxTopicLen bounds topic path parameters.
const maxTopicLen = 128

// handleListDevices returns all entity views, with optional query filters.
//
// Query parameters:
//   - type: filter by device class (switch, light, fan, cover, climate, sensor)
//   - online: filter by availability ("true" or "false")
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	views := s.entities.Views()

	if typeStr := r.URL.Query().Get("type"); typeStr != "" {
		t, err := device.ParseType(typeStr)
		if err != nil {
			writeBadRequest(w, "unknown device type")
			return
		}
		views = filterViews(views, func(v entity.View) bool { return v.Type == t })
	}

	if onlineStr := r.URL.Query().Get("online"); onlineStr != "" {
		online, err := strconv.ParseBool(onlineStr)
		if err != nil {
			writeBadRequest(w, "online must be true or false")
			return
		}
		views = filterViews(views, func(v entity.View) bool { return v.Available == online })
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

func filterViews(views []entity.View, keep func(entity.View) bool) []entity.View {
	out := views[:0]
	for _, v := range views {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// topicParam validates the {topic} path parameter.
func topicParam(r *http.Request) (string, bool) {
	topic := chi.URLParam(r, "topic")
	if topic == "" || len(topic) > maxTopicLen {
		return "", false
	}
	return topic, true
}

// handleGetDevice returns a single entity view.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	topic, ok := topicParam(r)
	if !ok {
		writeBadRequest(w, "invalid topic")
		return
	}
	e, ok := s.entities.Get(topic)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, e.Render())
}

// commandResponse is the body of an accepted command.
type commandResponse struct {
	CommandID string      `json:"command_id"`
	Status    string      `json:"status"`
	Device    entity.View `json:"device"`
}

// handleCommand sends a JSON intent to a device.
//
// The body is the intent for the device class, for example {"on":true} for a
// switch or {"action":"set_position","position":40} for a cover. On success
// the optimistic state is already in the table and the response carries the
// updated view; the cloud's confirmation arrives later as a push or refresh.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	topic, ok := topicParam(r)
	if !ok {
		writeBadRequest(w, "invalid topic")
		return
	}
	e, ok := s.entities.Get(topic)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	commandID := uuid.NewString()
	log := s.logger.With("command_id", commandID, "topic", topic, "request_id", requestIDFrom(r.Context()))

	if err := e.HandleCommand(r.Context(), json.RawMessage(body)); err != nil {
		log.Warn("command rejected", "error", err)
		writeCommandError(w, err)
		return
	}

	log.Info("command published")
	writeJSON(w, http.StatusAccepted, commandResponse{
		CommandID: commandID,
		Status:    "accepted",
		Device:    e.Render(),
	})
}

// writeCommandError maps command failures to HTTP statuses.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrReadOnly):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device is read-only")
	case errors.Is(err, entity.ErrInvalidIntent):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, coordinator.ErrUnknownTopic):
		writeNotFound(w, "device not found")
	case errors.Is(err, bemfa.ErrNotConnected), errors.Is(err, coordinator.ErrStopped):
		writeServiceUnavailable(w, "cloud broker unavailable")
	default:
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "publishing command failed")
	}
}

// handleRefresh runs a synchronous refresh against the HTTP API. A failure
// leaves the table as it was.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Refresh(r.Context()); err != nil {
		s.logger.Warn("manual refresh failed", "error", err)
		if errors.Is(err, coordinator.ErrStopped) {
			writeServiceUnavailable(w, "coordinator stopped")
			return
		}
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "refresh failed")
		return
	}

	st := s.coordinator.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": st.Devices,
		"online":  st.Online,
	})
}
