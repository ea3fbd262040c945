package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/bemfa-bridge/internal/device"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

var errBadLimit = errors.New("limit must be a positive integer")

// historyResponse is the body of GET /api/v1/devices/{topic}/history.
type historyResponse struct {
	Topic   string                     `json:"topic"`
	Count   int                        `json:"count"`
	Since   string                     `json:"since,omitempty"`
	History []device.StateHistoryEntry `json:"history"`
}

// handleGetDeviceHistory returns the newest recorded states of a device.
//
// Query parameters:
//   - limit: entries to return (default 50, capped at 200)
//   - since: RFC3339 or Unix seconds; older entries are dropped
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	topic, ok := topicParam(r)
	if !ok {
		writeBadRequest(w, "invalid topic")
		return
	}
	q := r.URL.Query()
	limit, err := parseHistoryLimit(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	since, err := parseSince(q.Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if s.history == nil {
		writeServiceUnavailable(w, "state history unavailable")
		return
	}
	if _, ok := s.entities.Get(topic); !ok {
		writeNotFound(w, "device not found")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), topic, limit)
	if err != nil {
		s.logger.Warn("loading history failed", "topic", topic, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	resp := historyResponse{Topic: topic, History: entries}
	if !since.IsZero() {
		resp.Since = since.Format(timeFormat)
		kept := entries[:0]
		for _, e := range entries {
			if e.CreatedAt.After(since) {
				kept = append(kept, e)
			}
		}
		resp.History = kept
	}
	resp.Count = len(resp.History)
	writeJSON(w, http.StatusOK, resp)
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errBadLimit
	}
	return min(n, maxHistoryLimit), nil
}

// parseSince accepts RFC3339 (with or without fractional seconds) or Unix
// seconds, possibly fractional. Empty means no lower bound.
func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(secs * 1000)).UTC(), nil
}
