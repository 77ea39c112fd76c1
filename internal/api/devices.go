package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/shellylink/internal/device"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// maxSwitchChannel bounds the channel path parameter.
	maxSwitchChannel = 15
)

// handleListDevices returns every known device, online first.
//
// Query parameters:
//   - online: "true" or "false" to filter by presence
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.devices.List()

	if raw := r.URL.Query().Get("online"); raw != "" {
		want, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "online must be true or false")
			return
		}
		filtered := devices[:0]
		for _, d := range devices {
			if d.Online == want {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single tracked device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	dev, found := s.devices.Device(id)
	if !found {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleGetDeviceHistory returns journalled events for a device, newest first.
//
// Query parameters:
//   - limit: 1..200, default 50
//   - since: RFC3339 timestamp; only newer events are returned
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	since, err := parseSinceParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device history unavailable")
		return
	}

	events, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to load device history", "device_id", id, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	if !since.IsZero() {
		filtered := events[:0]
		for _, ev := range events {
			if ev.CreatedAt.After(since) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   events,
		"count":     len(events),
	})
}

// handleGetDeviceInfo calls Shelly.GetDeviceInfo on the device.
func (s *Server) handleGetDeviceInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	info, err := s.ctrl.DeviceInfo(r.Context(), id)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleGetSwitch calls Switch.GetStatus for one channel.
func (s *Server) handleGetSwitch(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	channel, ok := channelParam(w, r)
	if !ok {
		return
	}

	status, err := s.ctrl.SwitchStatus(r.Context(), id, channel)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// setSwitchRequest is the request body for PUT /devices/{id}/switches/{channel}.
type setSwitchRequest struct {
	On *bool `json:"on"`
}

// handleSetSwitch calls Switch.Set for one channel.
func (s *Server) handleSetSwitch(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	channel, ok := channelParam(w, r)
	if !ok {
		return
	}

	var req setSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeBadRequest(w, "on is required")
		return
	}

	wasOn, err := s.ctrl.SetSwitch(r.Context(), id, channel, *req.On)
	if err != nil {
		writeRPCError(w, err)
		return
	}

	s.logger.Info("switch set",
		"device_id", id,
		"channel", channel,
		"on", *req.On,
		"subject", subjectOf(r),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"channel":   channel,
		"on":        *req.On,
		"was_on":    wasOn,
	})
}

// rpcRequest is the request body for POST /devices/{id}/rpc.
type rpcRequest struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMS int             `json:"timeout_ms,omitempty"`
}

// maxRPCTimeout bounds caller-supplied timeouts.
const maxRPCTimeout = 60 * time.Second

// handleRPC sends an arbitrary method to the device and returns the raw reply.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Method == "" {
		writeBadRequest(w, "method is required")
		return
	}
	// Bound the raw value before converting; a huge timeout_ms overflows
	// time.Duration.
	if req.TimeoutMS < 0 || int64(req.TimeoutMS) > maxRPCTimeout.Milliseconds() {
		writeBadRequest(w, fmt.Sprintf("timeout_ms must be between 0 and %d", maxRPCTimeout.Milliseconds()))
		return
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond

	resp, err := s.caller.Call(r.Context(), id, req.Method, req.Params, timeout)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	if err := resp.Err(); err != nil {
		writeRPCError(w, err)
		return
	}

	s.logger.Info("rpc forwarded",
		"device_id", id,
		"method", req.Method,
		"subject", subjectOf(r),
	)
	writeJSON(w, http.StatusOK, resp)
}

// deviceIDParam extracts {id} and rejects anything that cannot be a device.
func deviceIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !device.ValidID(id) {
		writeBadRequest(w, "invalid device ID")
		return "", false
	}
	return id, true
}

func channelParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil || n < 0 || n > maxSwitchChannel {
		writeBadRequest(w, "invalid switch channel")
		return 0, false
	}
	return n, true
}

func subjectOf(r *http.Request) string {
	if claims := claimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, errors.New("limit exceeds maximum")
	}
	return limit, nil
}

// parseSinceParam parses the since parameter as RFC3339/RFC3339Nano.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
