package api

import (
	"net/http"
)

// handleGetConnection returns the session's connection state and counters.
func (s *Server) handleGetConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.conn.Info())
}

// handleReconnect tears the connection down and dials again with the last
// configuration. In-flight calls fail and the device list is cleared.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("reconnect requested", "subject", subjectOf(r))

	if err := s.conn.Reconnect(r.Context()); err != nil {
		s.logger.Warn("reconnect failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"status":     http.StatusBadGateway,
			"code":       ErrCodeNotConnected,
			"message":    err.Error(),
			"connection": s.conn.Info(),
		})
		return
	}
	writeJSON(w, http.StatusOK, s.conn.Info())
}
