package httpapi

import "net/http"

// handleHealthz is the liveness probe: the process is up. Grounded on
// device-hub/cmd/devicehub/main.go's bare "ok" health handler.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz is the readiness probe (§6.4): ready iff MQTT is
// connected, the database is reachable, and migrations have already
// run (ensureSchema happens before the server starts listening, so
// reaching this handler at all implies the third condition).
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.bus.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "mqtt_disconnected"})
		return
	}
	if err := s.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "db_unreachable"})
		return
	}
	if s.readyFn != nil {
		if err := s.readyFn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
