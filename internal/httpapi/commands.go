package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

func (s *Server) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var homeID, deviceID *uint64
	if v := q.Get("homeId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			apierr.Write(w, apierr.ValidationErr("invalid homeId"))
			return
		}
		homeID = &id
	}
	if v := q.Get("deviceId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			apierr.Write(w, apierr.ValidationErr("invalid deviceId"))
			return
		}
		deviceID = &id
	}
	var day *time.Time
	if v := q.Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			apierr.Write(w, apierr.ValidationErr("invalid date, expected YYYY-MM-DD"))
			return
		}
		day = &d
	}
	rows, err := s.repo.ListDeviceEvents(r.Context(), homeID, deviceID, day, q.Get("type"), 0)
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list events", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAdminCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var deviceID *uint64
	if v := q.Get("deviceId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			apierr.Write(w, apierr.ValidationErr("invalid deviceId"))
			return
		}
		deviceID = &id
	}
	rows, err := s.repo.ListCommands(r.Context(), deviceID, q.Get("status"), 0)
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list commands", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleCommandRetry resolves :idOrCmdId against the row's numeric id
// first, falling back to its cmdId, then delegates to the Orchestrator
// which enforces the terminal-non-ACKED retry precondition (§9 OQ2).
func (s *Server) handleCommandRetry(w http.ResponseWriter, r *http.Request) {
	idOrCmdID := chi.URLParam(r, "idOrCmdId")
	var cmd *store.Command
	var err error
	if id, parseErr := strconv.ParseUint(idOrCmdID, 10, 64); parseErr == nil {
		cmd, err = s.repo.GetCommand(r.Context(), id)
	} else {
		cmd, err = s.repo.FindCommandByCmdID(r.Context(), idOrCmdID)
	}
	if err != nil {
		apierr.Write(w, apierr.NotFoundErr("command not found"))
		return
	}
	updated, err := s.orch.Retry(r.Context(), cmd.DeviceID, cmd.CmdID)
	if err != nil {
		writeComponentErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
