package httpapi

import (
	"net/http"
	"strconv"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
)

func (s *Server) handleFleetHubs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListHubs(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list hubs", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleFleetDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var homeID *uint64
	if v := q.Get("homeId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			apierr.Write(w, apierr.ValidationErr("invalid homeId"))
			return
		}
		homeID = &id
	}
	var onlineOnly *bool
	if v := q.Get("online"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apierr.Write(w, apierr.ValidationErr("invalid online filter"))
			return
		}
		onlineOnly = &b
	}
	rows, err := s.repo.ListDevices(r.Context(), homeID, q.Get("modelId"), onlineOnly)
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list devices", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
