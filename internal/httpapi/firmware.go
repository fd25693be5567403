package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListFirmwareReleases(r.Context())
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list firmware releases", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	var rel store.FirmwareRelease
	if err := decodeJSON(r, &rel); err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid request body"))
		return
	}
	if rel.TargetType == "" || rel.Version == "" || rel.URL == "" {
		apierr.Write(w, apierr.ValidationErr("target_type, version and url are required"))
		return
	}
	if err := s.repo.CreateFirmwareRelease(r.Context(), &rel); err != nil {
		apierr.Write(w, apierr.InternalErr("failed to create firmware release", err))
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleListRollouts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListRollouts(r.Context())
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list rollouts", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type createRolloutReq struct {
	ReleaseID uint64   `json:"release_id"`
	HubIDs    []string `json:"hub_ids"`
}

func (s *Server) handleCreateRollout(w http.ResponseWriter, r *http.Request) {
	var req createRolloutReq
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid request body"))
		return
	}
	if len(req.HubIDs) == 0 {
		apierr.Write(w, apierr.ValidationErr("hub_ids must be non-empty"))
		return
	}
	ro, err := s.repo.CreateRollout(r.Context(), req.ReleaseID, req.HubIDs)
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to create rollout", err))
		return
	}
	writeJSON(w, http.StatusCreated, ro)
}

func (s *Server) handleGetRollout(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid rollout id"))
		return
	}
	ro, err := s.repo.GetRollout(r.Context(), id)
	if err != nil {
		apierr.Write(w, apierr.NotFoundErr("rollout not found"))
		return
	}
	targets, err := s.repo.ListRolloutTargets(r.Context(), id)
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list rollout targets", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rollout": ro, "targets": targets})
}

// handleRolloutAction backs both /start and /pause; which one is
// fixed by the route registration in server.go.
func (s *Server) handleRolloutAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			apierr.Write(w, apierr.ValidationErr("invalid rollout id"))
			return
		}
		var actionErr error
		switch action {
		case "start":
			actionErr = s.rollout.Start(r.Context(), id)
		case "pause":
			actionErr = s.rollout.Pause(r.Context(), id)
		}
		if actionErr != nil {
			writeComponentErr(w, actionErr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
