package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
	"github.com/PetoAdam/homenavi/corebroker/internal/orchestrator"
)

type activateHubReq struct {
	HubID     string `json:"hub_id"`
	SetupCode string `json:"setup_code"`
	HomeID    uint64 `json:"home_id"`
	UserID    string `json:"user_id"`
}

func (s *Server) handleHubActivate(w http.ResponseWriter, r *http.Request) {
	var req activateHubReq
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid request body"))
		return
	}
	hub, credential, err := s.inventory.ClaimHub(r.Context(), req.HubID, req.SetupCode, req.HomeID, req.UserID)
	if err != nil {
		writeComponentErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hub": hub, "mqtt_credential": credential})
}

type claimDeviceReq struct {
	Serial    string  `json:"serial"`
	SetupCode string  `json:"setup_code"`
	HomeID    uint64  `json:"home_id"`
	RoomID    *uint64 `json:"room_id,omitempty"`
}

func (s *Server) handleDeviceClaim(w http.ResponseWriter, r *http.Request) {
	var req claimDeviceReq
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid request body"))
		return
	}
	dev, credential, err := s.inventory.ClaimDevice(r.Context(), req.Serial, req.SetupCode, req.HomeID, req.RoomID)
	if err != nil {
		writeComponentErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": dev, "mqtt_credential": credential})
}

// handleDeviceReset backs both /reset-connection and /factory-reset;
// :id is the device's public deviceId, matching how the wire plane
// and every other device-scoped route addresses it.
func (s *Server) handleDeviceReset(resetType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dev, err := s.repo.GetDeviceByDeviceID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apierr.Write(w, apierr.NotFoundErr("device not found"))
			return
		}
		if err := s.inventory.RevokeDevice(r.Context(), dev.ID, resetType); err != nil {
			writeComponentErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
	}
}

type deviceCommandReq struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	dev, err := s.repo.GetDeviceByDeviceID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierr.Write(w, apierr.NotFoundErr("device not found"))
		return
	}
	var req deviceCommandReq
	if err := decodeJSON(r, &req); err != nil || req.Action == "" {
		apierr.Write(w, apierr.ValidationErr("action is required"))
		return
	}
	cmd, err := s.orch.Submit(r.Context(), dev.ID, req.Action, orchestrator.Input{
		Payload: req.Payload,
		Action:  req.Action,
		Args:    req.Args,
	})
	if err != nil {
		writeComponentErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}
