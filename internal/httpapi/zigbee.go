package httpapi

import (
	"net/http"
	"strconv"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
	"github.com/PetoAdam/homenavi/corebroker/internal/middleware"
)

type openPairingReq struct {
	HubID           string `json:"hub_id"`
	Mode            string `json:"mode"`
	ExpectedModelID string `json:"expected_model_id,omitempty"`
	ClaimedSerial   string `json:"claimed_serial,omitempty"`
}

func (s *Server) handleZigbeePairingOpen(w http.ResponseWriter, r *http.Request) {
	var req openPairingReq
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid request body"))
		return
	}
	claims := middleware.GetClaims(r)
	if claims == nil {
		apierr.Write(w, apierr.AuthRequiredErr("missing bearer token"))
		return
	}
	session, err := s.pairing.OpenSession(r.Context(), req.HubID, claims.Subject, req.Mode, req.ExpectedModelID, req.ClaimedSerial)
	if err != nil {
		writeComponentErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleZigbeeDiscovered(w http.ResponseWriter, r *http.Request) {
	var homeID *uint64
	if v := r.URL.Query().Get("homeId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			apierr.Write(w, apierr.ValidationErr("invalid homeId"))
			return
		}
		homeID = &id
	}
	rows, err := s.repo.ListDiscovered(r.Context(), homeID)
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list discovered devices", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type confirmPairingReq struct {
	Token           string `json:"token"`
	IEEE            string `json:"ieee"`
	ModelIDOverride string `json:"model_id_override,omitempty"`
}

func (s *Server) handleZigbeePairingConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmPairingReq
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid request body"))
		return
	}
	dev, err := s.pairing.Confirm(r.Context(), req.Token, req.IEEE, req.ModelIDOverride)
	if err != nil {
		writeComponentErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}
