package httpapi

import (
	"fmt"
	"net/http"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
)

// qrPayload builds the createInventoryItem response's qrPayload
// (§4.A): a URI a phone's camera app resolves into the claim flow,
// carrying the inventory id and the one-shot setup code so scanning
// the printed label is equivalent to typing both in by hand.
func qrPayload(kind, id, setupCode string) string {
	return fmt.Sprintf("homenavi://claim/%s?id=%s&code=%s", kind, id, setupCode)
}

type createHubInventoryReq struct {
	ModelID string `json:"model_id"`
	Serial  string `json:"serial"`
}

func (s *Server) handleCreateHubInventory(w http.ResponseWriter, r *http.Request) {
	var req createHubInventoryReq
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid request body"))
		return
	}
	hubID, setupCode, err := s.inventory.CreateHubItem(r.Context(), req.ModelID, req.Serial)
	if err != nil {
		writeComponentErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"hub_id":     hubID,
		"setup_code": setupCode,
		"qr_payload": qrPayload("hub", hubID, setupCode),
	})
}

func (s *Server) handleListHubInventory(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListHubInventory(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list hub inventory", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type createDeviceInventoryReq struct {
	Serial      string `json:"serial"`
	TypeDefault string `json:"type_default"`
	Protocol    string `json:"protocol"`
	ModelID     string `json:"model_id"`
}

func (s *Server) handleCreateDeviceInventory(w http.ResponseWriter, r *http.Request) {
	var req createDeviceInventoryReq
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid request body"))
		return
	}
	deviceUUID, setupCode, err := s.inventory.CreateDeviceItem(r.Context(), req.Serial, req.TypeDefault, req.Protocol, req.ModelID)
	if err != nil {
		writeComponentErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"serial":      req.Serial,
		"device_uuid": deviceUUID,
		"setup_code":  setupCode,
		"qr_payload":  qrPayload("device", req.Serial, setupCode),
	})
}

func (s *Server) handleListDeviceInventory(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListDeviceInventory(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list device inventory", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleInventoryExport dumps every inventory row as JSON; CSV
// formatting is left to the caller since the data-model contract is
// all §1 specifies for import/export.
func (s *Server) handleInventoryExport(w http.ResponseWriter, r *http.Request) {
	hubs, err := s.repo.ListHubInventory(r.Context(), "")
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to export hub inventory", err))
		return
	}
	devices, err := s.repo.ListDeviceInventory(r.Context(), "")
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to export device inventory", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hubs": hubs, "devices": devices})
}

// writeComponentErr unwraps an *apierr.AppError if one is returned by
// a component, otherwise bubbles it as INTERNAL.
func writeComponentErr(w http.ResponseWriter, err error) {
	if ae, ok := err.(*apierr.AppError); ok {
		apierr.Write(w, ae)
		return
	}
	apierr.Write(w, apierr.InternalErr("unexpected error", err))
}
