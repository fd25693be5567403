package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
)

// withURLParam stands in for chi's router when calling a handler
// directly, mirroring device-hub's server_test.go style of exercising
// handlers below the router.
func withURLParam(r *http.Request, key, val string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, val)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestHandleHealthz(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.handleHealthz(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("expected ok status in body, got %q", rr.Body.String())
	}
}

func TestWriteComponentErr_AppError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeComponentErr(rr, apierr.ConflictErr("already bound"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusConflict)
	}
	if !strings.Contains(rr.Body.String(), "already bound") {
		t.Fatalf("expected message in body, got %q", rr.Body.String())
	}
}

func TestWriteComponentErr_GenericErrorWrappedAsInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	writeComponentErr(rr, errors.New("boom"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestHandleHubActivate_InvalidJSON(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/hubs/activate", strings.NewReader("{not-json"))
	rr := httptest.NewRecorder()
	s.handleHubActivate(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleDeviceClaim_InvalidJSON(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/devices/claim", strings.NewReader("{not-json"))
	rr := httptest.NewRecorder()
	s.handleDeviceClaim(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleZigbeePairingConfirm_InvalidJSON(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/zigbee/pairing/confirm", strings.NewReader("{not-json"))
	rr := httptest.NewRecorder()
	s.handleZigbeePairingConfirm(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleZigbeePairingOpen_MissingClaims(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/zigbee/pairing/open", strings.NewReader(`{"hub_id":"h1","mode":"legacy"}`))
	rr := httptest.NewRecorder()
	s.handleZigbeePairingOpen(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestHandleZigbeeDiscovered_InvalidHomeID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/zigbee/discovered?homeId=abc", nil)
	rr := httptest.NewRecorder()
	s.handleZigbeeDiscovered(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleAdminEvents_InvalidDate(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/admin/events?date=not-a-date", nil)
	rr := httptest.NewRecorder()
	s.handleAdminEvents(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rr.Body.String(), "YYYY-MM-DD") {
		t.Fatalf("expected date format hint, got %q", rr.Body.String())
	}
}

func TestHandleAdminEvents_InvalidHomeID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/admin/events?homeId=abc", nil)
	rr := httptest.NewRecorder()
	s.handleAdminEvents(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleAdminCommands_InvalidDeviceID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/admin/commands?deviceId=abc", nil)
	rr := httptest.NewRecorder()
	s.handleAdminCommands(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleListAutomations_InvalidHomeID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/homes/abc/automations", nil)
	req = withURLParam(req, "homeId", "abc")
	rr := httptest.NewRecorder()
	s.handleListAutomations(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleUpdateAutomation_InvalidID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPut, "/automations/abc", nil)
	req = withURLParam(req, "id", "abc")
	rr := httptest.NewRecorder()
	s.handleUpdateAutomation(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleDeleteAutomation_InvalidID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodDelete, "/automations/abc", nil)
	req = withURLParam(req, "id", "abc")
	rr := httptest.NewRecorder()
	s.handleDeleteAutomation(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleSetAutomationEnabled_InvalidID(t *testing.T) {
	s := &Server{}
	h := s.handleSetAutomationEnabled(true)
	req := httptest.NewRequest(http.MethodPost, "/automations/abc/enable", nil)
	req = withURLParam(req, "id", "abc")
	rr := httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleCreateRelease_InvalidJSON(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/admin/firmware/releases", strings.NewReader("{bad"))
	rr := httptest.NewRecorder()
	s.handleCreateRelease(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleCreateRelease_MissingFields(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/admin/firmware/releases", strings.NewReader(`{"version":"1.0"}`))
	rr := httptest.NewRecorder()
	s.handleCreateRelease(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rr.Body.String(), "target_type") {
		t.Fatalf("expected field hint in body, got %q", rr.Body.String())
	}
}

func TestHandleCreateRollout_EmptyHubIDs(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/admin/firmware/rollouts", strings.NewReader(`{"release_id":1,"hub_ids":[]}`))
	rr := httptest.NewRecorder()
	s.handleCreateRollout(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleGetRollout_InvalidID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/admin/firmware/rollouts/abc", nil)
	req = withURLParam(req, "id", "abc")
	rr := httptest.NewRecorder()
	s.handleGetRollout(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleRolloutAction_InvalidID(t *testing.T) {
	s := &Server{}
	h := s.handleRolloutAction("start")
	req := httptest.NewRequest(http.MethodPost, "/admin/firmware/rollouts/abc/start", nil)
	req = withURLParam(req, "id", "abc")
	rr := httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleCreateHubInventory_InvalidJSON(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/admin/inventory/hubs", strings.NewReader("{bad"))
	rr := httptest.NewRecorder()
	s.handleCreateHubInventory(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestQRPayload_CarriesIDAndSetupCode(t *testing.T) {
	got := qrPayload("hub", "hub-1", "ABCD1234")
	if !strings.Contains(got, "hub-1") || !strings.Contains(got, "ABCD1234") {
		t.Fatalf("expected qr payload to carry id and setup code, got %q", got)
	}
}

func TestHandleCreateDeviceInventory_InvalidJSON(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/admin/inventory/devices", strings.NewReader("{bad"))
	rr := httptest.NewRecorder()
	s.handleCreateDeviceInventory(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}
