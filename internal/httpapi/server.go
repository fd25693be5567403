// Package httpapi is the HTTP surface (§6.2): a chi router wiring
// every admin/operator and hub/device-facing route to the core
// components. Grounded on automation-service/internal/httpapi/server.go
// for the Server/New/Handler shape and writeJSON/writeError helpers,
// and api-gateway/main.go for the middleware ordering
// (RequestID/RealIP/Recoverer before auth).
package httpapi

import (
	"crypto/rsa"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/PetoAdam/homenavi/corebroker/internal/automation"
	"github.com/PetoAdam/homenavi/corebroker/internal/fanout"
	"github.com/PetoAdam/homenavi/corebroker/internal/inventory"
	"github.com/PetoAdam/homenavi/corebroker/internal/middleware"
	"github.com/PetoAdam/homenavi/corebroker/internal/mqttbus"
	"github.com/PetoAdam/homenavi/corebroker/internal/observability"
	"github.com/PetoAdam/homenavi/corebroker/internal/orchestrator"
	"github.com/PetoAdam/homenavi/corebroker/internal/pairing"
	"github.com/PetoAdam/homenavi/corebroker/internal/rollout"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

// Server holds every component the HTTP surface dispatches into.
type Server struct {
	repo       *store.Repo
	inventory  *inventory.Registry
	orch       *orchestrator.Orchestrator
	rollout    *rollout.Engine
	automation *automation.Controller
	pairing    *pairing.Coordinator
	hub        *fanout.Hub
	bus        *mqttbus.Client
	pubKey     *rsa.PublicKey
	tracer     oteltrace.Tracer

	readyFn func() error
}

func New(
	repo *store.Repo,
	inv *inventory.Registry,
	orch *orchestrator.Orchestrator,
	roll *rollout.Engine,
	autoc *automation.Controller,
	pair *pairing.Coordinator,
	hub *fanout.Hub,
	bus *mqttbus.Client,
	pubKey *rsa.PublicKey,
	tracer oteltrace.Tracer,
	readyFn func() error,
) *Server {
	return &Server{
		repo: repo, inventory: inv, orch: orch, rollout: roll,
		automation: autoc, pairing: pair, hub: hub, bus: bus,
		pubKey: pubKey, tracer: tracer, readyFn: readyFn,
	}
}

// Handler builds the full router. Health checks sit outside auth;
// everything else in §6.2 (excluding the Auth row — see DESIGN.md)
// requires a valid bearer token, admin routes additionally the admin
// claim.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.tracer != nil {
		r.Use(observability.MetricsAndTracingMiddleware(s.tracer, "corebroker"))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(s.pubKey))

		r.Get("/events", s.handleEvents)

		r.Route("/hubs", func(r chi.Router) {
			r.Post("/activate", s.handleHubActivate)
			r.Get("/{hubId}/automations/status", s.handleAutomationStatusForHub)
		})
		r.Route("/devices", func(r chi.Router) {
			r.Post("/claim", s.handleDeviceClaim)
			r.Post("/{id}/reset-connection", s.handleDeviceReset("RECONNECT"))
			r.Post("/{id}/factory-reset", s.handleDeviceReset("FACTORY_RESET"))
			r.Post("/{id}/command", s.handleDeviceCommand)
		})
		r.Route("/zigbee", func(r chi.Router) {
			r.Post("/pairing/open", s.handleZigbeePairingOpen)
			r.Get("/discovered", s.handleZigbeeDiscovered)
			r.Post("/pairing/confirm", s.handleZigbeePairingConfirm)
		})
		r.Route("/homes/{homeId}/automations", func(r chi.Router) {
			r.Get("/", s.handleListAutomations)
			r.Post("/", s.handleCreateAutomation)
		})
		r.Route("/automations/{id}", func(r chi.Router) {
			r.Put("/", s.handleUpdateAutomation)
			r.Delete("/", s.handleDeleteAutomation)
			r.Post("/enable", s.handleSetAutomationEnabled(true))
			r.Post("/disable", s.handleSetAutomationEnabled(false))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Route("/inventory", func(r chi.Router) {
				r.Get("/hubs", s.handleListHubInventory)
				r.Post("/hubs", s.handleCreateHubInventory)
				r.Get("/devices", s.handleListDeviceInventory)
				r.Post("/devices", s.handleCreateDeviceInventory)
				r.Post("/export", s.handleInventoryExport)
			})
			r.Route("/fleet", func(r chi.Router) {
				r.Get("/hubs", s.handleFleetHubs)
				r.Get("/devices", s.handleFleetDevices)
			})
			r.Get("/events", s.handleAdminEvents)
			r.Get("/commands", s.handleAdminCommands)
			r.Post("/commands/{idOrCmdId}/retry", s.handleCommandRetry)
			r.Route("/firmware", func(r chi.Router) {
				r.Get("/releases", s.handleListReleases)
				r.Post("/releases", s.handleCreateRelease)
				r.Get("/rollouts", s.handleListRollouts)
				r.Post("/rollouts", s.handleCreateRollout)
				r.Get("/rollouts/{id}", s.handleGetRollout)
				r.Post("/rollouts/{id}/start", s.handleRolloutAction("start"))
				r.Post("/rollouts/{id}/pause", s.handleRolloutAction("pause"))
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
