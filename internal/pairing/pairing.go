// Package pairing is the Zigbee Pairing Coordinator (§4.I): opens a
// permit-join window on a hub, surfaces or auto-binds discovered
// devices per the session's mode, and confirms the user's chosen
// match into a live Device. Grounded on device-hub's claim-flow
// (internal/httpapi/server.go) generalized to a 2-step open/confirm
// handshake with its own expiration timer.
package pairing

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
	"github.com/PetoAdam/homenavi/corebroker/internal/mqttbus"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

const defaultSessionTTL = 60 * time.Second

type Coordinator struct {
	repo *store.Repo
	bus  *mqttbus.Client
	ttl  time.Duration

	mu         sync.Mutex
	byHub      map[string][]string // hubID -> tokens, most-recently-opened last
	cancelFns  map[string]func()
}

func New(repo *store.Repo, bus *mqttbus.Client, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Coordinator{repo: repo, bus: bus, ttl: ttl, byHub: make(map[string][]string), cancelFns: make(map[string]func())}
}

// OpenSession implements §4.I openSession: arms a permit-join window
// on the hub and an expiration timer, tracked both durably (for
// confirm-by-token lookups) and in-memory (fast discovered-frame
// routing without a full table scan, mirroring the orchestrator's
// heap-plus-durable-sweep pattern).
func (c *Coordinator) OpenSession(ctx context.Context, hubID, ownerUserID, mode, expectedModelID, claimedSerial string) (*store.ZigbeePairingSession, error) {
	if mode != store.PairingLegacy && mode != store.PairingSerialFirst && mode != store.PairingTypeFirst {
		return nil, apierr.ValidationErr("unknown pairing mode")
	}
	hub, err := c.repo.GetHub(ctx, hubID)
	if err != nil {
		return nil, apierr.NotFoundErr("hub not found")
	}

	s := &store.ZigbeePairingSession{
		Token:           uuid.NewString(),
		OwnerUserID:     ownerUserID,
		HubID:           hubID,
		HomeID:          &hub.HomeID,
		Mode:            mode,
		ClaimedSerial:   claimedSerial,
		ExpectedModelID: expectedModelID,
		CreatedAt:       time.Now().UTC(),
		ExpiresAt:       time.Now().UTC().Add(c.ttl),
	}
	if err := c.repo.CreatePairingSession(ctx, s); err != nil {
		return nil, apierr.InternalErr("failed to persist pairing session", err)
	}

	c.mu.Lock()
	c.byHub[hubID] = append(c.byHub[hubID], s.Token)
	c.mu.Unlock()

	if err := c.publishPermitJoin(hubID, true); err != nil {
		slog.Warn("pairing: permit-join open publish failed", "hub_id", hubID, "error", err)
	}

	timer := time.AfterFunc(c.ttl, func() { c.expire(context.Background(), s.Token) })
	c.mu.Lock()
	c.cancelFns[s.Token] = func() { timer.Stop() }
	c.mu.Unlock()

	return s, nil
}

// Confirm implements §4.I confirm: binds the chosen discovered device
// fingerprint into a live Device and closes the session.
func (c *Coordinator) Confirm(ctx context.Context, token, ieee, modelIDOverride string) (*store.Device, error) {
	s, err := c.repo.GetPairingSession(ctx, token)
	if err != nil {
		return nil, apierr.NotFoundErr("pairing session not found")
	}
	if time.Now().UTC().After(s.ExpiresAt) {
		c.closeSession(ctx, s)
		return nil, apierr.PreconditionFailedErr("pairing session expired")
	}
	d, err := c.repo.GetDiscovered(ctx, s.HubID, ieee)
	if err != nil {
		return nil, apierr.NotFoundErr("discovered device not found for this hub")
	}
	modelID := d.Model
	if modelIDOverride != "" {
		modelID = modelIDOverride
	}
	if s.HomeID == nil {
		return nil, apierr.PreconditionFailedErr("pairing session has no bound home")
	}
	dev, err := c.repo.CreateDeviceFromPairing(ctx, *s.HomeID, s.HubID, ieee, modelID, deviceTypeFor(d))
	if err != nil {
		return nil, apierr.InternalErr("failed to bind device", err)
	}
	d.Status = store.DiscoveredConfirmed
	d.PairingToken = token
	if err := c.repo.UpsertDiscovered(ctx, d); err != nil {
		slog.Warn("pairing: failed to mark discovered device confirmed", "hub_id", s.HubID, "ieee", ieee, "error", err)
	}
	c.closeSession(ctx, s)
	return dev, nil
}

// HandleDiscovered is wired as telemetry.DiscoveredHandler: routes a
// freshly upserted fingerprint per the hub's currently open session
// mode (§4.I).
func (c *Coordinator) HandleDiscovered(ctx context.Context, d *store.ZigbeeDiscoveredDevice) {
	for _, token := range c.tokensForHub(d.HubID) {
		s, err := c.repo.GetPairingSession(ctx, token)
		if err != nil {
			continue
		}
		if time.Now().UTC().After(s.ExpiresAt) {
			continue
		}
		switch s.Mode {
		case store.PairingLegacy:
			c.surface(ctx, d, s.Token)
		case store.PairingTypeFirst:
			if modelMatches(s.ExpectedModelID, d) {
				c.surface(ctx, d, s.Token)
			}
		case store.PairingSerialFirst:
			if s.ClaimedSerial == "" {
				continue
			}
			inv, err := c.repo.GetDeviceInventoryBySerial(ctx, s.ClaimedSerial)
			if err != nil || !modelMatches(inv.ModelID, d) {
				continue
			}
			c.autoBind(ctx, s, d, inv)
			return
		}
	}
}

func (c *Coordinator) autoBind(ctx context.Context, s *store.ZigbeePairingSession, d *store.ZigbeeDiscoveredDevice, inv *store.DeviceInventory) {
	if s.HomeID == nil {
		return
	}
	dev, err := c.repo.CreateDeviceFromPairing(ctx, *s.HomeID, s.HubID, d.IEEE, inv.ModelID, inv.TypeDefault)
	if err != nil {
		slog.Warn("pairing: auto-bind failed", "hub_id", s.HubID, "ieee", d.IEEE, "error", err)
		return
	}
	d.Status = store.DiscoveredConfirmed
	d.PairingToken = s.Token
	if err := c.repo.UpsertDiscovered(ctx, d); err != nil {
		slog.Warn("pairing: failed to mark auto-bound device confirmed", "ieee", d.IEEE, "error", err)
	}
	slog.Info("pairing: auto-bound device", "device_id", dev.DeviceID, "hub_id", s.HubID)
	c.closeSession(ctx, s)
}

func (c *Coordinator) surface(ctx context.Context, d *store.ZigbeeDiscoveredDevice, token string) {
	if d.PairingToken == token {
		return
	}
	d.PairingToken = token
	if err := c.repo.UpsertDiscovered(ctx, d); err != nil {
		slog.Warn("pairing: failed to tag discovered device with session token", "ieee", d.IEEE, "error", err)
	}
}

func (c *Coordinator) expire(ctx context.Context, token string) {
	s, err := c.repo.GetPairingSession(ctx, token)
	if err != nil {
		return
	}
	if time.Now().UTC().Before(s.ExpiresAt) {
		return
	}
	c.closeSession(ctx, s)
}

// SweepExpired is a durable backstop for session expiry, invoked
// periodically alongside the in-memory timers (orchestrator.SweepDurable's
// restart-survival pattern): a process restart loses every
// time.AfterFunc armed by OpenSession, so a session whose expiry
// passed while the process was down would otherwise never close.
func (c *Coordinator) SweepExpired(ctx context.Context) {
	rows, err := c.repo.ListExpiredPairingSessions(ctx, time.Now().UTC())
	if err != nil {
		slog.Warn("pairing: expired session sweep query failed", "error", err)
		return
	}
	for i := range rows {
		c.closeSession(ctx, &rows[i])
	}
}

func (c *Coordinator) closeSession(ctx context.Context, s *store.ZigbeePairingSession) {
	c.mu.Lock()
	if cancel, ok := c.cancelFns[s.Token]; ok {
		cancel()
		delete(c.cancelFns, s.Token)
	}
	tokens := c.byHub[s.HubID]
	for i, t := range tokens {
		if t == s.Token {
			c.byHub[s.HubID] = append(tokens[:i], tokens[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if err := c.repo.DeletePairingSession(ctx, s.Token); err != nil {
		slog.Warn("pairing: failed to delete session", "token", s.Token, "error", err)
	}
	if err := c.publishPermitJoin(s.HubID, false); err != nil {
		slog.Warn("pairing: permit-join close publish failed", "hub_id", s.HubID, "error", err)
	}
}

func (c *Coordinator) tokensForHub(hubID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.byHub[hubID]))
	copy(out, c.byHub[hubID])
	return out
}

func (c *Coordinator) publishPermitJoin(hubID string, open bool) error {
	action := "permit_join_close"
	if open {
		action = "permit_join_open"
	}
	body, err := json.Marshal(struct {
		CmdID  string `json:"cmdId"`
		TS     int64  `json:"ts"`
		Action string `json:"action"`
	}{CmdID: uuid.NewString(), TS: time.Now().UnixMilli(), Action: action})
	if err != nil {
		return err
	}
	return c.bus.Publish(mqttbus.HubSetTopic(hubID), mqttbus.QoSCommand, false, body).Wait(5 * time.Second)
}

func modelMatches(expected string, d *store.ZigbeeDiscoveredDevice) bool {
	return expected != "" && (expected == d.Model || expected == d.SuggestedModelID)
}

func deviceTypeFor(d *store.ZigbeeDiscoveredDevice) string {
	if d.SuggestedModelID != "" {
		return d.SuggestedModelID
	}
	return d.Model
}
