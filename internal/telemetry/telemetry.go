// Package telemetry is the Telemetry Ingestor (§4.D): normalizes
// state/event/ack/discovered messages from both planes into
// DeviceStateCurrent/DeviceStateHistory/DeviceEvent, enforcing
// per-device monotonic timestamps and routing ACKs/discoveries to the
// Command Orchestrator and Pairing Coordinator. Grounded on
// device-hub/internal/httpapi/server.go's consumeState and
// zigbee-adapter/internal/store/state_cache.go's redis fast path.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/PetoAdam/homenavi/corebroker/internal/fanout"
	"github.com/PetoAdam/homenavi/corebroker/internal/mqttbus"
	"github.com/PetoAdam/homenavi/corebroker/internal/presence"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

// AckHandler receives (deviceDBID, cmdId, ok, error) from both the
// device-ack and zb-cmd-result channels; implemented by the Command
// Orchestrator.
type AckHandler func(ctx context.Context, deviceDBID uint64, cmdID string, ok bool, errMsg string)

// DiscoveredHandler receives a freshly upserted ZigbeeDiscoveredDevice
// fingerprint; implemented by the Pairing Coordinator.
type DiscoveredHandler func(ctx context.Context, d *store.ZigbeeDiscoveredDevice)

// HubAckHandler receives (hubId, cmdId, ok, result, error) from the
// hub-scoped cmd_result channel; implemented by the Rollout Engine and
// the Automation Deployment Controller, both of which address
// commands at a Hub rather than a Device (§4.G, §4.H).
type HubAckHandler func(ctx context.Context, hubID, cmdID string, ok bool, result json.RawMessage, errMsg string)

// HubStatusHandler receives a hub's reported firmware version off its
// retained status frame; implemented by the Rollout Engine.
type HubStatusHandler func(ctx context.Context, hubID, firmwareVersion string)

type stateFrame struct {
	TS    int64           `json:"ts"`
	State json.RawMessage `json:"state"`
}

type statusFrame struct {
	TS     int64  `json:"ts"`
	Online bool   `json:"online"`
	// FWVersion extends the canonical status payload for hubs only:
	// the Rollout Engine needs a versioned status report to drive
	// DOWNLOADING -> APPLYING -> SUCCESS (spec §4.G step 2), which the
	// bit-exact {ts,online} shape alone can't carry. Devices never set
	// it.
	FWVersion string `json:"fwVersion,omitempty"`
}

type ackFrame struct {
	CmdID  string          `json:"cmdId"`
	OK     bool            `json:"ok"`
	TS     int64           `json:"ts"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type eventFrame struct {
	TS   int64           `json:"ts"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type discoveredFrame struct {
	IEEE             string `json:"ieee"`
	ShortAddr        string `json:"shortAddr,omitempty"`
	Manufacturer     string `json:"manufacturer,omitempty"`
	Model            string `json:"model,omitempty"`
	SWBuildID        string `json:"swBuildId,omitempty"`
	SuggestedModelID string `json:"suggestedModelId,omitempty"`
}

type Cache interface {
	Set(ctx context.Context, deviceID string, stateJSON []byte) error
}

type Ingestor struct {
	repo     *store.Repo
	hub      *fanout.Hub
	presence *presence.Tracker
	cache    Cache
	locks    *keyedMutex

	onAck        AckHandler
	onDiscovered DiscoveredHandler
	onHubAck     HubAckHandler
	onHubStatus  HubStatusHandler
}

func New(repo *store.Repo, hub *fanout.Hub, pt *presence.Tracker, cache Cache) *Ingestor {
	return &Ingestor{repo: repo, hub: hub, presence: pt, cache: cache, locks: newKeyedMutex()}
}

func (in *Ingestor) OnAck(h AckHandler)              { in.onAck = h }
func (in *Ingestor) OnDiscovered(h DiscoveredHandler) { in.onDiscovered = h }
func (in *Ingestor) OnHubAck(h HubAckHandler)         { in.onHubAck = h }
func (in *Ingestor) OnHubStatus(h HubStatusHandler)  { in.onHubStatus = h }

// Wire registers the ingestor against every channel the Transport
// Adapter classifies inbound frames into (§4.B/§4.D contract table).
func (in *Ingestor) Wire(bus *mqttbus.Bus) {
	bus.On(mqttbus.ChanDeviceState, in.handleDeviceState)
	bus.On(mqttbus.ChanZBState, in.handleZBState)
	bus.On(mqttbus.ChanDeviceStatus, in.handleDeviceStatus)
	bus.On(mqttbus.ChanHubCmdResult, in.handleHubCmdResult)
	bus.On(mqttbus.ChanHubStatus, in.handleHubStatus)
	bus.On(mqttbus.ChanDeviceAck, in.handleDeviceAck)
	bus.On(mqttbus.ChanZBCmdResult, in.handleZBCmdResult)
	bus.On(mqttbus.ChanDeviceState, in.handleDeviceEventPassthrough)
	bus.On(mqttbus.ChanZBEvent, in.handleZBEvent)
	bus.On(mqttbus.ChanZBDiscovered, in.handleZBDiscovered)
}

// handleDeviceEventPassthrough is a no-op placeholder kept out of the
// public surface: device "event" frames share no dedicated topic in
// §6.1 (only zb/event exists). MQTT-plane state frames are handled as
// state only; a `type` field in them is ignored and no DeviceEvent row
// is created for the MQTT plane.
func (in *Ingestor) handleDeviceEventPassthrough(mqttbus.ParsedTopic, []byte) {}

func (in *Ingestor) handleDeviceState(pt mqttbus.ParsedTopic, payload []byte) {
	var f stateFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		slog.Warn("malformed device state frame", "topic", pt.DeviceID, "error", err)
		return
	}
	in.applyState(context.Background(), pt.HomeID, pt.DeviceID, "", f.TS, f.State)
}

func (in *Ingestor) handleZBState(pt mqttbus.ParsedTopic, payload []byte) {
	var f stateFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		slog.Warn("malformed zb state frame", "ieee", pt.IEEE, "error", err)
		return
	}
	in.applyState(context.Background(), "", "", pt.IEEE, f.TS, f.State)
}

// applyState implements the §4.D state contract: update
// DeviceStateCurrent iff ts > stored.lastSeenTs, always append to
// history, serialized per-device via the keyed mutex (§5).
func (in *Ingestor) applyState(ctx context.Context, homeIDStr, wireDeviceID, ieee string, ts int64, stateJSON []byte) {
	dev, homeID, err := in.resolveDevice(ctx, homeIDStr, wireDeviceID, ieee)
	if err != nil {
		slog.Warn("state frame for unknown device", "device_id", wireDeviceID, "ieee", ieee, "error", err)
		return
	}

	unlock := in.locks.Lock(dev.ID)
	defer unlock()

	applied, err := in.repo.UpsertDeviceState(ctx, dev.ID, ts, true, stateJSON)
	if err != nil {
		slog.Warn("upsert device state failed", "device_id", dev.ID, "error", err)
		return
	}
	if err := in.repo.AppendDeviceStateHistory(ctx, dev.ID, ts, true, stateJSON); err != nil {
		slog.Warn("append device state history failed", "device_id", dev.ID, "error", err)
	}
	if applied && in.cache != nil {
		_ = in.cache.Set(ctx, dev.DeviceID, stateJSON)
	}
	if in.presence != nil {
		if err := in.presence.HandleDeviceStateFreshness(ctx, homeID, dev.ID, ts); err != nil {
			slog.Warn("presence update from state frame failed", "device_id", dev.ID, "error", err)
		}
	}
	if !applied {
		// Stale relative to current snapshot (retained replay or
		// out-of-order delivery); still recorded to history above for
		// forensics, per §4.J.
		return
	}
	in.hub.Publish(homeID, fanout.Event{
		Type:     fanout.EventDeviceStateUpdated,
		DeviceID: dev.ID,
		Data:     map[string]any{"device_id": dev.DeviceID, "state": json.RawMessage(stateJSON), "last_seen": ts},
	})
}

func (in *Ingestor) handleDeviceStatus(pt mqttbus.ParsedTopic, payload []byte) {
	var f statusFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		slog.Warn("malformed device status frame", "device_id", pt.DeviceID, "error", err)
		return
	}
	ctx := context.Background()
	dev, err := in.repo.GetDeviceByDeviceID(ctx, pt.DeviceID)
	if err != nil {
		slog.Warn("status frame for unknown device", "device_id", pt.DeviceID, "error", err)
		return
	}
	unlock := in.locks.Lock(dev.ID)
	defer unlock()
	if err := in.presence.HandleDeviceStatus(ctx, dev.HomeID, dev.ID, f.Online, f.TS); err != nil {
		slog.Warn("presence update failed", "device_id", dev.ID, "error", err)
	}
}

func (in *Ingestor) handleHubStatus(pt mqttbus.ParsedTopic, payload []byte) {
	var f statusFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		slog.Warn("malformed hub status frame", "hub_id", pt.HubID, "error", err)
		return
	}
	ctx := context.Background()
	if err := in.presence.HandleHubStatus(ctx, pt.HubID, f.Online); err != nil {
		slog.Warn("hub presence update failed", "hub_id", pt.HubID, "error", err)
	}
	if f.FWVersion == "" {
		return
	}
	if err := in.repo.SetHubFirmwareVersion(ctx, pt.HubID, f.FWVersion); err != nil {
		slog.Warn("hub firmware version update failed", "hub_id", pt.HubID, "error", err)
	}
	if in.onHubStatus != nil {
		in.onHubStatus(ctx, pt.HubID, f.FWVersion)
	}
}

func (in *Ingestor) handleDeviceAck(pt mqttbus.ParsedTopic, payload []byte) {
	var f ackFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		slog.Warn("malformed ack frame", "device_id", pt.DeviceID, "error", err)
		return
	}
	ctx := context.Background()
	dev, err := in.repo.GetDeviceByDeviceID(ctx, pt.DeviceID)
	if err != nil {
		slog.Warn("ack for unknown device", "device_id", pt.DeviceID, "error", err)
		return
	}
	if in.onAck != nil {
		in.onAck(ctx, dev.ID, f.CmdID, f.OK, f.Error)
	}
}

func (in *Ingestor) handleZBCmdResult(pt mqttbus.ParsedTopic, payload []byte) {
	var f ackFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		slog.Warn("malformed cmd_result frame", "ieee", pt.IEEE, "error", err)
		return
	}
	ctx := context.Background()
	dev, err := in.repo.GetDeviceByIEEE(ctx, pt.IEEE)
	if err != nil {
		slog.Warn("cmd_result for unknown device", "ieee", pt.IEEE, "error", err)
		return
	}
	if in.onAck != nil {
		in.onAck(ctx, dev.ID, f.CmdID, f.OK, f.Error)
	}
}

func (in *Ingestor) handleHubCmdResult(pt mqttbus.ParsedTopic, payload []byte) {
	var f ackFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		slog.Warn("malformed hub cmd_result frame", "hub_id", pt.HubID, "error", err)
		return
	}
	if in.onHubAck != nil {
		in.onHubAck(context.Background(), pt.HubID, f.CmdID, f.OK, f.Result, f.Error)
	}
}

func (in *Ingestor) handleZBEvent(pt mqttbus.ParsedTopic, payload []byte) {
	var f eventFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		slog.Warn("malformed zb event frame", "ieee", pt.IEEE, "error", err)
		return
	}
	ctx := context.Background()
	dev, err := in.repo.GetDeviceByIEEE(ctx, pt.IEEE)
	if err != nil {
		slog.Warn("event for unknown device", "ieee", pt.IEEE, "error", err)
		return
	}
	evt, err := in.repo.AppendDeviceEvent(ctx, dev.HomeID, dev.ID, f.Type, f.Data, f.TS)
	if err != nil {
		slog.Warn("append device event failed", "device_id", dev.ID, "error", err)
		return
	}
	in.hub.Publish(dev.HomeID, fanout.Event{
		ID:       evt.HomeSeq,
		Type:     fanout.EventDeviceEventCreated,
		DeviceID: dev.ID,
		Data:     map[string]any{"id": evt.ID, "type": evt.Type, "data": json.RawMessage(evt.Data), "source_at": evt.SourceAt},
	})
}

func (in *Ingestor) handleZBDiscovered(pt mqttbus.ParsedTopic, payload []byte) {
	var f discoveredFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		slog.Warn("malformed discovered frame", "hub_id", pt.HubID, "error", err)
		return
	}
	ctx := context.Background()
	d := &store.ZigbeeDiscoveredDevice{
		HubID:            pt.HubID,
		IEEE:             f.IEEE,
		ShortAddr:        f.ShortAddr,
		Manufacturer:     f.Manufacturer,
		Model:            f.Model,
		SWBuildID:        f.SWBuildID,
		SuggestedModelID: f.SuggestedModelID,
		Status:           store.DiscoveredPending,
	}
	if err := in.repo.UpsertDiscovered(ctx, d); err != nil {
		slog.Warn("upsert discovered device failed", "hub_id", pt.HubID, "ieee", f.IEEE, "error", err)
		return
	}
	if in.onDiscovered != nil {
		in.onDiscovered(ctx, d)
	}
}

// resolveDevice maps a wire address (homeId+deviceId for MQTT,
// ieee for Zigbee) to the live Device row.
func (in *Ingestor) resolveDevice(ctx context.Context, homeIDStr, wireDeviceID, ieee string) (*store.Device, uint64, error) {
	var dev *store.Device
	var err error
	if ieee != "" {
		dev, err = in.repo.GetDeviceByIEEE(ctx, ieee)
	} else {
		dev, err = in.repo.GetDeviceByDeviceID(ctx, wireDeviceID)
	}
	if err != nil {
		return nil, 0, err
	}
	return dev, dev.HomeID, nil
}
