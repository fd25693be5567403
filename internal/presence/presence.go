// Package presence is the Presence Tracker (§4.C): derives
// online/offline for Devices and Hubs from retained-status messages
// and time-since-last-seen, emitting presence-change events only on
// transitions. Grounded on zigbee-adapter/internal/store/repo.go's
// TouchOnline/SetOfflineOlderThan pair, generalized into a standalone
// state machine with its own sweeper.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/PetoAdam/homenavi/corebroker/internal/fanout"
	"github.com/PetoAdam/homenavi/corebroker/internal/observability"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

// HubOnlineHandler is invoked on a Hub's offline->online transition,
// after the new state is durable; wired by components that need to
// re-attempt dispatch on reconnect (§4.G, §4.H) rather than wait on
// the periodic reconciler/cron backstops.
type HubOnlineHandler func(ctx context.Context, hubID string)

type Tracker struct {
	repo               *store.Repo
	hub                *fanout.Hub
	deviceOfflineAfter time.Duration
	hubOfflineAfter    time.Duration

	onHubOnline HubOnlineHandler
}

func New(repo *store.Repo, hub *fanout.Hub, deviceOfflineAfter, hubOfflineAfter time.Duration) *Tracker {
	return &Tracker{repo: repo, hub: hub, deviceOfflineAfter: deviceOfflineAfter, hubOfflineAfter: hubOfflineAfter}
}

// OnHubOnline registers the single handler invoked whenever
// HandleHubStatus observes a Hub transition to online.
func (t *Tracker) OnHubOnline(h HubOnlineHandler) { t.onHubOnline = h }

// HandleDeviceStatus applies a status_msg(online, ts) input as a pure
// online/offline flip: the latest frame to arrive wins. Neither this
// method nor its caller (Telemetry Ingestor) compares ts with earlier
// status frames, so a retained online replay that arrives after a
// later-timestamped offline still flips the device online.
func (t *Tracker) HandleDeviceStatus(ctx context.Context, homeID, deviceID uint64, online bool, ts int64) error {
	changed, err := t.repo.TouchDeviceOnline(ctx, deviceID, online, ts)
	if err != nil {
		return err
	}
	if changed {
		t.emitDeviceStatusChanged(homeID, deviceID, online, ts)
	}
	return nil
}

// HandleDeviceStateFreshness marks a device online on any state
// message — a state frame is itself evidence of liveness even without
// an explicit status frame. The frame's ts is not checked against a
// freshness window, so a stale or replayed state frame also counts.
func (t *Tracker) HandleDeviceStateFreshness(ctx context.Context, homeID, deviceID uint64, ts int64) error {
	changed, err := t.repo.TouchDeviceOnline(ctx, deviceID, true, ts)
	if err != nil {
		return err
	}
	if changed {
		t.emitDeviceStatusChanged(homeID, deviceID, true, ts)
	}
	return nil
}

func (t *Tracker) HandleHubStatus(ctx context.Context, hubID string, online bool) error {
	changed, err := t.repo.TouchHubOnline(ctx, hubID, online, time.Now().UTC())
	if err != nil {
		return err
	}
	if changed {
		hub, err := t.repo.GetHub(ctx, hubID)
		if err == nil {
			t.hub.Publish(hub.HomeID, fanout.Event{
				Type: "hub_status_changed",
				Data: map[string]any{"hub_id": hubID, "online": online},
			})
		}
		if online && t.onHubOnline != nil {
			t.onHubOnline(ctx, hubID)
		}
	}
	return nil
}

func (t *Tracker) emitDeviceStatusChanged(homeID, deviceID uint64, online bool, lastSeenTS int64) {
	t.hub.Publish(homeID, fanout.Event{
		Type:     fanout.EventDeviceStatusChanged,
		DeviceID: deviceID,
		Data:     map[string]any{"device_id": deviceID, "online": online, "last_seen": lastSeenTS},
	})
}

// Sweep is run periodically by the presence sweeper worker (§5) to
// flip devices/hubs silent for longer than the offline window, since
// absence of traffic (not just an explicit offline status) also means
// offline per §4.C.
func (t *Tracker) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	devIDs, err := t.repo.SetDevicesOfflineOlderThan(ctx, now.Add(-t.deviceOfflineAfter))
	if err != nil {
		slog.Warn("presence sweep: devices", "error", err)
	}
	for _, id := range devIDs {
		if dev, err := t.repo.GetDeviceByID(ctx, id); err == nil {
			t.emitDeviceStatusChanged(dev.HomeID, id, false, now.UnixMilli())
		}
	}

	hubIDs, err := t.repo.SetHubsOfflineOlderThan(ctx, now.Add(-t.hubOfflineAfter))
	if err != nil {
		slog.Warn("presence sweep: hubs", "error", err)
	}
	for _, hubID := range hubIDs {
		if hub, err := t.repo.GetHub(ctx, hubID); err == nil {
			t.hub.Publish(hub.HomeID, fanout.Event{
				Type: "hub_status_changed",
				Data: map[string]any{"hub_id": hubID, "online": false},
			})
		}
	}

	if n, err := t.repo.CountOnlineDevices(ctx); err == nil {
		observability.SetOnlineCount("device", n)
	}
	if n, err := t.repo.CountOnlineHubs(ctx); err == nil {
		observability.SetOnlineCount("hub", n)
	}
}

// Run starts the periodic sweeper; it stops when ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}
