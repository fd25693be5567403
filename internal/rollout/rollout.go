// Package rollout is the Rollout Engine (§4.G): per-rollout firmware
// install state machine driven off hub ACKs and Hub.firmwareVersion
// status reports. Grounded on automation-service/internal/engine's
// run reconcile loop, generalized from per-run targets to per-hub
// rollout targets and given its own exponential backoff retry
// (mqttbus.FullJitterBackoff), matching the core's worker layout.
package rollout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
	"github.com/PetoAdam/homenavi/corebroker/internal/mqttbus"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

const (
	defaultMaxAttempts = 3
	ackDeadline         = 30 * time.Second
	applyGracePeriod    = 10 * time.Second
)

type Engine struct {
	repo        *store.Repo
	bus         *mqttbus.Client
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration

	mu     sync.Mutex
	paused map[uint64]bool
	stable map[string]time.Time // hubID -> when firmwareVersion first matched target, for the grace period
}

func New(repo *store.Repo, bus *mqttbus.Client, maxAttempts int, backoffMin, backoffMax time.Duration) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Engine{
		repo: repo, bus: bus,
		maxAttempts: maxAttempts, backoffMin: backoffMin, backoffMax: backoffMax,
		paused: make(map[uint64]bool), stable: make(map[string]time.Time),
	}
}

// Start transitions CREATED -> RUNNING and enqueues an install command
// for every target still in CREATED.
func (e *Engine) Start(ctx context.Context, rolloutID uint64) error {
	ro, err := e.repo.GetRollout(ctx, rolloutID)
	if err != nil {
		return apierr.NotFoundErr("rollout not found")
	}
	if ro.Status != store.RolloutCreated && ro.Status != store.RolloutPaused {
		return apierr.ConflictErr("rollout is not startable from its current status")
	}

	e.mu.Lock()
	delete(e.paused, rolloutID)
	e.mu.Unlock()

	if err := e.repo.SetRolloutStatus(ctx, rolloutID, store.RolloutRunning); err != nil {
		return apierr.InternalErr("failed to start rollout", err)
	}

	rel, err := e.release(ctx, ro.ReleaseID)
	if err != nil {
		return err
	}
	targets, err := e.repo.ListRolloutTargets(ctx, rolloutID)
	if err != nil {
		return apierr.InternalErr("failed to list rollout targets", err)
	}
	for _, t := range targets {
		if t.State == store.TargetCreated {
			e.dispatchInstall(ctx, rolloutID, t, rel)
		}
	}
	return nil
}

// Pause halts new dispatch; in-flight commands are allowed to finish.
func (e *Engine) Pause(ctx context.Context, rolloutID uint64) error {
	e.mu.Lock()
	e.paused[rolloutID] = true
	e.mu.Unlock()
	return e.repo.SetRolloutStatus(ctx, rolloutID, store.RolloutPaused)
}

func (e *Engine) isPaused(rolloutID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused[rolloutID]
}

func (e *Engine) release(ctx context.Context, releaseID uint64) (*store.FirmwareRelease, error) {
	rels, err := e.repo.ListFirmwareReleases(ctx)
	if err != nil {
		return nil, apierr.InternalErr("failed to load firmware release", err)
	}
	for i := range rels {
		if rels[i].ID == releaseID {
			return &rels[i], nil
		}
	}
	return nil, apierr.NotFoundErr("firmware release not found")
}

// dispatchInstall publishes a firmware_install command to t's hub,
// unless the hub is currently offline — an offline target stays
// CREATED without consuming an attempt until HandleHubReconnected
// redispatches it (§4.G: retries are for failed applies, not for a
// hub that was never there to receive the command).
func (e *Engine) dispatchInstall(ctx context.Context, rolloutID uint64, t store.RolloutTarget, rel *store.FirmwareRelease) {
	hub, err := e.repo.GetHub(ctx, t.HubID)
	if err != nil {
		slog.Warn("rollout: hub lookup failed", "rollout_id", rolloutID, "hub_id", t.HubID, "error", err)
		return
	}
	if !hub.Online {
		t.State = store.TargetCreated
		t.LastMsg = "awaiting hub reconnect"
		if err := e.repo.UpsertRolloutTarget(ctx, &t); err != nil {
			slog.Warn("rollout: failed to persist awaiting-reconnect target", "rollout_id", rolloutID, "hub_id", t.HubID, "error", err)
		}
		return
	}

	cmdID := fmt.Sprintf("rollout-%d-%s-%d", rolloutID, t.HubID, t.Attempt+1)
	body, _ := json.Marshal(struct {
		CmdID  string `json:"cmdId"`
		TS     int64  `json:"ts"`
		Action string `json:"action"`
		Args   struct {
			URL     string `json:"url"`
			SHA256  string `json:"sha256"`
			Version string `json:"version"`
		} `json:"args"`
	}{
		CmdID:  cmdID,
		TS:     time.Now().UnixMilli(),
		Action: "firmware_install",
		Args: struct {
			URL     string `json:"url"`
			SHA256  string `json:"sha256"`
			Version string `json:"version"`
		}{URL: rel.URL, SHA256: rel.SHA256, Version: rel.Version},
	})

	now := time.Now().UTC()
	t.State = store.TargetCreated
	t.Attempt++
	t.CmdID = cmdID
	t.SentAt = &now
	if err := e.repo.UpsertRolloutTarget(ctx, &t); err != nil {
		slog.Warn("rollout: failed to persist target dispatch", "rollout_id", rolloutID, "hub_id", t.HubID, "error", err)
		return
	}
	if err := e.bus.Publish(mqttbus.HubSetTopic(t.HubID), mqttbus.QoSCommand, false, body).Wait(5 * time.Second); err != nil {
		slog.Warn("rollout: publish failed", "rollout_id", rolloutID, "hub_id", t.HubID, "error", err)
	}

	go e.armAckDeadline(rolloutID, t.HubID, cmdID)
}

func (e *Engine) armAckDeadline(rolloutID uint64, hubID, cmdID string) {
	time.Sleep(ackDeadline)
	ctx := context.Background()
	targets, err := e.repo.ListRolloutTargets(ctx, rolloutID)
	if err != nil {
		return
	}
	for _, t := range targets {
		if t.HubID == hubID && t.CmdID == cmdID && t.State == store.TargetCreated {
			e.failOrRetry(ctx, rolloutID, t, "ack timeout")
			return
		}
	}
}

// HandleHubAck is wired as telemetry.HubAckHandler: an ACK of the
// install command moves CREATED -> DOWNLOADING; a negative ACK fails
// or retries per the attempt budget.
func (e *Engine) HandleHubAck(ctx context.Context, hubID, cmdID string, ok bool, _ json.RawMessage, errMsg string) {
	rolloutID, targets, target, found := e.findTargetByCmdID(ctx, hubID, cmdID)
	if !found {
		return
	}
	if !ok {
		e.failOrRetry(ctx, rolloutID, target, errMsg)
		return
	}
	if target.State != store.TargetCreated {
		return
	}
	target.State = store.TargetDownloading
	if err := e.repo.UpsertRolloutTarget(ctx, &target); err != nil {
		slog.Warn("rollout: failed to persist ack transition", "hub_id", hubID, "error", err)
		return
	}
	e.emitDerivedStatus(ctx, rolloutID, targets)
}

// HandleHubStatusReport is driven by the Hub's versioned status
// messages (§4.G step 2): DOWNLOADING -> APPLYING -> SUCCESS as
// fwVersion converges on the target release version and stays stable
// for a grace period.
func (e *Engine) HandleHubStatusReport(ctx context.Context, hubID, reportedVersion string) {
	rolloutID, targets, target, found := e.findTargetByHub(ctx, hubID)
	if !found || target.State == store.TargetSuccess || target.State == store.TargetFailed {
		return
	}
	rel, err := e.releaseForRollout(ctx, rolloutID)
	if err != nil {
		return
	}
	if reportedVersion != rel.Version {
		e.mu.Lock()
		delete(e.stable, hubID)
		e.mu.Unlock()
		if target.State == store.TargetDownloading {
			target.State = store.TargetApplying
			_ = e.repo.UpsertRolloutTarget(ctx, &target)
		}
		return
	}

	e.mu.Lock()
	first, seen := e.stable[hubID]
	if !seen {
		e.stable[hubID] = time.Now()
		e.mu.Unlock()
		return
	}
	stableFor := time.Since(first)
	e.mu.Unlock()

	if stableFor < applyGracePeriod {
		return
	}
	target.State = store.TargetSuccess
	if err := e.repo.UpsertRolloutTarget(ctx, &target); err != nil {
		slog.Warn("rollout: failed to seal success", "hub_id", hubID, "error", err)
		return
	}
	e.emitDerivedStatus(ctx, rolloutID, targets)
}

// HandleHubReconnected is wired as presence.Tracker's online-transition
// hook: it redispatches every CREATED target waiting on hubID across
// all RUNNING rollouts, the counterpart to dispatchInstall's offline
// gate.
func (e *Engine) HandleHubReconnected(ctx context.Context, hubID string) {
	rollouts, err := e.repo.ListRollouts(ctx)
	if err != nil {
		slog.Warn("rollout: hub reconnect listing failed", "hub_id", hubID, "error", err)
		return
	}
	for _, ro := range rollouts {
		if ro.Status != store.RolloutRunning || e.isPaused(ro.ID) {
			continue
		}
		targets, err := e.repo.ListRolloutTargets(ctx, ro.ID)
		if err != nil {
			continue
		}
		for _, t := range targets {
			if t.HubID != hubID || t.State != store.TargetCreated {
				continue
			}
			rel, err := e.release(ctx, ro.ReleaseID)
			if err != nil {
				continue
			}
			e.dispatchInstall(ctx, ro.ID, t, rel)
		}
	}
}

func (e *Engine) failOrRetry(ctx context.Context, rolloutID uint64, t store.RolloutTarget, msg string) {
	t.LastMsg = msg
	if t.Attempt >= e.maxAttempts || e.isPaused(rolloutID) {
		t.State = store.TargetFailed
		if err := e.repo.UpsertRolloutTarget(ctx, &t); err != nil {
			slog.Warn("rollout: failed to seal failure", "hub_id", t.HubID, "error", err)
		}
		targets, _ := e.repo.ListRolloutTargets(ctx, rolloutID)
		e.emitDerivedStatus(ctx, rolloutID, targets)
		return
	}

	delay := mqttbus.FullJitterBackoff(t.Attempt, e.backoffMin, e.backoffMax)
	go func() {
		time.Sleep(delay)
		if e.isPaused(rolloutID) {
			return
		}
		rel, err := e.releaseForRollout(context.Background(), rolloutID)
		if err != nil {
			return
		}
		e.dispatchInstall(context.Background(), rolloutID, t, rel)
	}()
}

func (e *Engine) releaseForRollout(ctx context.Context, rolloutID uint64) (*store.FirmwareRelease, error) {
	ro, err := e.repo.GetRollout(ctx, rolloutID)
	if err != nil {
		return nil, err
	}
	return e.release(ctx, ro.ReleaseID)
}

func (e *Engine) findTargetByCmdID(ctx context.Context, hubID, cmdID string) (rolloutID uint64, all []store.RolloutTarget, match store.RolloutTarget, found bool) {
	rollouts, err := e.repo.ListRollouts(ctx)
	if err != nil {
		return 0, nil, store.RolloutTarget{}, false
	}
	for _, ro := range rollouts {
		targets, err := e.repo.ListRolloutTargets(ctx, ro.ID)
		if err != nil {
			continue
		}
		for _, t := range targets {
			if t.HubID == hubID && t.CmdID == cmdID {
				return ro.ID, targets, t, true
			}
		}
	}
	return 0, nil, store.RolloutTarget{}, false
}

func (e *Engine) findTargetByHub(ctx context.Context, hubID string) (rolloutID uint64, all []store.RolloutTarget, match store.RolloutTarget, found bool) {
	rollouts, err := e.repo.ListRollouts(ctx)
	if err != nil {
		return 0, nil, store.RolloutTarget{}, false
	}
	for _, ro := range rollouts {
		if ro.Status != store.RolloutRunning {
			continue
		}
		targets, err := e.repo.ListRolloutTargets(ctx, ro.ID)
		if err != nil {
			continue
		}
		for _, t := range targets {
			if t.HubID == hubID {
				return ro.ID, targets, t, true
			}
		}
	}
	return 0, nil, store.RolloutTarget{}, false
}

// emitDerivedStatus implements §4.G step 5: rollout status is derived
// from its targets' states, not stored as independent truth.
func (e *Engine) emitDerivedStatus(ctx context.Context, rolloutID uint64, targets []store.RolloutTarget) {
	fresh, err := e.repo.ListRolloutTargets(ctx, rolloutID)
	if err == nil {
		targets = fresh
	}
	status := DeriveStatus(targets, e.isPaused(rolloutID))
	if err := e.repo.SetRolloutStatus(ctx, rolloutID, status); err != nil {
		slog.Warn("rollout: failed to persist derived status", "rollout_id", rolloutID, "error", err)
		return
	}
	slog.Info("rollout status derived", "rollout_id", rolloutID, "status", status)
}

// DeriveStatus is the pure §4.G step 5 function, split out for unit
// testing without a database.
func DeriveStatus(targets []store.RolloutTarget, paused bool) string {
	if len(targets) == 0 {
		return store.RolloutRunning
	}
	allSuccess := true
	anyInFlight := false
	anyFailed := false
	for _, t := range targets {
		switch t.State {
		case store.TargetSuccess:
		case store.TargetFailed:
			allSuccess = false
			anyFailed = true
		default:
			allSuccess = false
			anyInFlight = true
		}
	}
	switch {
	case allSuccess:
		return store.RolloutSuccess
	case anyFailed && !anyInFlight:
		return store.RolloutFailed
	case paused:
		return store.RolloutPaused
	default:
		return store.RolloutRunning
	}
}
