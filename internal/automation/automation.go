// Package automation is the Automation Deployment Controller (§4.H):
// reconciles each (hubId, homeId) pair's appliedVersion to the home's
// desiredVersion (the max AutomationRule.version) by pushing a
// rules_sync command and tracking convergence off the hub's ACK.
// Grounded on automation-service/internal/engine's rule-bundle
// dispatch, adapted from per-run execution to per-hub convergence
// tracking with the rollout.Engine's backoff/ack-deadline shape.
package automation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/PetoAdam/homenavi/corebroker/internal/mqttbus"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

const ackDeadline = 15 * time.Second

type ackResult struct {
	AppliedVersion int64 `json:"applied_version"`
}

type Controller struct {
	repo       *store.Repo
	bus        *mqttbus.Client
	backoffMin time.Duration
	backoffMax time.Duration
}

func New(repo *store.Repo, bus *mqttbus.Client, backoffMin, backoffMax time.Duration) *Controller {
	return &Controller{repo: repo, bus: bus, backoffMin: backoffMin, backoffMax: backoffMax}
}

// ReconcileHome implements §4.H steps 1-2 for every hub in a home;
// called on rule create/update/delete/enable/disable and by the
// periodic automation reconciler worker (§5).
func (c *Controller) ReconcileHome(ctx context.Context, homeID uint64) {
	desired, err := c.repo.HomeDesiredVersion(ctx, homeID)
	if err != nil {
		slog.Warn("automation: desired version lookup failed", "home_id", homeID, "error", err)
		return
	}
	hubs, err := c.repo.ListHubsForHome(ctx, homeID)
	if err != nil {
		slog.Warn("automation: hub listing failed", "home_id", homeID, "error", err)
		return
	}
	for _, h := range hubs {
		c.reconcileHub(ctx, h, desired)
	}
}

// ReconcileHub is wired as presence.Tracker's online-transition hook
// (§4.H step 4: "always re-attempt" regardless of current deployment
// status) and is also the retry target of this package's own
// ack-timeout/negative-ack backoff paths.
func (c *Controller) ReconcileHub(ctx context.Context, hubID string) {
	hub, err := c.repo.GetHub(ctx, hubID)
	if err != nil {
		return
	}
	desired, err := c.repo.HomeDesiredVersion(ctx, hub.HomeID)
	if err != nil {
		return
	}
	c.reconcileHub(ctx, *hub, desired)
}

func (c *Controller) reconcileHub(ctx context.Context, hub store.Hub, desired int64) {
	dep, err := c.repo.GetAutomationDeployment(ctx, hub.HubID, hub.HomeID)
	if err != nil {
		slog.Warn("automation: deployment lookup failed", "hub_id", hub.HubID, "error", err)
		return
	}
	if desired == dep.AppliedVersion && dep.Status == store.DeploymentApplied {
		return
	}
	if !hub.Online {
		dep.DesiredVersion = desired
		dep.Status = store.DeploymentSyncing
		dep.LastMsg = "awaiting hub reconnect"
		_ = c.repo.UpsertAutomationDeployment(ctx, dep)
		return
	}
	c.dispatchSync(ctx, hub, dep, desired)
}

func (c *Controller) dispatchSync(ctx context.Context, hub store.Hub, dep *store.AutomationDeployment, desired int64) {
	rules, err := c.repo.ListAutomationRules(ctx, hub.HomeID)
	if err != nil {
		slog.Warn("automation: rule listing failed", "home_id", hub.HomeID, "error", err)
		return
	}
	enabled := filterEnabled(rules)

	cmdID := "autosync-" + hub.HubID + "-" + time.Now().UTC().Format("20060102T150405.000000000")
	body, err := json.Marshal(struct {
		CmdID  string                `json:"cmdId"`
		TS     int64                 `json:"ts"`
		Action string                `json:"action"`
		Args   struct {
			Version int64                   `json:"version"`
			Rules   []store.AutomationRule `json:"rules"`
		} `json:"args"`
	}{
		CmdID:  cmdID,
		TS:     time.Now().UnixMilli(),
		Action: "rules_sync",
		Args: struct {
			Version int64                   `json:"version"`
			Rules   []store.AutomationRule `json:"rules"`
		}{Version: desired, Rules: enabled},
	})
	if err != nil {
		slog.Warn("automation: rule bundle marshal failed", "hub_id", hub.HubID, "error", err)
		return
	}

	dep.DesiredVersion = desired
	dep.Status = store.DeploymentSyncing
	dep.LastMsg = ""
	if err := c.repo.UpsertAutomationDeployment(ctx, dep); err != nil {
		slog.Warn("automation: failed to persist syncing state", "hub_id", hub.HubID, "error", err)
		return
	}

	if err := c.bus.Publish(mqttbus.HubSetTopic(hub.HubID), mqttbus.QoSCommand, false, body).Wait(5 * time.Second); err != nil {
		slog.Warn("automation: publish failed", "hub_id", hub.HubID, "error", err)
	}

	go c.armAckDeadline(hub.HubID, hub.HomeID, desired)
}

func filterEnabled(rules []store.AutomationRule) []store.AutomationRule {
	out := make([]store.AutomationRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

func (c *Controller) armAckDeadline(hubID string, homeID uint64, desired int64) {
	time.Sleep(ackDeadline)
	ctx := context.Background()
	dep, err := c.repo.GetAutomationDeployment(ctx, hubID, homeID)
	if err != nil || dep.Status != store.DeploymentSyncing || dep.DesiredVersion != desired {
		return
	}
	dep.Status = store.DeploymentFailed
	dep.LastMsg = "ack timeout"
	if err := c.repo.UpsertAutomationDeployment(ctx, dep); err != nil {
		slog.Warn("automation: failed to persist timeout", "hub_id", hubID, "error", err)
		return
	}
	delay := mqttbus.FullJitterBackoff(0, c.backoffMin, c.backoffMax)
	go func() {
		time.Sleep(delay)
		c.ReconcileHub(context.Background(), hubID)
	}()
}

// HandleHubAck is wired as telemetry.HubAckHandler: on ACK, the hub
// reports its own applied_version, which becomes authoritative
// (§4.H step 3).
func (c *Controller) HandleHubAck(ctx context.Context, hubID, cmdID string, ok bool, result json.RawMessage, errMsg string) {
	hub, err := c.repo.GetHub(ctx, hubID)
	if err != nil {
		return
	}
	dep, err := c.repo.GetAutomationDeployment(ctx, hubID, hub.HomeID)
	if err != nil || dep.Status != store.DeploymentSyncing {
		return
	}

	if !ok {
		dep.Status = store.DeploymentFailed
		dep.LastMsg = errMsg
		if err := c.repo.UpsertAutomationDeployment(ctx, dep); err != nil {
			slog.Warn("automation: failed to persist ack failure", "hub_id", hubID, "error", err)
			return
		}
		delay := mqttbus.FullJitterBackoff(0, c.backoffMin, c.backoffMax)
		go func() {
			time.Sleep(delay)
			c.ReconcileHub(context.Background(), hubID)
		}()
		return
	}

	var r ackResult
	if err := json.Unmarshal(result, &r); err != nil {
		slog.Warn("automation: malformed ack result, assuming desired applied", "hub_id", hubID, "error", err)
		r.AppliedVersion = dep.DesiredVersion
	}
	dep.AppliedVersion = r.AppliedVersion
	if dep.AppliedVersion == dep.DesiredVersion {
		dep.Status = store.DeploymentApplied
	} else {
		dep.Status = store.DeploymentSyncing
	}
	if err := c.repo.UpsertAutomationDeployment(ctx, dep); err != nil {
		slog.Warn("automation: failed to persist ack success", "hub_id", hubID, "error", err)
	}
}
