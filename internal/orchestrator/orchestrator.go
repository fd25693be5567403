// Package orchestrator is the Command Orchestrator (§4.E), the core
// submit/ack/deadline state machine: PENDING -> ACKED/FAILED/TIMEOUT.
// Grounded on automation-service/internal/engine/engine.go's run
// lifecycle state machine and device-hub/internal/httpapi/server.go's
// command submission handler, generalized to both the MQTT and Zigbee
// wire planes and given its own deadline scheduler (a min-heap keyed
// by (deadline, cmdId), per the core's worker layout).
package orchestrator

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
	"github.com/PetoAdam/homenavi/corebroker/internal/fanout"
	"github.com/PetoAdam/homenavi/corebroker/internal/mqttbus"
	"github.com/PetoAdam/homenavi/corebroker/internal/observability"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

// Input is either a raw MQTT-plane payload or a Zigbee action/params
// pair; exactly one of the two forms should be populated by the
// caller depending on the target device's protocol.
type Input struct {
	Payload json.RawMessage // MQTT plane
	Action  string          // Zigbee plane
	Args    json.RawMessage // Zigbee plane
}

// offlineAllowed names commands that may be submitted while the target
// is offline (§4.E step 1's factory-reset example). Such a command is
// published at once and gets the normal deadline like any other; it is
// not held back until the target reconnects, and no separate TTL
// applies to it.
var offlineAllowed = map[string]bool{
	"factory_reset": true,
}

type pendingDeadline struct {
	deadline time.Time
	deviceID uint64
	cmdID    string
	index    int
}

type deadlineHeap []*pendingDeadline

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].cmdID < h[j].cmdID
}
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *deadlineHeap) Push(x any) {
	pd := x.(*pendingDeadline)
	pd.index = len(*h)
	*h = append(*h, pd)
}
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	pd := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return pd
}

type Orchestrator struct {
	repo    *store.Repo
	bus     *mqttbus.Client
	hub     *fanout.Hub
	deadline time.Duration

	mu   sync.Mutex
	heap deadlineHeap
	wake chan struct{}
}

func New(repo *store.Repo, bus *mqttbus.Client, hub *fanout.Hub, deadline time.Duration) *Orchestrator {
	if deadline <= 0 {
		deadline = 8 * time.Second
	}
	return &Orchestrator{repo: repo, bus: bus, hub: hub, deadline: deadline, wake: make(chan struct{}, 1)}
}

// Submit implements submitCommand: validates device state, persists
// the PENDING row, publishes to the right wire plane, and arms the
// deadline. The publish happens before it returns (it waits for the
// broker's PUBACK, up to a bounded timeout); only the device ACK
// arrives asynchronously.
func (o *Orchestrator) Submit(ctx context.Context, deviceDBID uint64, action string, in Input) (*store.Command, error) {
	dev, err := o.repo.GetDeviceByID(ctx, deviceDBID)
	if err != nil {
		return nil, apierr.NotFoundErr("device not found")
	}
	if dev.LifecycleStatus != store.LifecycleBound && dev.LifecycleStatus != store.LifecycleActive {
		return nil, apierr.PreconditionFailedErr("device is not bound/active")
	}

	online, err := o.isOnline(ctx, dev)
	if err != nil {
		return nil, apierr.InternalErr("presence lookup failed", err)
	}
	if !online && !offlineAllowed[action] {
		return nil, apierr.PreconditionFailedErr("device offline and command is not offline-allowed")
	}

	cmdID := uuid.NewString()
	payload, err := wirePayload(dev, action, in)
	if err != nil {
		return nil, apierr.Wrap(apierr.ValidationError, "invalid command payload", err)
	}

	cmd, err := o.repo.CreateCommand(ctx, deviceDBID, cmdID, action, payload, time.Now().UTC())
	if err != nil {
		return nil, apierr.InternalErr("failed to persist command", err)
	}

	if err := o.publish(dev, cmd.CmdID, time.Now().UTC(), action, in); err != nil {
		slog.Warn("command publish failed, leaving PENDING for deadline sweep", "device_id", dev.ID, "cmd_id", cmd.CmdID, "error", err)
	}

	o.arm(deviceDBID, cmd.CmdID, time.Now().Add(o.deadline))
	o.emitUpdated(dev.HomeID, dev.ID, cmd)
	return cmd, nil
}

// Retry implements retryCommand: only permitted from terminal
// non-ACKED states; creates a new Command row with the same payload,
// leaving the old row as history.
func (o *Orchestrator) Retry(ctx context.Context, deviceDBID uint64, cmdID string) (*store.Command, error) {
	old, err := o.repo.GetCommandByCmdID(ctx, deviceDBID, cmdID)
	if err != nil {
		return nil, apierr.NotFoundErr("command not found")
	}
	switch old.Status {
	case store.CommandAcked:
		return nil, apierr.ConflictErr("cannot retry an ACKED command")
	case store.CommandPending:
		return nil, apierr.ConflictErr("cannot retry a command still PENDING")
	}

	dev, err := o.repo.GetDeviceByID(ctx, deviceDBID)
	if err != nil {
		return nil, apierr.NotFoundErr("device not found")
	}

	newCmdID := uuid.NewString()
	cmd, err := o.repo.CreateCommand(ctx, deviceDBID, newCmdID, old.Action, old.Payload, time.Now().UTC())
	if err != nil {
		return nil, apierr.InternalErr("failed to persist retried command", err)
	}
	if err := o.publishRaw(dev, cmd.CmdID, time.Now().UTC(), old.Payload); err != nil {
		slog.Warn("retry publish failed, leaving PENDING for deadline sweep", "device_id", dev.ID, "cmd_id", cmd.CmdID, "error", err)
	}
	o.arm(deviceDBID, cmd.CmdID, time.Now().Add(o.deadline))
	o.emitUpdated(dev.HomeID, dev.ID, cmd)
	return cmd, nil
}

// HandleAck is wired as telemetry.AckHandler: matches by (deviceId,
// cmdId), transitions PENDING -> ACKED/FAILED.
func (o *Orchestrator) HandleAck(ctx context.Context, deviceDBID uint64, cmdID string, ok bool, errMsg string) {
	newStatus := store.CommandAcked
	var ackedAt *time.Time
	if ok {
		now := time.Now().UTC()
		ackedAt = &now
	} else {
		newStatus = store.CommandFailed
	}
	applied, err := o.repo.TransitionCommand(ctx, deviceDBID, cmdID, newStatus, ackedAt, errMsg)
	if err != nil {
		slog.Warn("ack transition failed", "device_id", deviceDBID, "cmd_id", cmdID, "error", err)
		return
	}
	if !applied {
		// Already terminal (e.g. raced with a TIMEOUT sweep); the
		// first writer wins per the state machine's monotonic rule.
		return
	}
	cmd, err := o.repo.GetCommandByCmdID(ctx, deviceDBID, cmdID)
	if err != nil {
		return
	}
	dev, err := o.repo.GetDeviceByID(ctx, deviceDBID)
	if err != nil {
		return
	}
	observability.CommandTransition(cmd.Status)
	o.emitUpdated(dev.HomeID, dev.ID, cmd)
}

// arm schedules a deadline check; RunScheduler pops it when due.
func (o *Orchestrator) arm(deviceID uint64, cmdID string, deadline time.Time) {
	o.mu.Lock()
	heap.Push(&o.heap, &pendingDeadline{deadline: deadline, deviceID: deviceID, cmdID: cmdID})
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// RunScheduler is the deadline scheduler worker (§5): pops the
// earliest-armed deadline, sleeps until it's due (or a fresher
// deadline is armed), and transitions any command still PENDING to
// TIMEOUT.
func (o *Orchestrator) RunScheduler(ctx context.Context) {
	for {
		o.mu.Lock()
		var next *pendingDeadline
		if o.heap.Len() > 0 {
			next = o.heap[0]
		}
		o.mu.Unlock()

		var timer <-chan time.Time
		if next != nil {
			d := time.Until(next.deadline)
			if d < 0 {
				d = 0
			}
			t := time.NewTimer(d)
			defer t.Stop()
			timer = t.C
		}

		select {
		case <-ctx.Done():
			return
		case <-o.wake:
			continue
		case <-timer:
			o.mu.Lock()
			if o.heap.Len() > 0 {
				heap.Pop(&o.heap)
			}
			o.mu.Unlock()
			o.fireTimeout(ctx, next.deviceID, next.cmdID)
		}
	}
}

func (o *Orchestrator) fireTimeout(ctx context.Context, deviceID uint64, cmdID string) {
	applied, err := o.repo.TransitionCommand(ctx, deviceID, cmdID, store.CommandTimeout, nil, "")
	if err != nil {
		slog.Warn("timeout transition failed", "device_id", deviceID, "cmd_id", cmdID, "error", err)
		return
	}
	if !applied {
		return
	}
	cmd, err := o.repo.GetCommandByCmdID(ctx, deviceID, cmdID)
	if err != nil {
		return
	}
	dev, err := o.repo.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return
	}
	observability.CommandTransition(cmd.Status)
	o.emitUpdated(dev.HomeID, dev.ID, cmd)
}

// SweepDurable is a backstop invoked at startup that TIMEOUTs PENDING
// rows whose deadline passed while they were not in the in-memory heap
// (e.g. across a restart), and arms the remaining PENDING rows at
// sentAt + deadline, per testable property 1.
func (o *Orchestrator) SweepDurable(ctx context.Context) {
	cutoff := time.Now().Add(-o.deadline)
	rows, err := o.repo.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		slog.Warn("durable sweep query failed", "error", err)
		return
	}
	for _, c := range rows {
		o.fireTimeout(ctx, c.DeviceID, c.CmdID)
	}
	pending, err := o.repo.ListPendingForDevice(ctx)
	if err != nil {
		slog.Warn("durable sweep pending query failed", "error", err)
		return
	}
	for _, c := range pending {
		o.arm(c.DeviceID, c.CmdID, c.SentAt.Add(o.deadline))
	}
}

func (o *Orchestrator) emitUpdated(homeID, deviceID uint64, cmd *store.Command) {
	o.hub.Publish(homeID, fanout.Event{
		Type:     fanout.EventCommandUpdated,
		DeviceID: deviceID,
		Data: map[string]any{
			"cmd_id":   cmd.CmdID,
			"status":   cmd.Status,
			"sent_at":  cmd.SentAt,
			"acked_at": cmd.AckedAt,
			"error":    cmd.Error,
		},
	})
}

func (o *Orchestrator) isOnline(ctx context.Context, dev *store.Device) (bool, error) {
	st, err := o.repo.GetDeviceState(ctx, dev.ID)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return st.Online, nil
}

func wirePayload(dev *store.Device, action string, in Input) ([]byte, error) {
	if dev.Protocol == store.ProtocolZigbee {
		return json.Marshal(struct {
			Action string          `json:"action"`
			Args   json.RawMessage `json:"args,omitempty"`
		}{Action: action, Args: in.Args})
	}
	if len(in.Payload) == 0 {
		return nil, fmt.Errorf("empty payload for MQTT-plane device")
	}
	return in.Payload, nil
}

func (o *Orchestrator) publish(dev *store.Device, cmdID string, ts time.Time, action string, in Input) error {
	if dev.Protocol == store.ProtocolZigbee {
		body, err := json.Marshal(struct {
			CmdID  string          `json:"cmdId"`
			TS     int64           `json:"ts"`
			Action string          `json:"action"`
			Args   json.RawMessage `json:"args,omitempty"`
		}{CmdID: cmdID, TS: ts.UnixMilli(), Action: action, Args: in.Args})
		if err != nil {
			return err
		}
		return o.bus.Publish(mqttbus.ZBSetTopic(*dev.ZigbeeIEEE), mqttbus.QoSCommand, false, body).Wait(5 * time.Second)
	}
	body, err := json.Marshal(struct {
		CmdID   string          `json:"cmdId"`
		TS      int64           `json:"ts"`
		Payload json.RawMessage `json:"payload"`
	}{CmdID: cmdID, TS: ts.UnixMilli(), Payload: in.Payload})
	if err != nil {
		return err
	}
	homeID := fmt.Sprintf("%d", dev.HomeID)
	return o.bus.Publish(mqttbus.DeviceSetTopic(homeID, dev.DeviceID), mqttbus.QoSCommand, false, body).Wait(5 * time.Second)
}

func (o *Orchestrator) publishRaw(dev *store.Device, cmdID string, ts time.Time, payload []byte) error {
	if dev.Protocol == store.ProtocolZigbee {
		var decoded struct {
			Action string          `json:"action"`
			Args   json.RawMessage `json:"args,omitempty"`
		}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return err
		}
		return o.publish(dev, cmdID, ts, decoded.Action, Input{Args: decoded.Args})
	}
	return o.publish(dev, cmdID, ts, "", Input{Payload: payload})
}
