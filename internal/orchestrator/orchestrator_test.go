package orchestrator

import (
	"container/heap"
	"encoding/json"
	"testing"
	"time"

	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

func TestWirePayload_ZigbeePlane(t *testing.T) {
	ieee := "00:11"
	dev := &store.Device{Protocol: store.ProtocolZigbee, ZigbeeIEEE: &ieee}
	body, err := wirePayload(dev, "turn_on", Input{Args: json.RawMessage(`{"brightness":10}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded struct {
		Action string          `json:"action"`
		Args   json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.Action != "turn_on" {
		t.Fatalf("expected action turn_on, got %s", decoded.Action)
	}
}

func TestWirePayload_MQTTPlaneRejectsEmptyPayload(t *testing.T) {
	dev := &store.Device{Protocol: store.ProtocolMQTT}
	if _, err := wirePayload(dev, "", Input{}); err == nil {
		t.Fatalf("expected error for empty MQTT payload")
	}
}

func TestWirePayload_MQTTPlanePassesThroughPayload(t *testing.T) {
	dev := &store.Device{Protocol: store.ProtocolMQTT}
	raw := json.RawMessage(`{"on":true}`)
	body, err := wirePayload(dev, "", Input{Payload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != string(raw) {
		t.Fatalf("expected passthrough payload, got %s", body)
	}
}

func TestDeadlineHeap_PopsEarliestFirst(t *testing.T) {
	h := &deadlineHeap{}
	heap.Init(h)
	now := time.Now()
	heap.Push(h, &pendingDeadline{deadline: now.Add(5 * time.Second), cmdID: "late"})
	heap.Push(h, &pendingDeadline{deadline: now.Add(1 * time.Second), cmdID: "early"})
	heap.Push(h, &pendingDeadline{deadline: now.Add(3 * time.Second), cmdID: "mid"})

	first := heap.Pop(h).(*pendingDeadline)
	if first.cmdID != "early" {
		t.Fatalf("expected earliest deadline popped first, got %s", first.cmdID)
	}
	second := heap.Pop(h).(*pendingDeadline)
	if second.cmdID != "mid" {
		t.Fatalf("expected mid deadline next, got %s", second.cmdID)
	}
}
