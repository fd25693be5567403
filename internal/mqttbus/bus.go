package mqttbus

import (
	"log/slog"
	"sync"
)

// Bus is the internal publish/subscribe layer keyed by semantic
// channel (§4.B). The Adapter classifies every inbound wire message
// into a Channel and hands it to every handler registered for that
// channel; in-process consumers (Telemetry Ingestor, Presence
// Tracker, Command Orchestrator, Pairing Coordinator) never see raw
// MQTT topics.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Channel][]func(ParsedTopic, []byte)
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Channel][]func(ParsedTopic, []byte))}
}

func (b *Bus) On(ch Channel, handler func(ParsedTopic, []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[ch] = append(b.handlers[ch], handler)
}

// Dispatch classifies topic and invokes every handler registered for
// its channel. Malformed topics map to ChanUnknown and are logged and
// dropped, never blocking the caller.
func (b *Bus) Dispatch(topic string, payload []byte) {
	pt := ParseTopic(topic)
	if pt.Channel == ChanUnknown {
		slog.Warn("mqtt message on unrecognized topic", "topic", topic)
		return
	}
	b.mu.RLock()
	handlers := append([]func(ParsedTopic, []byte){}, b.handlers[pt.Channel]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(pt, payload)
	}
}

// Adapter ties a Client to a Bus: it subscribes to every fleet topic
// pattern at process start and dispatches inbound frames.
type Adapter struct {
	Client *Client
	Bus    *Bus
}

func NewAdapter(client *Client, bus *Bus) *Adapter {
	return &Adapter{Client: client, Bus: bus}
}

// Start subscribes to every pattern in §4.B. Retained state/status
// frames replay on (re)subscribe; dedup against them is the Telemetry
// Ingestor's job (monotonic timestamp check), not the adapter's.
func (a *Adapter) Start() error {
	subs := []struct {
		topic string
		qos   byte
	}{
		{SubDeviceAck, QoSAck},
		{SubDeviceState, QoSState},
		{SubDeviceStatus, QoSStatus},
		{SubHubStatus, QoSStatus},
		{SubZBState, QoSState},
		{SubZBEvent, QoSEvent},
		{SubZBCmdResult, QoSAck},
		{SubZBDiscovered, QoSEvent},
		{SubHubCmdResult, QoSAck},
	}
	for _, s := range subs {
		if err := a.Client.Subscribe(s.topic, s.qos, func(m Message) {
			a.Bus.Dispatch(m.Topic, m.Payload)
		}); err != nil {
			return err
		}
	}
	return nil
}
