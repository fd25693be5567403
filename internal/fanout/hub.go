// Package fanout is the Realtime Fan-out layer (§4.F): a per-home
// bounded ring buffer of recent events keyed by a monotonic stream id,
// with resumable-cursor subscription. Generalized from the teacher's
// per-run event hub (automation-service/internal/engine/run_events.go)
// to per-home, and its websocket pump pair
// (entity-registry-service/internal/realtime/hub.go) reused as the
// alternate transport alongside SSE.
package fanout

import (
	"sync"
	"time"
)

type EventType string

const (
	EventReady               EventType = "ready"
	EventDeviceStateUpdated  EventType = "device_state_updated"
	EventDeviceStatusChanged EventType = "device_status_changed"
	EventDeviceEventCreated  EventType = "device_event_created"
	EventCommandUpdated      EventType = "command_updated"
)

// Event is one fan-out frame. ID is the per-home monotonic cursor
// anchor: an event-sourced frame keeps its DeviceEvent.HomeSeq when
// that is above the home's last id; every other frame gets the next
// value of a hub-local counter.
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	HomeID    uint64    `json:"home_id"`
	DeviceID  uint64    `json:"device_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Hub holds one bounded replay ring per home and fans out to
// subscribed channels, non-blocking.
type Hub struct {
	mu        sync.RWMutex
	subs      map[uint64]map[chan Event]struct{}
	replay    map[uint64][]Event
	nextID    map[uint64]int64
	maxReplay int
}

func NewHub(maxReplay int) *Hub {
	if maxReplay <= 0 {
		maxReplay = 500
	}
	return &Hub{
		subs:      make(map[uint64]map[chan Event]struct{}),
		replay:    make(map[uint64][]Event),
		nextID:    make(map[uint64]int64),
		maxReplay: maxReplay,
	}
}

// Publish stamps a fresh per-home monotonic id unless evt.ID is already
// above the home's last id (then evt.ID is kept and becomes the new
// last id), appends to the bounded replay buffer, and fans out non-blocking to
// every current subscriber — a slow reader drops frames rather than
// stalling the producer (run_events.go's Publish).
func (h *Hub) Publish(homeID uint64, evt Event) Event {
	h.mu.Lock()
	if evt.ID <= h.nextID[homeID] {
		h.nextID[homeID]++
		evt.ID = h.nextID[homeID]
	} else {
		h.nextID[homeID] = evt.ID
	}
	evt.HomeID = homeID
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	buf := append(h.replay[homeID], evt)
	if len(buf) > h.maxReplay {
		buf = buf[len(buf)-h.maxReplay:]
	}
	h.replay[homeID] = buf
	subs := make([]chan Event, 0, len(h.subs[homeID]))
	for ch := range h.subs[homeID] {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return evt
}

// Subscribe returns a channel fed with every new event for homeID plus
// the replay cancel func. If afterID is > 0, matching buffered events
// with ID > afterID are replayed first; resync reports whether afterID
// had already scrolled out of the buffer window (the client must
// refetch snapshots in that case, per §4.F).
func (h *Hub) Subscribe(homeID uint64, afterID int64) (ch chan Event, resync bool, cancel func()) {
	h.mu.Lock()
	if h.subs[homeID] == nil {
		h.subs[homeID] = make(map[chan Event]struct{})
	}
	var toReplay []Event
	if afterID > 0 {
		buf := h.replay[homeID]
		if len(buf) > 0 && buf[0].ID > afterID+1 {
			resync = true
		}
		for _, e := range buf {
			if e.ID > afterID {
				toReplay = append(toReplay, e)
			}
		}
	}
	ch = make(chan Event, 64+len(toReplay))
	for _, e := range toReplay {
		ch <- e
	}
	h.subs[homeID][ch] = struct{}{}
	h.mu.Unlock()

	cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[homeID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, homeID)
			}
		}
	}
	return ch, resync, cancel
}
