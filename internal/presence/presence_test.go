package presence

import (
	"testing"

	"github.com/PetoAdam/homenavi/corebroker/internal/fanout"
)

// The online/offline flip logic itself lives behind store.Repo (needs
// a database); this package's own unit-testable surface is the
// transition-only emission contract, exercised here against the
// fanout hub directly rather than a live tracker.

func TestEmitDeviceStatusChanged_PublishesToSubscribedHome(t *testing.T) {
	tr := &Tracker{hub: fanout.NewHub(10)}

	ch, _, cancel := tr.hub.Subscribe(1, 0)
	defer cancel()

	tr.emitDeviceStatusChanged(1, 42, true, 1000)

	select {
	case e := <-ch:
		if e.DeviceID != 42 {
			t.Fatalf("expected device id 42, got %d", e.DeviceID)
		}
		if e.Type != fanout.EventDeviceStatusChanged {
			t.Fatalf("expected EventDeviceStatusChanged, got %s", e.Type)
		}
	default:
		t.Fatalf("expected a subscribed channel to receive the event")
	}
}
