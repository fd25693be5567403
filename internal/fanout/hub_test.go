package fanout

import "testing"

func TestPublish_AssignsMonotonicIDs(t *testing.T) {
	h := NewHub(10)
	e1 := h.Publish(1, Event{Type: EventDeviceStateUpdated})
	e2 := h.Publish(1, Event{Type: EventDeviceStateUpdated})
	if e1.ID != 1 || e2.ID != 2 {
		t.Fatalf("expected ids 1,2; got %d,%d", e1.ID, e2.ID)
	}
}

func TestSubscribe_ReplaysEventsAfterCursor(t *testing.T) {
	h := NewHub(10)
	for i := 0; i < 5; i++ {
		h.Publish(1, Event{Type: EventDeviceStateUpdated})
	}
	ch, resync, cancel := h.Subscribe(1, 3)
	defer cancel()
	if resync {
		t.Fatalf("expected no resync within buffer window")
	}
	var got []int64
	for i := 0; i < 2; i++ {
		e := <-ch
		got = append(got, e.ID)
	}
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("expected replay [4,5], got %v", got)
	}
}

func TestSubscribe_ResyncWhenCursorOutsideWindow(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 10; i++ {
		h.Publish(1, Event{Type: EventDeviceStateUpdated})
	}
	_, resync, cancel := h.Subscribe(1, 1)
	defer cancel()
	if !resync {
		t.Fatalf("expected resync since cursor 1 scrolled out of a 3-slot buffer at id 10")
	}
}

func TestPublish_FansOutAcrossSubscribers(t *testing.T) {
	h := NewHub(10)
	ch1, _, cancel1 := h.Subscribe(1, 0)
	ch2, _, cancel2 := h.Subscribe(1, 0)
	defer cancel1()
	defer cancel2()

	h.Publish(1, Event{Type: EventCommandUpdated})

	select {
	case e := <-ch1:
		if e.Type != EventCommandUpdated {
			t.Fatalf("unexpected type on ch1: %s", e.Type)
		}
	default:
		t.Fatalf("expected ch1 to receive the event")
	}
	select {
	case e := <-ch2:
		if e.Type != EventCommandUpdated {
			t.Fatalf("unexpected type on ch2: %s", e.Type)
		}
	default:
		t.Fatalf("expected ch2 to receive the event")
	}
}

func TestPublish_DoesNotCrossHomes(t *testing.T) {
	h := NewHub(10)
	ch, _, cancel := h.Subscribe(1, 0)
	defer cancel()
	h.Publish(2, Event{Type: EventCommandUpdated})
	select {
	case e := <-ch:
		t.Fatalf("unexpected event on home 1's channel: %+v", e)
	default:
	}
}
