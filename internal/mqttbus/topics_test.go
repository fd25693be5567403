package mqttbus

import "testing"

func TestParseTopic_DeviceState(t *testing.T) {
	pt := ParseTopic("home/1/device/d1/state")
	if pt.Channel != ChanDeviceState {
		t.Fatalf("expected ChanDeviceState, got %s", pt.Channel)
	}
	if pt.HomeID != "1" || pt.DeviceID != "d1" {
		t.Fatalf("unexpected parse: %+v", pt)
	}
}

func TestParseTopic_HubStatus(t *testing.T) {
	pt := ParseTopic("home/hub/hubA/status")
	if pt.Channel != ChanHubStatus {
		t.Fatalf("expected ChanHubStatus, got %s", pt.Channel)
	}
	if pt.HubID != "hubA" {
		t.Fatalf("unexpected hub id: %s", pt.HubID)
	}
}

func TestParseTopic_ZBDiscovered(t *testing.T) {
	pt := ParseTopic("home/hub/hubA/zigbee/discovered")
	if pt.Channel != ChanZBDiscovered {
		t.Fatalf("expected ChanZBDiscovered, got %s", pt.Channel)
	}
	if pt.HubID != "hubA" {
		t.Fatalf("unexpected hub id: %s", pt.HubID)
	}
}

func TestParseTopic_ZBCmdResult(t *testing.T) {
	pt := ParseTopic("home/zb/00124b0001abcd12/cmd_result")
	if pt.Channel != ChanZBCmdResult {
		t.Fatalf("expected ChanZBCmdResult, got %s", pt.Channel)
	}
	if pt.IEEE != "00124b0001abcd12" {
		t.Fatalf("unexpected ieee: %s", pt.IEEE)
	}
}

func TestParseTopic_Unknown(t *testing.T) {
	if pt := ParseTopic("totally/unrelated/topic"); pt.Channel != ChanUnknown {
		t.Fatalf("expected ChanUnknown, got %s", pt.Channel)
	}
}

func TestDeviceSetTopic_RoundTrip(t *testing.T) {
	topic := DeviceSetTopic("1", "d1")
	if topic != "home/1/device/d1/set" {
		t.Fatalf("unexpected topic: %s", topic)
	}
}

func TestFullJitterBackoff_BoundedByCap(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := FullJitterBackoff(attempt, backoffMin, backoffMax)
		if d < 0 || d > backoffMax {
			t.Fatalf("attempt %d: backoff %s out of bounds", attempt, d)
		}
	}
}
