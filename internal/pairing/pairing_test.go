package pairing

import (
	"testing"

	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

func TestModelMatches(t *testing.T) {
	d := &store.ZigbeeDiscoveredDevice{Model: "TS0601", SuggestedModelID: "tuya-ts0601"}
	if !modelMatches("TS0601", d) {
		t.Fatalf("expected match on Model")
	}
	if !modelMatches("tuya-ts0601", d) {
		t.Fatalf("expected match on SuggestedModelID")
	}
	if modelMatches("something-else", d) {
		t.Fatalf("expected no match")
	}
	if modelMatches("", d) {
		t.Fatalf("expected empty expected model to never match")
	}
}

func TestDeviceTypeFor_PrefersSuggestedModelID(t *testing.T) {
	d := &store.ZigbeeDiscoveredDevice{Model: "TS0601", SuggestedModelID: "tuya-ts0601"}
	if got := deviceTypeFor(d); got != "tuya-ts0601" {
		t.Fatalf("expected suggested model id, got %s", got)
	}
}

func TestDeviceTypeFor_FallsBackToModel(t *testing.T) {
	d := &store.ZigbeeDiscoveredDevice{Model: "TS0601"}
	if got := deviceTypeFor(d); got != "TS0601" {
		t.Fatalf("expected model fallback, got %s", got)
	}
}
