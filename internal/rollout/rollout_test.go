package rollout

import (
	"testing"

	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

func TestDeriveStatus_AllSuccess(t *testing.T) {
	targets := []store.RolloutTarget{
		{HubID: "a", State: store.TargetSuccess},
		{HubID: "b", State: store.TargetSuccess},
	}
	if got := DeriveStatus(targets, false); got != store.RolloutSuccess {
		t.Fatalf("expected SUCCESS, got %s", got)
	}
}

func TestDeriveStatus_FailedWithNoInFlight(t *testing.T) {
	targets := []store.RolloutTarget{
		{HubID: "a", State: store.TargetSuccess},
		{HubID: "b", State: store.TargetFailed},
	}
	if got := DeriveStatus(targets, false); got != store.RolloutFailed {
		t.Fatalf("expected FAILED, got %s", got)
	}
}

func TestDeriveStatus_FailedButStillInFlightStaysRunning(t *testing.T) {
	targets := []store.RolloutTarget{
		{HubID: "a", State: store.TargetDownloading},
		{HubID: "b", State: store.TargetFailed},
	}
	if got := DeriveStatus(targets, false); got != store.RolloutRunning {
		t.Fatalf("expected RUNNING while a target is still in flight, got %s", got)
	}
}

func TestDeriveStatus_PausedWinsOverRunning(t *testing.T) {
	targets := []store.RolloutTarget{
		{HubID: "a", State: store.TargetDownloading},
	}
	if got := DeriveStatus(targets, true); got != store.RolloutPaused {
		t.Fatalf("expected PAUSED, got %s", got)
	}
}
