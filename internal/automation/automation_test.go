package automation

import (
	"testing"

	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

func TestFilterEnabled_DropsDisabledRules(t *testing.T) {
	rules := []store.AutomationRule{
		{ID: 1, Name: "a", Enabled: true},
		{ID: 2, Name: "b", Enabled: false},
		{ID: 3, Name: "c", Enabled: true},
	}
	got := filterEnabled(rules)
	if len(got) != 2 {
		t.Fatalf("expected 2 enabled rules, got %d", len(got))
	}
	for _, r := range got {
		if !r.Enabled {
			t.Fatalf("filterEnabled leaked a disabled rule: %+v", r)
		}
	}
}

func TestFilterEnabled_EmptyInput(t *testing.T) {
	got := filterEnabled(nil)
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %d", len(got))
	}
}
