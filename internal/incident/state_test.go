package incident

import (
	"testing"

	"github.com/firewatch/flames/internal/database"
)

func TestDecide(t *testing.T) {
	active := &database.Incident{ID: 1, NodeID: "N1", Status: database.IncidentStatusActive}
	resolved := &database.Incident{ID: 1, NodeID: "N1", Status: database.IncidentStatusResolved}

	tests := []struct {
		name    string
		current *database.Incident
		label   string
		want    Action
	}{
		{"none fire", nil, "fire", ActionCreate},
		{"none fire mixed case", nil, "Fire", ActionCreate},
		{"none fire padded", nil, " fire ", ActionCreate},
		{"none normal", nil, "normal", ActionNone},
		{"none false", nil, "false", ActionNone},
		{"active fire", active, "fire", ActionUpdate},
		{"active false", active, "false", ActionUpdate},
		{"active FALSE", active, "FALSE", ActionUpdate},
		{"active normal", active, "normal", ActionResolve},
		{"active uncertain", active, "uncertain", ActionResolve},
		{"resolved fire", resolved, "fire", ActionCreate},
		{"resolved normal", resolved, "normal", ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.current, Evidence{NodeID: "N1", Label: tt.label, Confidence: 0.9}, Policy{})
			if got != tt.want {
				t.Errorf("Decide(%v, %q) = %v, want %v", tt.current != nil, tt.label, got, tt.want)
			}
		})
	}
}

func TestDecide_ConfidencePolicy(t *testing.T) {
	policy := Policy{MinConfidence: 0.8}
	active := &database.Incident{ID: 1, Status: database.IncidentStatusActive}

	if got := Decide(nil, Evidence{Label: "fire", Confidence: 0.6}, policy); got != ActionNone {
		t.Errorf("low confidence fire opened an incident: %v", got)
	}
	if got := Decide(nil, Evidence{Label: "fire", Confidence: 0.8}, policy); got != ActionCreate {
		t.Errorf("expected create at threshold, got %v", got)
	}
	// continuation ignores the threshold
	if got := Decide(active, Evidence{Label: "fire", Confidence: 0.1}, policy); got != ActionUpdate {
		t.Errorf("expected update, got %v", got)
	}
}

func TestAction_String(t *testing.T) {
	if ActionCreate.String() != "create" || ActionUpdate.String() != "update" ||
		ActionResolve.String() != "resolve" || ActionNone.String() != "none" {
		t.Error("unexpected action names")
	}
}
