package diagnosis

import (
	"testing"

	"github.com/weldr-dev/runr/internal/store"
)

func TestDiagnoseAuthExpired(t *testing.T) {
	in := Input{
		State: &store.RunState{},
		Events: []store.Event{
			{Type: store.EventPreflight, Payload: map[string]interface{}{"category": "auth"}},
		},
	}
	d := Diagnose(in, "2026-01-01T00:00:00Z")
	if d.PrimaryDiagnosis != "auth_expired" {
		t.Errorf("PrimaryDiagnosis = %q, want auth_expired", d.PrimaryDiagnosis)
	}
	if d.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", d.Confidence)
	}
}

func TestDiagnoseVerificationFailure(t *testing.T) {
	in := Input{
		State: &store.RunState{StopReason: "verification_failed_max_retries"},
	}
	d := Diagnose(in, "now")
	if d.PrimaryDiagnosis != "verification_failure" {
		t.Errorf("PrimaryDiagnosis = %q, want verification_failure", d.PrimaryDiagnosis)
	}
}

func TestDiagnoseUnknownWhenNoRuleMatches(t *testing.T) {
	in := Input{State: &store.RunState{StopReason: "something_unrecognized"}}
	d := Diagnose(in, "now")
	if d.PrimaryDiagnosis != "unknown" {
		t.Errorf("PrimaryDiagnosis = %q, want unknown", d.PrimaryDiagnosis)
	}
	if len(d.NextActions) != 1 || d.NextActions[0] != "read timeline" {
		t.Errorf("NextActions = %v", d.NextActions)
	}
}

func TestDiagnoseHighestConfidenceWins(t *testing.T) {
	// Both auth_expired (0.9) and ownership_violation (0.8) match; the
	// higher-confidence rule must win regardless of table order.
	in := Input{
		State: &store.RunState{StopReason: "ownership_violation"},
		Events: []store.Event{
			{Type: store.EventPreflight, Payload: map[string]interface{}{"category": "auth"}},
		},
	}
	d := Diagnose(in, "now")
	if d.PrimaryDiagnosis != "auth_expired" {
		t.Errorf("PrimaryDiagnosis = %q, want auth_expired (higher confidence)", d.PrimaryDiagnosis)
	}
}

func TestDiagnoseScopeViolationMeetsConfidenceFloor(t *testing.T) {
	in := Input{State: &store.RunState{StopReason: "scope_violation"}}
	d := Diagnose(in, "now")
	if d.PrimaryDiagnosis != "scope_violation" {
		t.Errorf("PrimaryDiagnosis = %q, want scope_violation", d.PrimaryDiagnosis)
	}
	if d.Confidence < 0.9 {
		t.Errorf("Confidence = %v, want >= 0.9", d.Confidence)
	}
}
