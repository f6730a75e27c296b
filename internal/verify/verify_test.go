package verify

import (
	"context"
	"testing"
	"time"
)

func TestRunTierEmptyCommandsIsNoOpSuccess(t *testing.T) {
	res := RunTier(context.Background(), Tier0, nil, ".", 0)
	if !res.OK {
		t.Error("expected empty tier to succeed")
	}
}

func TestRunTierStopsOnFirstFailure(t *testing.T) {
	res := RunTier(context.Background(), Tier1, []string{"true", "false", "true"}, ".", 5*time.Second)
	if res.OK {
		t.Fatal("expected overall failure")
	}
	if len(res.CommandResults) != 2 {
		t.Fatalf("expected execution to stop after 2 commands, ran %d", len(res.CommandResults))
	}
	if !res.CommandResults[0].OK || res.CommandResults[1].OK {
		t.Errorf("unexpected per-command outcomes: %+v", res.CommandResults)
	}
}

func TestBuildEvidenceReportsMissingCommands(t *testing.T) {
	results := []Result{
		{Tier: Tier0, CommandResults: []CommandResult{{Command: "go vet ./...", OK: true}}},
	}
	ev := BuildEvidence([]string{"go vet ./...", "go test ./..."}, results)
	if len(ev.CommandsMissing) != 1 || ev.CommandsMissing[0] != "go test ./..." {
		t.Errorf("CommandsMissing = %v", ev.CommandsMissing)
	}
	if len(ev.TiersRun) != 1 || ev.TiersRun[0] != Tier0 {
		t.Errorf("TiersRun = %v", ev.TiersRun)
	}
}

func TestSelectTiersAlwaysIncludesTier0(t *testing.T) {
	sels, err := SelectTiers(Policy{}, Context{})
	if err != nil {
		t.Fatalf("SelectTiers: %v", err)
	}
	if len(sels) != 1 || sels[0].Tier != Tier0 || sels[0].Reason != "tier0_always" {
		t.Errorf("sels = %+v", sels)
	}
}

func TestSelectTiersRiskTriggerMatch(t *testing.T) {
	p := Policy{
		RiskTriggers: []RiskTrigger{
			{Name: "migrations", Patterns: []string{"db/migrations/**"}, Tier: Tier1},
		},
	}
	sels, err := SelectTiers(p, Context{ChangedFiles: []string{"db/migrations/001.sql"}})
	if err != nil {
		t.Fatalf("SelectTiers: %v", err)
	}
	found := false
	for _, s := range sels {
		if s.Tier == Tier1 && s.Reason == "risk_trigger:migrations" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected risk_trigger:migrations selection, got %+v", sels)
	}
}

func TestSelectTiersTier2TriggerDemotedMidRun(t *testing.T) {
	p := Policy{
		RiskTriggers: []RiskTrigger{
			{Name: "schema", Patterns: []string{"schema.sql"}, Tier: Tier2},
		},
	}
	sels, err := SelectTiers(p, Context{ChangedFiles: []string{"schema.sql"}, IsRunEnd: false})
	if err != nil {
		t.Fatalf("SelectTiers: %v", err)
	}
	for _, s := range sels {
		if s.Tier == Tier2 {
			t.Errorf("expected tier2 trigger demoted to tier1 mid-run, got tier2 selection: %+v", sels)
		}
	}

	sels, err = SelectTiers(p, Context{ChangedFiles: []string{"schema.sql"}, IsRunEnd: true})
	if err != nil {
		t.Fatalf("SelectTiers: %v", err)
	}
	sawTier2 := false
	for _, s := range sels {
		if s.Tier == Tier2 {
			sawTier2 = true
		}
	}
	if !sawTier2 {
		t.Errorf("expected tier2 at run end, got %+v", sels)
	}
}

func TestSelectTiersMilestoneEndAndHighRisk(t *testing.T) {
	sels, err := SelectTiers(Policy{}, Context{IsMilestoneEnd: true, RiskLevel: "high"})
	if err != nil {
		t.Fatalf("SelectTiers: %v", err)
	}
	reasons := map[string]bool{}
	for _, s := range sels {
		reasons[s.Reason] = true
	}
	if !reasons["milestone_end"] {
		t.Error("expected milestone_end reason")
	}
	// risk_level_high would be suppressed since milestone_end already
	// picked tier1 first; that's correct per "don't duplicate a tier".
}
