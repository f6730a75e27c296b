package config

import (
	"testing"
	"time"
)

func TestParseAppliesWorkflowProfileDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
workers:
  implementer:
    bin: claude
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Workflow.Profile != "solo" {
		t.Errorf("Profile = %q, want solo", cfg.Workflow.Profile)
	}
	if cfg.Workflow.TargetBranch != "main" {
		t.Errorf("TargetBranch = %q, want main", cfg.Workflow.TargetBranch)
	}
	if cfg.Workflow.MaxReviewRounds != 2 {
		t.Errorf("MaxReviewRounds = %d, want 2", cfg.Workflow.MaxReviewRounds)
	}
	if cfg.Verification.MaxVerifyTimePerMilestone.Duration() != 10*time.Minute {
		t.Errorf("MaxVerifyTimePerMilestone = %v, want 10m", cfg.Verification.MaxVerifyTimePerMilestone.Duration())
	}
}

func TestParsePRProfileRequiresVerificationAndCleanTree(t *testing.T) {
	cfg, err := Parse([]byte(`
workflow:
  profile: pr
workers:
  implementer:
    bin: claude
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Workflow.RequireVerify {
		t.Error("RequireVerify = false, want true for pr profile")
	}
	if !cfg.Workflow.RequireCleanTree {
		t.Error("RequireCleanTree = false, want true for pr profile")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	cfg, err := Parse([]byte(`
verification:
  max_verify_time_per_milestone: 45s
workers:
  implementer:
    bin: claude
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.Verification.MaxVerifyTimePerMilestone.Duration(); got != 45*time.Second {
		t.Errorf("duration = %v, want 45s", got)
	}
}

func TestValidateRequiresAtLeastOneWorker(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	errs := Validate(cfg)
	if len(errs) == 0 {
		t.Fatal("expected validation error for missing workers")
	}
}

func TestValidateRejectsUnknownWorkflowProfile(t *testing.T) {
	cfg := &Config{Workers: map[string]Worker{"implementer": {Bin: "claude"}}}
	cfg.Workflow.Profile = "bogus"
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e != nil {
			found = true
		}
	}
	if !found {
		t.Fatal("expected validation error for unknown profile")
	}
}

func TestValidateRiskTriggerRequiresPatternsAndTier(t *testing.T) {
	cfg := &Config{
		Workers: map[string]Worker{"implementer": {Bin: "claude"}},
		Verification: VerificationConfig{
			RiskTriggers: []RiskTrigger{{Name: "db"}},
		},
	}
	applyDefaults(cfg)
	errs := Validate(cfg)
	if len(errs) < 2 {
		t.Fatalf("expected at least 2 errors (missing patterns, bad tier), got %d: %v", len(errs), errs)
	}
}
