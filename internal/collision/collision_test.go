package collision

import (
	"context"
	"testing"
	"time"
)

func TestScanDetectsPreciseCollision(t *testing.T) {
	now := time.Now()
	mine := Sibling{RunID: "mine", FilesExpected: []string{"src/app/main.go", "src/app/util.go"}}
	siblings := []Sibling{
		{RunID: "other", Phase: "implement", StartedAt: now.Add(-10 * time.Minute), FilesExpected: []string{"src/app/main.go"}},
	}

	report, err := Scan(context.Background(), now, mine, siblings, 4)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(report.Collisions) != 1 {
		t.Fatalf("expected one collision, got %+v", report.Collisions)
	}
	if report.Collisions[0].RunID != "other" {
		t.Errorf("RunID = %q", report.Collisions[0].RunID)
	}
	if report.Collisions[0].OverlapFiles[0] != "src/app/main.go" {
		t.Errorf("OverlapFiles = %v", report.Collisions[0].OverlapFiles)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("expected no warnings when a precise collision already fired, got %+v", report.Warnings)
	}
}

func TestScanDetectsCoarseWarningWithoutPreciseOverlap(t *testing.T) {
	now := time.Now()
	mine := Sibling{RunID: "mine", Allowlist: []string{"src/app/**"}, FilesExpected: []string{"src/app/a.go"}}
	siblings := []Sibling{
		{RunID: "other", Phase: "plan", StartedAt: now, Allowlist: []string{"src/app/**"}, FilesExpected: []string{"src/other/b.go"}},
	}

	report, err := Scan(context.Background(), now, mine, siblings, 4)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(report.Collisions) != 0 {
		t.Errorf("expected no precise collision, got %+v", report.Collisions)
	}
	if len(report.Warnings) != 1 || report.Warnings[0].RunID != "other" {
		t.Errorf("expected a coarse warning for other, got %+v", report.Warnings)
	}
}

func TestScanNoOverlapIsClean(t *testing.T) {
	now := time.Now()
	mine := Sibling{RunID: "mine", Allowlist: []string{"src/app/**"}, FilesExpected: []string{"src/app/a.go"}}
	siblings := []Sibling{
		{RunID: "other", Phase: "plan", StartedAt: now, Allowlist: []string{"docs/**"}, FilesExpected: []string{"docs/readme.md"}},
	}

	report, err := Scan(context.Background(), now, mine, siblings, 4)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(report.Collisions) != 0 || len(report.Warnings) != 0 {
		t.Errorf("expected a clean report, got %+v", report)
	}
}

func TestScanCapsExampleFiles(t *testing.T) {
	now := time.Now()
	mine := Sibling{Allowlist: []string{"src/**"}}
	siblings := []Sibling{
		{RunID: "other", StartedAt: now, Allowlist: []string{"src/**"}},
	}
	report, err := Scan(context.Background(), now, mine, siblings, 4)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("expected one warning, got %+v", report.Warnings)
	}
	if len(report.Warnings[0].ExampleFiles) > maxExampleFiles {
		t.Errorf("ExampleFiles exceeds cap: %v", report.Warnings[0].ExampleFiles)
	}
}
