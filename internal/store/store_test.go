package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/weldr-dev/runr/internal/fileutil"
)

func TestNewRunIDIsUniquePerCall(t *testing.T) {
	now := time.Now()
	a := NewRunID(now)
	b := NewRunID(now)
	if a == b {
		t.Fatalf("expected distinct run IDs, got %q twice", a)
	}
	if len(a) < 14 || a[:14] != now.UTC().Format("20060102150405") {
		t.Errorf("run id %q does not start with the expected timestamp prefix", a)
	}
}

func TestCreateRunLaysOutDirectory(t *testing.T) {
	root := t.TempDir()
	runID := NewRunID(time.Now())
	fp := fileutil.EnvFingerprint{GoVersion: "go1.24", OS: "linux", Arch: "amd64"}

	p, s, err := CreateRun(root, runID, []byte(`{"workers":{}}`), fp, time.Now())
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if s.Phase != PhaseInit {
		t.Errorf("Phase = %q, want init", s.Phase)
	}
	for _, f := range []string{p.ConfigSnapshotFile(), p.EnvFingerprintFile(), p.StateFile()} {
		if !fileutil.Exists(f) {
			t.Errorf("expected %s to exist", f)
		}
	}
	if !fileutil.Exists(p.ArtifactsDir()) || !fileutil.Exists(p.HandoffsDir()) {
		t.Error("expected artifacts/ and handoffs/ to exist")
	}

	loaded, err := ReadState(p)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if loaded.RunID != runID {
		t.Errorf("RunID = %q, want %q", loaded.RunID, runID)
	}
}

func TestTimelineAppendIsMonotonicAndPersisted(t *testing.T) {
	root := t.TempDir()
	p := NewPaths(root, "run1")
	if err := fileutil.EnsureDir(p.Root); err != nil {
		t.Fatal(err)
	}

	tl, err := OpenTimeline(p)
	if err != nil {
		t.Fatalf("OpenTimeline: %v", err)
	}
	for i := 0; i < 3; i++ {
		ev, err := tl.AppendEvent(EventPhaseStart, "supervisor", map[string]interface{}{"i": i})
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if ev.Seq != uint64(i+1) {
			t.Errorf("seq = %d, want %d", ev.Seq, i+1)
		}
	}

	events, err := ReadTimeline(p)
	if err != nil {
		t.Fatalf("ReadTimeline: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}

	// Reopening must resume numbering without gaps or resets.
	tl2, err := OpenTimeline(p)
	if err != nil {
		t.Fatalf("OpenTimeline (reopen): %v", err)
	}
	ev, err := tl2.AppendEvent(EventStop, "supervisor", nil)
	if err != nil {
		t.Fatalf("AppendEvent after reopen: %v", err)
	}
	if ev.Seq != 4 {
		t.Errorf("seq after reopen = %d, want 4", ev.Seq)
	}
}

func TestWriteArtifactAndHandoff(t *testing.T) {
	root := t.TempDir()
	p := NewPaths(root, "run1")

	if err := WriteArtifact(p, VerificationLogName("tier0"), []byte("ok")); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	if !fileutil.Exists(filepath.Join(p.ArtifactsDir(), "tests_tier0.log")) {
		t.Error("expected tests_tier0.log to exist")
	}

	if err := WriteHandoff(p, "plan_summary.md", []byte("# plan")); err != nil {
		t.Fatalf("WriteHandoff: %v", err)
	}
	if !fileutil.Exists(p.Handoff("plan_summary.md")) {
		t.Error("expected handoff file to exist")
	}
}

func TestWriteSummaryProducesBothFormats(t *testing.T) {
	root := t.TempDir()
	p := NewPaths(root, "run1")
	if err := fileutil.EnsureDir(p.Root); err != nil {
		t.Fatal(err)
	}

	s := Summary{RunID: "run1", Phase: PhaseFinalize, MilestonesDone: 2, MilestonesTotal: 2}
	if err := WriteSummary(p, s, "# Summary\n\nDone.\n"); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	if !fileutil.Exists(p.SummaryJSONFile()) || !fileutil.Exists(p.SummaryMDFile()) {
		t.Error("expected both summary.json and summary.md")
	}
}
