package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/weldr-dev/runr/internal/fileutil"
)

// CreateRun lays out a fresh run directory: artifacts/ and handoffs/
// subdirectories, config.snapshot.json, env.fingerprint.json, and an
// initial state.json in PhaseInit. Grounded on the teacher's
// LogManager directory bootstrap in engine.go, generalized from one
// concern's log directory to a whole run's artifact tree.
func CreateRun(runsRoot, runID string, configSnapshot []byte, fp fileutil.EnvFingerprint, now time.Time) (Paths, *RunState, error) {
	p := NewPaths(runsRoot, runID)
	if err := fileutil.EnsureDir(p.ArtifactsDir()); err != nil {
		return p, nil, fmt.Errorf("creating artifacts dir: %w", err)
	}
	if err := fileutil.EnsureDir(p.HandoffsDir()); err != nil {
		return p, nil, fmt.Errorf("creating handoffs dir: %w", err)
	}
	if err := fileutil.WriteFileAtomic(p.ConfigSnapshotFile(), configSnapshot, 0o644); err != nil {
		return p, nil, fmt.Errorf("writing config snapshot: %w", err)
	}
	fpData, err := json.MarshalIndent(fp, "", "  ")
	if err != nil {
		return p, nil, fmt.Errorf("marshaling env fingerprint: %w", err)
	}
	if err := fileutil.WriteFileAtomic(p.EnvFingerprintFile(), fpData, 0o644); err != nil {
		return p, nil, fmt.Errorf("writing env fingerprint: %w", err)
	}

	s := &RunState{
		RunID:          runID,
		Phase:          PhaseInit,
		WorkerStats:    map[string]WorkerStats{},
		PhaseStartedAt: now,
		StartedAt:      now,
		UpdatedAt:      now,
		LastProgressAt: now,
	}
	if err := WriteState(p, s); err != nil {
		return p, nil, err
	}
	return p, s, nil
}

// WriteArtifact saves bytes under the run's artifacts/ directory.
func WriteArtifact(p Paths, name string, data []byte) error {
	if err := fileutil.EnsureDir(p.ArtifactsDir()); err != nil {
		return fmt.Errorf("creating artifacts dir: %w", err)
	}
	return fileutil.WriteFileAtomic(p.Artifact(name), data, 0o644)
}

// WriteHandoff saves bytes under the run's handoffs/ directory — the
// durable record of what one phase hands the next (plan summary for
// implement, diff summary for review, and so on).
func WriteHandoff(p Paths, name string, data []byte) error {
	if err := fileutil.EnsureDir(p.HandoffsDir()); err != nil {
		return fmt.Errorf("creating handoffs dir: %w", err)
	}
	return fileutil.WriteFileAtomic(p.Handoff(name), data, 0o644)
}

// WritePlan saves the plan phase's output to plan.md.
func WritePlan(p Paths, markdown string) error {
	return fileutil.WriteFileAtomic(p.PlanFile(), []byte(markdown), 0o644)
}

// WriteStop saves the structured stop.json and human-readable stop.md
// every STOPPED run produces (spec.md §7).
func WriteStop(p Paths, diagnosisJSON []byte, markdown string) error {
	if err := fileutil.WriteFileAtomic(p.StopJSONFile(), diagnosisJSON, 0o644); err != nil {
		return fmt.Errorf("writing stop.json: %w", err)
	}
	return fileutil.WriteFileAtomic(p.StopMDFile(), []byte(markdown), 0o644)
}

// Note is one line of the free-form notes.jsonl append log — used for
// worker stderr excerpts, preflight diagnostics, and other detail that
// doesn't warrant a typed timeline event.
type Note struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
}

// AppendNote appends one line to the run's notes.jsonl.
func AppendNote(p Paths, source, text string) error {
	n := Note{Timestamp: time.Now().UTC(), Source: source, Text: text}
	line, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling note: %w", err)
	}
	return fileutil.AppendLine(p.NotesFile(), line)
}

// Summary is the structured terminal outcome written to summary.json,
// with summary.md as its human-readable rendering (spec.md §6.1).
type Summary struct {
	RunID            string    `json:"run_id"`
	Phase            Phase     `json:"phase"`
	MilestonesDone   int       `json:"milestones_done"`
	MilestonesTotal  int       `json:"milestones_total"`
	CheckpointSHA    string    `json:"checkpoint_commit_sha,omitempty"`
	StopReason       string    `json:"stop_reason,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// WriteSummary persists the terminal summary.json and its markdown
// rendering summary.md.
func WriteSummary(p Paths, s Summary, markdown string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := fileutil.WriteFileAtomic(p.SummaryJSONFile(), data, 0o644); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(p.SummaryMDFile(), []byte(markdown), 0o644)
}
