// Package store is the sole writer to a run directory: state.json,
// timeline.jsonl, seq.txt, plan.md, config.snapshot.json,
// env.fingerprint.json, summary.json/.md, artifacts/*, handoffs/*,
// notes.jsonl, and the terminal receipt.json/diff.patch/diffstat.txt/
// files.txt (spec.md §4.1, §6.1).
package store

import (
	"crypto/rand"
	"fmt"
	"math"
	mathrand "math/rand"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewRunID mints a run identifier: the spec's 14-digit timestamp
// (YYYYMMDDHHMMSS), a dash, and the last 8 characters of a ULID's
// random component so two runs started in the same second do not
// collide. The full string names the run directory and is what
// status/report commands print.
func NewRunID(now time.Time) string {
	entropy := ulid.Monotonic(randSource(), 0)
	id := ulid.MustNew(ulid.Timestamp(now), entropy)
	return now.UTC().Format("20060102150405") + "-" + id.String()[len(id.String())-8:]
}

// randSource provides the entropy source for ULID generation. Kept as
// a seam so tests can supply a deterministic source if needed.
func randSource() *mathrand.Rand {
	var seed int64
	b := make([]byte, 8)
	if _, err := rand.Read(b); err == nil {
		for i, v := range b {
			seed |= int64(v) << (8 * i)
		}
	}
	if seed < 0 {
		seed = -seed
	}
	if seed == 0 {
		seed = 1
	}
	return mathrand.New(mathrand.NewSource(seed % math.MaxInt64))
}

// RunDir returns the directory for a run under runsRoot.
func RunDir(runsRoot, runID string) string {
	return filepath.Join(runsRoot, runID)
}

// Paths centralizes every file path within a run directory, per the
// layout in spec.md §6.1.
type Paths struct {
	Root string
}

func NewPaths(runsRoot, runID string) Paths {
	return Paths{Root: RunDir(runsRoot, runID)}
}

func (p Paths) StateFile() string           { return filepath.Join(p.Root, "state.json") }
func (p Paths) TimelineFile() string        { return filepath.Join(p.Root, "timeline.jsonl") }
func (p Paths) SeqFile() string             { return filepath.Join(p.Root, "seq.txt") }
func (p Paths) PlanFile() string            { return filepath.Join(p.Root, "plan.md") }
func (p Paths) ConfigSnapshotFile() string  { return filepath.Join(p.Root, "config.snapshot.json") }
func (p Paths) EnvFingerprintFile() string  { return filepath.Join(p.Root, "env.fingerprint.json") }
func (p Paths) SummaryJSONFile() string     { return filepath.Join(p.Root, "summary.json") }
func (p Paths) SummaryMDFile() string       { return filepath.Join(p.Root, "summary.md") }
func (p Paths) NotesFile() string           { return filepath.Join(p.Root, "notes.jsonl") }
func (p Paths) ReceiptFile() string         { return filepath.Join(p.Root, "receipt.json") }
func (p Paths) DiffPatchFile() string       { return filepath.Join(p.Root, "diff.patch") }
func (p Paths) DiffPatchGzFile() string     { return filepath.Join(p.Root, "diff.patch.gz") }
func (p Paths) DiffstatFile() string        { return filepath.Join(p.Root, "diffstat.txt") }
func (p Paths) FilesFile() string           { return filepath.Join(p.Root, "files.txt") }
func (p Paths) StopJSONFile() string        { return filepath.Join(p.Root, "stop.json") }
func (p Paths) StopMDFile() string          { return filepath.Join(p.Root, "stop.md") }
func (p Paths) ArtifactsDir() string        { return filepath.Join(p.Root, "artifacts") }
func (p Paths) HandoffsDir() string         { return filepath.Join(p.Root, "handoffs") }

func (p Paths) Artifact(name string) string {
	return filepath.Join(p.ArtifactsDir(), name)
}

func (p Paths) Handoff(name string) string {
	return filepath.Join(p.HandoffsDir(), name)
}

// VerificationLogName returns the artifact name for a tier's captured
// command output, e.g. "tests_tier0.log" (spec.md §4.5).
func VerificationLogName(tier string) string {
	return fmt.Sprintf("tests_%s.log", tier)
}
