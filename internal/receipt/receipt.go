// Package receipt writes the terminal artifacts every STOPPED run
// produces: receipt.json, diff.patch (or its gzipped form past a size
// threshold), diffstat.txt, and files.txt. Grounded on the teacher's
// LogManager artifact-writing discipline (internal/engine/log.go):
// write-to-temp-then-rename for the structured document and for each
// sidecar file, and a truthful inventory of what was
// actually produced (spec.md §4.13, §3.2's artifacts_written invariant).
package receipt

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/weldr-dev/runr/internal/fileutil"
	"github.com/weldr-dev/runr/internal/gitfacade"
	"github.com/weldr-dev/runr/internal/store"
)

const (
	gzipSizeThresholdBytes = 50 * 1024
	gzipLineThreshold      = 2000
	gzipFileThreshold      = 100
	maxFilesListed         = 500
)

// ArtifactsWritten records which terminal sidecars actually exist —
// the source of truth callers must consult rather than assuming a
// write succeeded (spec.md §3.2).
type ArtifactsWritten struct {
	DiffPatch  bool `json:"diff_patch"`
	Diffstat   bool `json:"diffstat"`
	Files      bool `json:"files"`
	Transcript bool `json:"transcript"`
}

// Receipt is the terminal summary written to receipt.json.
type Receipt struct {
	RunID            string           `json:"run_id"`
	BaseSHA          string           `json:"base_sha"`
	CheckpointSHA    string           `json:"checkpoint_sha,omitempty"`
	VerificationTier string           `json:"verification_tier,omitempty"`
	TerminalState    string           `json:"terminal_state"`
	FilesChanged     int              `json:"files_changed"`
	LinesAdded       int              `json:"lines_added"`
	LinesDeleted     int              `json:"lines_deleted"`
	ArtifactsWritten ArtifactsWritten `json:"artifacts_written"`
	TranscriptRef    string           `json:"transcript_ref,omitempty"`
}

// Write computes the diff between baseSHA and checkpointSHA (the run's
// current HEAD when checkpointSHA is empty),
// writes diff.patch (or diff.patch.gz when it exceeds the size/line/
// file thresholds), diffstat.txt, files.txt, and receipt.json, and
// returns the resulting Receipt.
func Write(p store.Paths, repo *gitfacade.Repo, runID, baseSHA, checkpointSHA, verificationTier, terminalState, transcriptLogPath string) (Receipt, error) {
	var aw ArtifactsWritten
	rec := Receipt{
		RunID:            runID,
		BaseSHA:          baseSHA,
		CheckpointSHA:    checkpointSHA,
		VerificationTier: verificationTier,
		TerminalState:    terminalState,
	}

	toRef := checkpointSHA
	if toRef == "" {
		toRef = "HEAD"
	}

	numstat, err := repo.DiffNumstat(baseSHA, toRef)
	if err == nil {
		files, added, deleted := parseNumstat(numstat)
		rec.FilesChanged = len(files)
		rec.LinesAdded = added
		rec.LinesDeleted = deleted

		if diffstat, err := repo.DiffStat(baseSHA, toRef); err == nil {
			if werr := fileutil.WriteFileAtomic(p.DiffstatFile(), []byte(diffstat), 0o644); werr == nil {
				aw.Diffstat = true
			}
		}

		if filesBody := renderFilesList(files); filesBody != "" {
			if werr := fileutil.WriteFileAtomic(p.FilesFile(), []byte(filesBody), 0o644); werr == nil {
				aw.Files = true
			}
		}

		if patch, perr := repo.DiffPatch(baseSHA, toRef); perr == nil {
			if werr := writePatch(p, patch, len(files), countLines(patch)); werr == nil {
				aw.DiffPatch = true
			}
		}
	}

	if transcriptLogPath != "" {
		if _, statErr := os.Stat(transcriptLogPath); statErr == nil {
			rec.TranscriptRef = transcriptLogPath
			aw.Transcript = true
		}
	}
	if !aw.Transcript {
		stub := fmt.Sprintf("no transcript log captured for run %s\n", runID)
		if werr := fileutil.WriteFileAtomic(p.Artifact("transcript-meta.txt"), []byte(stub), 0o644); werr == nil {
			rec.TranscriptRef = p.Artifact("transcript-meta.txt")
		}
	}

	rec.ArtifactsWritten = aw

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return rec, fmt.Errorf("marshaling receipt: %w", err)
	}
	if err := fileutil.WriteFileAtomic(p.ReceiptFile(), data, 0o644); err != nil {
		return rec, fmt.Errorf("writing receipt: %w", err)
	}
	return rec, nil
}

// writePatch writes patch as diff.patch, or gzipped as diff.patch.gz
// when it crosses any of the three size thresholds (spec.md §4.13).
func writePatch(p store.Paths, patch string, fileCount, lineCount int) error {
	if len(patch) > gzipSizeThresholdBytes || lineCount > gzipLineThreshold || fileCount > gzipFileThreshold {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write([]byte(patch)); err != nil {
			return err
		}
		if err := gw.Close(); err != nil {
			return err
		}
		return fileutil.WriteFileAtomic(p.DiffPatchGzFile(), buf.Bytes(), 0o644)
	}
	return fileutil.WriteFileAtomic(p.DiffPatchFile(), []byte(patch), 0o644)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// parseNumstat parses `git diff --numstat` output into the touched
// file list plus total added/deleted line counts. Binary files report
// "-" for both counts and are skipped from the line totals.
func parseNumstat(numstat string) (files []string, added, deleted int) {
	for _, line := range strings.Split(strings.TrimSpace(numstat), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		files = append(files, fields[2])
		if a, err := strconv.Atoi(fields[0]); err == nil {
			added += a
		}
		if d, err := strconv.Atoi(fields[1]); err == nil {
			deleted += d
		}
	}
	return files, added, deleted
}

// renderFilesList renders one path per line, truncated at
// maxFilesListed with a trailing note (spec.md §4.13).
func renderFilesList(files []string) string {
	if len(files) == 0 {
		return ""
	}
	var sb strings.Builder
	shown := files
	truncated := false
	if len(files) > maxFilesListed {
		shown = files[:maxFilesListed]
		truncated = true
	}
	for _, f := range shown {
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	if truncated {
		fmt.Fprintf(&sb, "... (%d more files not shown)\n", len(files)-maxFilesListed)
	}
	return sb.String()
}
