package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/weldr-dev/runr/internal/fileutil"
)

// Phase is one stage of the run's state machine (spec.md §3).
type Phase string

const (
	PhaseInit       Phase = "init"
	PhasePlan       Phase = "plan"
	PhaseImplement  Phase = "implement"
	PhaseVerify     Phase = "verify"
	PhaseReview     Phase = "review"
	PhaseCheckpoint Phase = "checkpoint"
	PhaseFinalize   Phase = "finalize"
	PhaseStopped    Phase = "stopped"
)

// Milestone is a unit of work produced by the plan phase (spec.md §2).
type Milestone struct {
	Goal          string   `json:"goal"`
	FilesExpected []string `json:"files_expected"`
	DoneChecks    []string `json:"done_checks"`
	RiskLevel     string   `json:"risk_level"` // low|medium|high
}

// ScopeLock is the allowlist/denylist recorded on the run at creation
// (spec.md §4.4).
type ScopeLock struct {
	Allowlist []string `json:"allowlist,omitempty"`
	Denylist  []string `json:"denylist,omitempty"`
}

// WorkerStats accumulates invocation counters per worker role.
type WorkerStats struct {
	Invocations int `json:"invocations"`
	Failures    int `json:"failures"`
	ParseErrors int `json:"parse_errors"`
	Fallbacks   int `json:"fallbacks"`
}

// RunState is the single durable record per run (spec.md §2, §4.9).
// It is a snapshot, not ground truth: the timeline event log is ground
// truth, and RunState is a derived materialization kept for cheap reads.
type RunState struct {
	RunID               string                 `json:"run_id"`
	Phase               Phase                  `json:"phase"`
	MilestoneIndex      int                    `json:"milestone_index"`
	Milestones          []Milestone            `json:"milestones"`
	ScopeLock           ScopeLock              `json:"scope_lock"`
	OwnedPaths          []string               `json:"owned_paths,omitempty"`
	RiskScore           float64                `json:"risk_score"`
	WorkerStats         map[string]WorkerStats `json:"worker_stats,omitempty"`
	Retries             int                    `json:"retries"`
	MilestoneRetries    int                    `json:"milestone_retries"`
	ReviewRounds        int                    `json:"review_rounds"`
	LastReviewFingerprint string               `json:"last_review_fingerprint,omitempty"`
	PhaseStartedAt      time.Time              `json:"phase_started_at"`
	StartedAt           time.Time              `json:"started_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	LastProgressAt      time.Time              `json:"last_progress_at"`
	StopReason          string                 `json:"stop_reason,omitempty"`
	LastError           string                 `json:"last_error,omitempty"`
	CheckpointCommitSHA string                 `json:"checkpoint_commit_sha,omitempty"`
	LastSuccessfulPhase Phase                  `json:"last_successful_phase,omitempty"`
	AutoResumeCount     int                    `json:"auto_resume_count"`
	BaseRef             string                 `json:"base_ref,omitempty"`
	RunBranch           string                 `json:"run_branch,omitempty"`
	WorktreePath        string                 `json:"worktree_path,omitempty"`
}

// WriteState atomically persists s to the run's state.json.
func WriteState(p Paths, s *RunState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run state: %w", err)
	}
	return fileutil.WriteFileAtomic(p.StateFile(), data, 0o644)
}

// ReadState loads the run's current state.json.
func ReadState(p Paths) (*RunState, error) {
	data, err := os.ReadFile(p.StateFile())
	if err != nil {
		return nil, fmt.Errorf("reading run state: %w", err)
	}
	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing run state: %w", err)
	}
	return &s, nil
}

// IsActivePhase reports whether phase represents an in-flight run, as
// opposed to a terminal one. Used by the run command's sibling
// collision scan and by status display (grounded on the teacher's
// engine.IsActiveState / ResetActiveStatuses).
func IsActivePhase(ph Phase) bool {
	switch ph {
	case PhasePlan, PhaseImplement, PhaseVerify, PhaseReview, PhaseCheckpoint:
		return true
	default:
		return false
	}
}
