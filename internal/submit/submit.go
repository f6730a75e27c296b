package submit

import (
	"fmt"
	"os"

	"github.com/weldr-dev/runr/internal/gitfacade"
	"github.com/weldr-dev/runr/internal/store"
)

// Options configures one Submit invocation (spec.md §4.12, §6.4's
// workflow.require_verification / require_clean_tree knobs).
type Options struct {
	TargetBranch        string
	RequireVerification bool
	RequireCleanTree    bool
	DryRun              bool
	Strategy            string // recorded in the run_submitted event
}

// Result reports the outcome of a Submit call.
type Result struct {
	OK              bool
	ValidationError string
	ConflictedFiles []string
	RecoveryRecipe  string
	StartingBranch  string
}

// hasVerificationEvidence reports whether any tier's log artifact
// exists under the run's artifacts directory.
func hasVerificationEvidence(p store.Paths) bool {
	for _, tier := range []string{"tier0", "tier1", "tier2"} {
		if _, err := os.Stat(p.Artifact(store.VerificationLogName(tier))); err == nil {
			return true
		}
	}
	return false
}

// validate checks the submit preconditions without mutating git
// (spec.md §4.12 step 1).
func validate(p store.Paths, repo *gitfacade.Repo, state *store.RunState, opts Options) string {
	if state.CheckpointCommitSHA == "" {
		return "no checkpoint commit recorded for this run"
	}
	if opts.RequireVerification && !hasVerificationEvidence(p) {
		return "required verification evidence is missing"
	}
	if opts.RequireCleanTree {
		dirty, err := repo.HasChanges()
		if err != nil {
			return fmt.Sprintf("could not check working tree cleanliness: %v", err)
		}
		if dirty {
			return "working tree is not clean"
		}
	}
	if !repo.BranchExists(opts.TargetBranch) {
		return fmt.Sprintf("target branch %q does not exist", opts.TargetBranch)
	}
	return ""
}

// Run executes the submit pipeline: validate, record the starting
// branch, and — unless this is a dry run — checkout the target branch
// and cherry-pick the checkpoint commit onto it. On any conflict it
// aborts, restores the starting branch, and reports the conflicted
// files. The starting branch is restored before returning under every
// outcome, including validation failure (step 1 never mutates git) and
// any unexpected error (spec.md §4.12 step 6).
func Run(p store.Paths, tl *store.Timeline, repo *gitfacade.Repo, state *store.RunState, opts Options) (Result, error) {
	startingBranchName, err := repo.CurrentBranch()
	if err != nil {
		return Result{}, fmt.Errorf("reading starting branch: %w", err)
	}

	if reason := validate(p, repo, state, opts); reason != "" {
		if tl != nil {
			_, _ = tl.AppendEvent(store.EventSubmitValidationFailed, "submit", map[string]interface{}{
				"reason": reason,
			})
		}
		return Result{OK: false, ValidationError: reason, StartingBranch: startingBranchName}, nil
	}

	if opts.DryRun {
		return Result{OK: true, StartingBranch: startingBranchName}, nil
	}

	if err := repo.Checkout(opts.TargetBranch); err != nil {
		return Result{}, fmt.Errorf("checking out target branch %s: %w", opts.TargetBranch, err)
	}

	cpResult, err := repo.CherryPick(state.CheckpointCommitSHA, startingBranchName)
	if err != nil {
		if rerr := repo.Checkout(startingBranchName); rerr != nil {
			return Result{}, fmt.Errorf("cherry-pick recovery failed: %w (restoring %s also failed: %v)", err, startingBranchName, rerr)
		}
		return Result{}, fmt.Errorf("cherry-pick recovery failed: %w", err)
	}
	if !cpResult.OK {
		recipe := fmt.Sprintf("git checkout %s && git cherry-pick %s", opts.TargetBranch, state.CheckpointCommitSHA)
		if tl != nil {
			_, _ = tl.AppendEvent(store.EventSubmitConflict, "submit", map[string]interface{}{
				"conflicted_files": cpResult.ConflictedFiles,
				"recovery_recipe":  recipe,
			})
		}
		return Result{
			OK:              false,
			ConflictedFiles: cpResult.ConflictedFiles,
			RecoveryRecipe:  recipe,
			StartingBranch:  startingBranchName,
		}, nil
	}

	if tl != nil {
		_, _ = tl.AppendEvent(store.EventRunSubmitted, "submit", map[string]interface{}{
			"run_id":         state.RunID,
			"checkpoint_sha": state.CheckpointCommitSHA,
			"target_branch":  opts.TargetBranch,
			"strategy":       opts.Strategy,
		})
	}

	if err := repo.Checkout(startingBranchName); err != nil {
		return Result{}, fmt.Errorf("submit succeeded but restoring starting branch %s failed: %w", startingBranchName, err)
	}

	return Result{OK: true, StartingBranch: startingBranchName}, nil
}
