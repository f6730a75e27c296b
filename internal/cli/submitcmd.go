package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/weldr-dev/runr/internal/gitfacade"
	"github.com/weldr-dev/runr/internal/store"
	"github.com/weldr-dev/runr/internal/submit"
)

var submitFlags struct {
	to     string
	dryRun bool
	push   bool
}

func init() {
	submitCmd.Flags().StringVar(&submitFlags.to, "to", "", "target branch to integrate the run's checkpoint onto (required)")
	submitCmd.Flags().BoolVar(&submitFlags.dryRun, "dry-run", false, "validate only, without touching git")
	submitCmd.Flags().BoolVar(&submitFlags.push, "push", false, "push the target branch to origin after a successful submit")
	_ = submitCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(submitCmd)
}

var submitCmd = &cobra.Command{
	Use:   "submit <id>",
	Short: "Integrate a run's checkpoint commit onto a target branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAndValidateConfig(configPath)
		if err != nil {
			return setupExit(err)
		}
		cfgAbsPath, err := abs(configPath)
		if err != nil {
			return setupExit(err)
		}
		repoDir := findGitRoot(filepath.Dir(cfgAbsPath))
		if repoDir == "" {
			return setupExit(fmt.Errorf("could not find git repository root from %s", filepath.Dir(cfgAbsPath)))
		}
		paths, err := findRun(runsRootFor(repoDir), args[0])
		if err != nil {
			return setupExit(err)
		}
		state, err := store.ReadState(paths)
		if err != nil {
			return setupExit(fmt.Errorf("reading run state: %w", err))
		}

		repoPath := repoDir
		if state.WorktreePath != "" {
			repoPath = state.WorktreePath
		}
		repo := gitfacade.NewRepo(repoPath)

		tl, err := store.OpenTimeline(paths)
		if err != nil {
			return setupExit(fmt.Errorf("opening timeline: %w", err))
		}

		opts := submit.Options{
			TargetBranch:        submitFlags.to,
			RequireVerification: cfg.Workflow.RequireVerify,
			RequireCleanTree:    cfg.Workflow.RequireCleanTree,
			DryRun:              submitFlags.dryRun,
			Strategy:            cfg.Workflow.SubmitStrategy,
		}

		result, err := submit.Run(paths, tl, repo, state, opts)
		if err != nil {
			return setupExit(fmt.Errorf("submit failed: %w", err))
		}
		if !result.OK {
			if result.ValidationError != "" {
				return stoppedExit(fmt.Errorf("submit validation failed: %s", result.ValidationError))
			}
			fmt.Fprintf(os.Stderr, "runr: submit conflict on files: %v\n", result.ConflictedFiles)
			fmt.Fprintf(os.Stderr, "recover with: %s\n", result.RecoveryRecipe)
			fmt.Fprintf(os.Stderr, "Branch restored. Tree is clean.\n")
			return stoppedExit(fmt.Errorf("submit conflict, starting branch %s restored", result.StartingBranch))
		}

		if submitFlags.dryRun {
			fmt.Printf("runr: submit dry-run OK for run %s onto %s\n", state.RunID, submitFlags.to)
			return nil
		}

		fmt.Printf("runr: submitted run %s onto %s (starting branch %s restored)\n", state.RunID, submitFlags.to, result.StartingBranch)

		if submitFlags.push {
			if err := pushBranch(repoPath, submitFlags.to); err != nil {
				return setupExit(fmt.Errorf("pushing %s: %w", submitFlags.to, err))
			}
			fmt.Printf("runr: pushed %s to origin\n", submitFlags.to)
		}
		return nil
	},
}

// pushBranch pushes branch to origin. Kept as a thin direct exec
// rather than adding a push method to gitfacade.Repo, since pushing is
// the one mutating git operation the facade's retry/recovery contract
// (spec.md §4.3) does not need to cover: a failed push leaves the
// local repository state untouched.
func pushBranch(repoDir, branch string) error {
	cmd := exec.Command("git", "push", "origin", branch)
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w", string(out), err)
	}
	return nil
}
