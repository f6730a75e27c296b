package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weldr-dev/runr/internal/collision"
	"github.com/weldr-dev/runr/internal/diagnosis"
	"github.com/weldr-dev/runr/internal/fileutil"
	"github.com/weldr-dev/runr/internal/gitfacade"
	"github.com/weldr-dev/runr/internal/receipt"
	"github.com/weldr-dev/runr/internal/runstate"
	"github.com/weldr-dev/runr/internal/scope"
	"github.com/weldr-dev/runr/internal/store"
	"github.com/weldr-dev/runr/internal/supervisor"
	"github.com/weldr-dev/runr/internal/watcher"
)

const (
	defaultMaxTicks = 50
	defaultTimeMins = 30
)

var runFlags struct {
	task         string
	worktree     bool
	fast         bool
	maxTicks     int
	timeMinutes  int
	allowDeps    bool
	allowDirty   bool
	autoResume   bool
	forceParallel bool
}

func init() {
	runCmd.Flags().StringVar(&runFlags.task, "task", "", "path to the task description file (required)")
	runCmd.Flags().BoolVar(&runFlags.worktree, "worktree", false, "run in a dedicated git worktree instead of checking out a branch in place")
	runCmd.Flags().BoolVar(&runFlags.fast, "fast", false, "skip tier2 verification regardless of risk triggers")
	runCmd.Flags().IntVar(&runFlags.maxTicks, "max-ticks", defaultMaxTicks, "maximum number of supervisor ticks before stopping")
	runCmd.Flags().IntVar(&runFlags.timeMinutes, "time", defaultTimeMins, "wall-clock time budget in minutes before stopping")
	runCmd.Flags().BoolVar(&runFlags.allowDeps, "allow-deps", false, "permit changes to configured lockfiles")
	runCmd.Flags().BoolVar(&runFlags.allowDirty, "allow-dirty", false, "permit starting from a dirty working tree")
	runCmd.Flags().BoolVar(&runFlags.autoResume, "auto-resume", false, "automatically resume on a transient stop reason")
	runCmd.Flags().BoolVar(&runFlags.forceParallel, "force-parallel", false, "proceed despite a sibling run's precise file collision")
	_ = runCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new supervised agent run from a task description",
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRun(cmd.Context())
	},
}

func doRun(parentCtx context.Context) error {
	cfg, err := loadAndValidateConfig(configPath)
	if err != nil {
		return setupExit(err)
	}
	if runFlags.allowDeps {
		cfg.Scope.AllowDeps = true
	}

	taskPath, err := abs(runFlags.task)
	if err != nil {
		return setupExit(err)
	}
	taskBody, err := os.ReadFile(taskPath)
	if err != nil {
		return setupExit(fmt.Errorf("reading task file: %w", err))
	}

	cfgAbsPath, err := abs(configPath)
	if err != nil {
		return setupExit(err)
	}
	repoDir := findGitRoot(filepath.Dir(cfgAbsPath))
	if repoDir == "" {
		return setupExit(fmt.Errorf("could not find git repository root from %s", filepath.Dir(cfgAbsPath)))
	}

	repo := gitfacade.NewRepo(repoDir)
	repo.EnsureIdentity()

	porcelain, err := repo.StatusPorcelain()
	if err != nil {
		return setupExit(fmt.Errorf("checking working tree: %w", err))
	}
	preChanged := gitfacade.ParsePorcelainStatus(porcelain)
	prePartition, err := scope.PartitionChangedFiles(cfg.Scope.EnvAllowlist, append(append([]string{}, preChanged.Touched...), preChanged.Untracked...))
	if err != nil {
		return setupExit(fmt.Errorf("partitioning working tree changes: %w", err))
	}
	if len(prePartition.Semantic) > 0 && !runFlags.allowDirty {
		return setupExit(fmt.Errorf("working tree is dirty; pass --allow-dirty or commit/stash first"))
	}

	baseRef, err := repo.CurrentBranch()
	if err != nil {
		return setupExit(fmt.Errorf("reading current branch: %w", err))
	}

	now := time.Now()
	runID := store.NewRunID(now)
	runBranch := "run/" + runID

	runDir := repo.Dir
	if runFlags.worktree {
		worktreePath := filepath.Join(repoDir, ".runr", "worktrees", runID)
		if err := fileutil.EnsureDir(filepath.Dir(worktreePath)); err != nil {
			return setupExit(fmt.Errorf("creating worktree parent dir: %w", err))
		}
		if err := repo.CreateBranch(runBranch, baseRef); err != nil {
			return setupExit(fmt.Errorf("creating run branch: %w", err))
		}
		if err := repo.CreateWorktree(worktreePath, runBranch); err != nil {
			return setupExit(fmt.Errorf("creating run worktree: %w", err))
		}
		runDir = worktreePath
		repo = gitfacade.NewRepo(runDir)
	} else {
		if err := repo.CreateBranch(runBranch, baseRef); err != nil {
			return setupExit(fmt.Errorf("creating run branch: %w", err))
		}
		if err := repo.Checkout(runBranch); err != nil {
			return setupExit(fmt.Errorf("checking out run branch: %w", err))
		}
	}

	runsRoot := runsRootFor(repoDir)
	configSnapshot, err := os.ReadFile(cfgAbsPath)
	if err != nil {
		return setupExit(fmt.Errorf("snapshotting config: %w", err))
	}
	fp := fileutil.CaptureEnvFingerprint()
	paths, state, err := store.CreateRun(runsRoot, runID, configSnapshot, fp, now)
	if err != nil {
		return setupExit(fmt.Errorf("creating run directory: %w", err))
	}
	state.ScopeLock = store.ScopeLock{Allowlist: cfg.Scope.Allowlist, Denylist: cfg.Scope.Denylist}
	state.OwnedPaths = scope.NormalizeOwnedPaths(cfg.Scope.OwnedPaths)
	state.BaseRef = baseRef
	state.RunBranch = runBranch
	if runFlags.worktree {
		state.WorktreePath = runDir
	}

	report, err := scanSiblingCollisions(runsRoot, runID, state, now)
	if err != nil {
		return setupExit(fmt.Errorf("scanning sibling runs: %w", err))
	}
	for _, w := range report.Warnings {
		fmt.Printf("runr: warning: allowlist overlaps with active run %s (phase=%s, example files: %v)\n", w.RunID, w.Phase, w.ExampleFiles)
	}
	if len(report.Collisions) > 0 && !runFlags.forceParallel {
		for _, c := range report.Collisions {
			fmt.Printf("runr: collision with active run %s (phase=%s) on files: %v\n", c.RunID, c.Phase, c.OverlapFiles)
		}
		runstate.StopRun(state, "parallel_file_collision", now)
		if err := store.WriteState(paths, state); err != nil {
			return setupExit(fmt.Errorf("writing collision-stopped state: %w", err))
		}
		return finishRun(paths, repo, baseRef, supervisor.LoopResult{FinalState: state, StopReason: state.StopReason}, nil)
	}

	if err := store.WriteState(paths, state); err != nil {
		return setupExit(fmt.Errorf("writing initial state: %w", err))
	}

	tl, err := store.OpenTimeline(paths)
	if err != nil {
		return setupExit(fmt.Errorf("opening timeline: %w", err))
	}

	logger := newLogger()
	if runFlags.fast {
		cfg.Verification.Tier2 = nil
	}

	deps := supervisor.Deps{
		Paths:     paths,
		Timeline:  tl,
		Repo:      repo,
		Config:    cfg,
		Workers:   workerConfigs(cfg),
		Logger:    logger,
		TaskBody:  string(taskBody),
		BaseRef:   baseRef,
		RunBranch: runBranch,
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("received signal, stopping after current tick", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("runr: run %s started on branch %s (base %s)\n", runID, runBranch, baseRef)

	result, loopErr := supervisor.RunLoop(ctx, deps, runFlags.maxTicks, time.Duration(runFlags.timeMinutes)*time.Minute)

	if runFlags.autoResume && result.FinalState != nil && result.FinalState.Phase == store.PhaseStopped &&
		watcher.IsResumable(result.StopReason) {
		watcherCfg := watcher.Config{MaxAttempts: cfg.Resilience.MaxAutoResumes}
		resume := func(rctx context.Context) error {
			r, rerr := supervisor.RunLoop(rctx, deps, runFlags.maxTicks, time.Duration(runFlags.timeMinutes)*time.Minute)
			result = r
			return rerr
		}
		if _, werr := watcher.Watch(ctx, paths, watcherCfg, resume, logger); werr != nil {
			logger.Warn("auto-resume watcher stopped", "error", werr)
		}
		loopErr = nil
	}

	return finishRun(paths, repo, baseRef, result, loopErr)
}

// scanSiblingCollisions reads every other active run under runsRoot
// and checks it against mine via the two-stage collision scan
// (spec.md §4.7), skipping the run directory just created for this
// invocation.
func scanSiblingCollisions(runsRoot, myRunID string, mine *store.RunState, now time.Time) (collision.Report, error) {
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return collision.Report{}, nil
		}
		return collision.Report{}, fmt.Errorf("listing runs under %s: %w", runsRoot, err)
	}

	var siblings []collision.Sibling
	for _, e := range entries {
		if !e.IsDir() || e.Name() == myRunID {
			continue
		}
		sibState, err := store.ReadState(store.NewPaths(runsRoot, e.Name()))
		if err != nil || !store.IsActivePhase(sibState.Phase) {
			continue
		}
		sib := collision.Sibling{
			RunID:     sibState.RunID,
			Phase:     string(sibState.Phase),
			StartedAt: sibState.StartedAt,
			Allowlist: sibState.ScopeLock.Allowlist,
		}
		if m, ok := currentMilestoneFiles(sibState); ok {
			sib.FilesExpected = m
		}
		siblings = append(siblings, sib)
	}
	if len(siblings) == 0 {
		return collision.Report{}, nil
	}

	myFiles, _ := currentMilestoneFiles(mine)
	return collision.Scan(context.Background(), now, collision.Sibling{
		RunID:         myRunID,
		Allowlist:     mine.ScopeLock.Allowlist,
		FilesExpected: myFiles,
	}, siblings, 0)
}

func currentMilestoneFiles(s *store.RunState) ([]string, bool) {
	if s.MilestoneIndex < 0 || s.MilestoneIndex >= len(s.Milestones) {
		return nil, false
	}
	return s.Milestones[s.MilestoneIndex].FilesExpected, true
}

// finishRun writes the terminal receipt and, on a non-complete stop,
// the structured diagnosis, then maps the outcome to the spec's exit
// codes (spec.md §6.5).
func finishRun(paths store.Paths, repo *gitfacade.Repo, baseRef string, result supervisor.LoopResult, loopErr error) error {
	state := result.FinalState
	if state == nil {
		return setupExit(fmt.Errorf("run loop returned no state: %w", loopErr))
	}

	if _, err := receipt.Write(paths, repo, state.RunID, baseRef, state.CheckpointCommitSHA, "", state.StopReason, ""); err != nil {
		fmt.Fprintf(os.Stderr, "warning: writing receipt: %s\n", err)
	}

	if state.Phase != store.PhaseStopped {
		return setupExit(fmt.Errorf("run loop exited without stopping: %w", loopErr))
	}

	if state.StopReason == "complete" {
		fmt.Printf("runr: run %s complete (checkpoint %s)\n", state.RunID, state.CheckpointCommitSHA)
		return nil
	}

	events, _ := store.ReadTimeline(paths)
	d := diagnosis.Diagnose(diagnosis.Input{State: state, Events: events, RunID: state.RunID}, time.Now().UTC().Format(time.RFC3339))
	d.ResumeCommand = fmt.Sprintf("runr resume %s", state.RunID)
	data, _ := json.MarshalIndent(d, "", "  ")
	_ = store.WriteStop(paths, data, diagnosis.RenderMarkdown(d))

	fmt.Printf("runr: run %s stopped: %s (%s)\n", state.RunID, state.StopReason, d.PrimaryDiagnosis)
	return stoppedExit(fmt.Errorf("run stopped: %s", state.StopReason))
}
