package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weldr-dev/runr/internal/gitfacade"
	"github.com/weldr-dev/runr/internal/store"
	"github.com/weldr-dev/runr/internal/supervisor"
	"github.com/weldr-dev/runr/internal/watcher"
)

var resumeFlags struct {
	maxTicks    int
	timeMinutes int
	allowDeps   bool
	autoResume  bool
}

func init() {
	resumeCmd.Flags().IntVar(&resumeFlags.maxTicks, "max-ticks", defaultMaxTicks, "maximum number of supervisor ticks before stopping")
	resumeCmd.Flags().IntVar(&resumeFlags.timeMinutes, "time", defaultTimeMins, "wall-clock time budget in minutes before stopping")
	resumeCmd.Flags().BoolVar(&resumeFlags.allowDeps, "allow-deps", false, "permit changes to configured lockfiles")
	resumeCmd.Flags().BoolVar(&resumeFlags.autoResume, "auto-resume", false, "automatically resume again on a further transient stop reason")
	rootCmd.AddCommand(resumeCmd)
}

var resumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a stopped run from its last successful phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doResume(cmd.Context(), args[0])
	},
}

func doResume(parentCtx context.Context, runID string) error {
	cfg, err := loadAndValidateConfig(configPath)
	if err != nil {
		return setupExit(err)
	}
	if resumeFlags.allowDeps {
		cfg.Scope.AllowDeps = true
	}

	cfgAbsPath, err := abs(configPath)
	if err != nil {
		return setupExit(err)
	}
	repoDir := findGitRoot(filepath.Dir(cfgAbsPath))
	if repoDir == "" {
		return setupExit(fmt.Errorf("could not find git repository root from %s", filepath.Dir(cfgAbsPath)))
	}

	paths, err := findRun(runsRootFor(repoDir), runID)
	if err != nil {
		return setupExit(err)
	}
	state, err := store.ReadState(paths)
	if err != nil {
		return setupExit(fmt.Errorf("reading run state: %w", err))
	}
	if state.Phase != store.PhaseStopped {
		return setupExit(fmt.Errorf("run %s is not stopped (phase=%s)", state.RunID, state.Phase))
	}

	repoPath := repoDir
	if state.WorktreePath != "" {
		repoPath = state.WorktreePath
	}
	repo := gitfacade.NewRepo(repoPath)
	if err := repo.Checkout(state.RunBranch); err != nil {
		return setupExit(fmt.Errorf("checking out run branch %s: %w", state.RunBranch, err))
	}

	prepareResumeTarget(state, time.Now())
	if err := store.WriteState(paths, state); err != nil {
		return setupExit(fmt.Errorf("writing resumed state: %w", err))
	}

	tl, err := store.OpenTimeline(paths)
	if err != nil {
		return setupExit(fmt.Errorf("opening timeline: %w", err))
	}

	taskBody := readArtifactForResume(paths)
	logger := newLogger()
	deps := supervisor.Deps{
		Paths:     paths,
		Timeline:  tl,
		Repo:      repo,
		Config:    cfg,
		Workers:   workerConfigs(cfg),
		Logger:    logger,
		TaskBody:  taskBody,
		BaseRef:   state.BaseRef,
		RunBranch: state.RunBranch,
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

	fmt.Printf("runr: resuming run %s at phase %s\n", state.RunID, state.Phase)

	result, loopErr := supervisor.RunLoop(ctx, deps, resumeFlags.maxTicks, time.Duration(resumeFlags.timeMinutes)*time.Minute)
	if resumeFlags.autoResume && result.FinalState != nil && result.FinalState.Phase == store.PhaseStopped &&
		watcher.IsResumable(result.StopReason) {
		watcherCfg := watcher.Config{MaxAttempts: cfg.Resilience.MaxAutoResumes}
		resume := func(rctx context.Context) error {
			r, rerr := supervisor.RunLoop(rctx, deps, resumeFlags.maxTicks, time.Duration(resumeFlags.timeMinutes)*time.Minute)
			result = r
			return rerr
		}
		if _, werr := watcher.Watch(ctx, paths, watcherCfg, resume, logger); werr != nil {
			logger.Warn("auto-resume watcher stopped", "error", werr)
		}
		loopErr = nil
	}
	return finishRun(paths, repo, state.BaseRef, result, loopErr)
}

// readArtifactForResume returns the contents of the run's plan.md (the
// planner's milestone list) as the task context for a resumed run. The
// original task file is never copied into the run directory, so the
// task text itself is not recovered, and a run whose plan.md was never
// written resumes with an empty task body.
func readArtifactForResume(p store.Paths) string {
	data, err := os.ReadFile(p.PlanFile())
	if err != nil {
		return ""
	}
	return string(data)
}
