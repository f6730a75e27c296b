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

var watchFlags struct {
	maxAttempts int
	maxTicks    int
	timeMinutes int
}

func init() {
	watchCmd.Flags().IntVar(&watchFlags.maxAttempts, "max-attempts", watcher.DefaultMaxAttempts, "maximum auto-resume attempts before giving up")
	watchCmd.Flags().IntVar(&watchFlags.maxTicks, "max-ticks", defaultMaxTicks, "maximum supervisor ticks per resume attempt")
	watchCmd.Flags().IntVar(&watchFlags.timeMinutes, "time", defaultTimeMins, "wall-clock time budget in minutes per resume attempt")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Poll a run and automatically resume it on a transient stop reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doWatch(cmd.Context(), args[0])
	},
}

func doWatch(parentCtx context.Context, runID string) error {
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

	paths, err := findRun(runsRootFor(repoDir), runID)
	if err != nil {
		return setupExit(err)
	}

	logger := newLogger()

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("received signal, stopping watcher", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	resume := func(rctx context.Context) error {
		state, err := store.ReadState(paths)
		if err != nil {
			return fmt.Errorf("reading run state: %w", err)
		}

		repoPath := repoDir
		if state.WorktreePath != "" {
			repoPath = state.WorktreePath
		}
		repo := gitfacade.NewRepo(repoPath)
		if err := repo.Checkout(state.RunBranch); err != nil {
			return fmt.Errorf("checking out run branch %s: %w", state.RunBranch, err)
		}

		tl, err := store.OpenTimeline(paths)
		if err != nil {
			return fmt.Errorf("opening timeline: %w", err)
		}

		deps := supervisor.Deps{
			Paths:     paths,
			Timeline:  tl,
			Repo:      repo,
			Config:    cfg,
			Workers:   workerConfigs(cfg),
			Logger:    logger,
			TaskBody:  readArtifactForResume(paths),
			BaseRef:   state.BaseRef,
			RunBranch: state.RunBranch,
		}

		_, loopErr := supervisor.RunLoop(rctx, deps, watchFlags.maxTicks, time.Duration(watchFlags.timeMinutes)*time.Minute)
		return loopErr
	}

	watcherCfg := watcher.Config{MaxAttempts: watchFlags.maxAttempts}
	res, watchErr := watcher.Watch(ctx, paths, watcherCfg, resume, logger)

	finalState, stateErr := store.ReadState(paths)
	if stateErr != nil {
		if watchErr != nil {
			return stoppedExit(fmt.Errorf("watch ended after %d attempts: %w", res.Attempts, watchErr))
		}
		return setupExit(fmt.Errorf("reading final run state: %w", stateErr))
	}
	repoPath := repoDir
	if finalState.WorktreePath != "" {
		repoPath = finalState.WorktreePath
	}
	repo := gitfacade.NewRepo(repoPath)
	loopResult := supervisor.LoopResult{FinalState: finalState, StopReason: finalState.StopReason}

	if watchErr != nil {
		_ = finishRun(paths, repo, finalState.BaseRef, loopResult, nil)
		return stoppedExit(fmt.Errorf("watch ended after %d attempts: %w", res.Attempts, watchErr))
	}

	fmt.Printf("runr: watch ended for run %s: stop_reason=%s attempts=%d\n", runID, res.StopReason, res.Attempts)
	return finishRun(paths, repo, finalState.BaseRef, loopResult, nil)
}
