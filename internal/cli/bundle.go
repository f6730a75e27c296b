package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/weldr-dev/runr/internal/fileutil"
	"github.com/weldr-dev/runr/internal/gitfacade"
	"github.com/weldr-dev/runr/internal/store"
	"github.com/weldr-dev/runr/internal/submit"
)

var bundleFlags struct {
	output string
}

func init() {
	bundleCmd.Flags().StringVar(&bundleFlags.output, "output", "", "write the bundle to this path instead of stdout")
	rootCmd.AddCommand(bundleCmd)
}

var bundleCmd = &cobra.Command{
	Use:   "bundle <id>",
	Short: "Render a run's deterministic evidence packet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		toRef := state.CheckpointCommitSHA
		if toRef == "" {
			toRef = "HEAD"
		}
		diffstat, _ := repo.DiffStat(state.BaseRef, toRef)

		tierLogs := map[string]string{}
		for _, tier := range []string{"tier0", "tier1", "tier2"} {
			name := store.VerificationLogName(tier)
			if data, err := os.ReadFile(paths.Artifact(name)); err == nil {
				tierLogs[tier] = string(data)
			}
		}

		body, err := submit.Bundle(paths, state, state.BaseRef, diffstat, tierLogs)
		if err != nil {
			return setupExit(fmt.Errorf("rendering bundle: %w", err))
		}

		if bundleFlags.output == "" {
			fmt.Print(body)
			return nil
		}
		if err := fileutil.WriteFileAtomic(bundleFlags.output, []byte(body), 0o644); err != nil {
			return setupExit(fmt.Errorf("writing bundle to %s: %w", bundleFlags.output, err))
		}
		fmt.Printf("runr: wrote bundle to %s\n", bundleFlags.output)
		return nil
	},
}
