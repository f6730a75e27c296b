package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/weldr-dev/runr/internal/fileutil"
	"github.com/weldr-dev/runr/internal/store"
)

var gcFlags struct {
	olderThan time.Duration
	dryRun    bool
}

func init() {
	gcCmd.Flags().DurationVar(&gcFlags.olderThan, "older-than", 14*24*time.Hour, "remove run directories whose state was last updated before this long ago")
	gcCmd.Flags().BoolVar(&gcFlags.dryRun, "dry-run", false, "list what would be removed without removing it")
	rootCmd.AddCommand(gcCmd)
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove stopped run directories older than a threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgAbsPath, err := abs(configPath)
		if err != nil {
			return setupExit(err)
		}
		repoDir := findGitRoot(filepath.Dir(cfgAbsPath))
		if repoDir == "" {
			return setupExit(fmt.Errorf("could not find git repository root from %s", filepath.Dir(cfgAbsPath)))
		}
		runsRoot := runsRootFor(repoDir)

		entries, err := os.ReadDir(runsRoot)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("runr: no runs directory to collect")
				return nil
			}
			return setupExit(fmt.Errorf("listing runs under %s: %w", runsRoot, err))
		}

		cutoff := time.Now().Add(-gcFlags.olderThan)
		removed := 0
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			p := store.NewPaths(runsRoot, e.Name())
			s, err := store.ReadState(p)
			if err != nil {
				fmt.Printf("  skip %-26s  (unreadable state: %s)\n", e.Name(), err)
				continue
			}
			if s.Phase != store.PhaseStopped {
				fmt.Printf("  skip %-26s  (still active, phase=%s)\n", e.Name(), s.Phase)
				continue
			}
			if s.UpdatedAt.After(cutoff) {
				continue
			}
			if !fileutil.Exists(p.ReceiptFile()) {
				fmt.Printf("  skip %-26s  (no receipt.json)\n", e.Name())
				continue
			}

			if gcFlags.dryRun {
				fmt.Printf("  would remove %-26s  (updated %s)\n", e.Name(), s.UpdatedAt.Format("2006-01-02"))
				continue
			}
			if err := os.RemoveAll(p.Root); err != nil {
				fmt.Printf("  error removing %s: %s\n", e.Name(), err)
				continue
			}
			fmt.Printf("  removed %s\n", e.Name())
			removed++
		}

		if !gcFlags.dryRun {
			fmt.Printf("runr: removed %d run director%s\n", removed, plural(removed))
		}
		return nil
	},
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
