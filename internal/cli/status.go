package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/weldr-dev/runr/internal/store"
)

// ANSI escape codes, matching the teacher's internal/cli/colors.go
// palette rather than reaching for a styling library for plain
// terminal text.
const (
	ansiGreen  = "\033[32m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiDim    = "\033[2m"
	ansiReset  = "\033[0m"
)

var statusFlags struct {
	all bool
}

func init() {
	statusCmd.Flags().BoolVar(&statusFlags.all, "all", false, "show every run under the repo's runs directory")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show the status of one run, or every run with --all",
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

		if statusFlags.all {
			return renderAllStatus(os.Stdout, runsRoot)
		}
		if len(args) != 1 {
			return setupExit(fmt.Errorf("status requires a run id, or pass --all"))
		}
		paths, err := findRun(runsRoot, args[0])
		if err != nil {
			return setupExit(err)
		}
		return renderOneStatus(os.Stdout, paths)
	},
}

// phaseDisplay returns the symbol and color for a run's current phase,
// matching the teacher's stateDisplay lookup shape.
func phaseDisplay(s *store.RunState) (symbol, color string) {
	if s.Phase == store.PhaseStopped {
		switch s.StopReason {
		case "complete":
			return "✓", ansiGreen
		case "":
			return "?", ansiDim
		default:
			return "✗", ansiRed
		}
	}
	if store.IsActivePhase(s.Phase) {
		return "⟳", ansiYellow
	}
	return "◯", ansiReset
}

func renderOneStatus(w io.Writer, p store.Paths) error {
	s, err := store.ReadState(p)
	if err != nil {
		return fmt.Errorf("reading run state: %w", err)
	}
	symbol, color := phaseDisplay(s)
	fmt.Fprintf(w, "%s%s%s  run %s\n", color, symbol, ansiReset, s.RunID)
	fmt.Fprintf(w, "  phase:      %s\n", s.Phase)
	fmt.Fprintf(w, "  milestone:  %d/%d\n", s.MilestoneIndex, len(s.Milestones))
	if s.CheckpointCommitSHA != "" {
		fmt.Fprintf(w, "  checkpoint: %s\n", short(s.CheckpointCommitSHA))
	}
	if s.Phase == store.PhaseStopped {
		fmt.Fprintf(w, "  stop_reason: %s\n", s.StopReason)
	}
	fmt.Fprintf(w, "  updated:    %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func renderAllStatus(w io.Writer, runsRoot string) error {
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "(no runs found)")
			return nil
		}
		return fmt.Errorf("listing runs under %s: %w", runsRoot, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Run Status")
	fmt.Fprintln(w, "──────────────────────────────────────")
	for _, name := range names {
		p := store.NewPaths(runsRoot, name)
		s, err := store.ReadState(p)
		if err != nil {
			fmt.Fprintf(w, "  %s  %-26s  (unreadable: %s)\n", ansiDim+"·"+ansiReset, name, err)
			continue
		}
		symbol, color := phaseDisplay(s)
		detail := string(s.Phase)
		if s.Phase == store.PhaseStopped {
			detail = s.StopReason
		}
		fmt.Fprintf(w, "  %s%s%s  %-26s  %s (%d/%d milestones)\n",
			color, symbol, ansiReset, name, detail, s.MilestoneIndex, len(s.Milestones))
	}
	return nil
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
