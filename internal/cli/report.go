package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/weldr-dev/runr/internal/store"
)

var reportFlags struct {
	asJSON  bool
	kpiOnly bool
	tail    int
}

func init() {
	reportCmd.Flags().BoolVar(&reportFlags.asJSON, "json", false, "emit the report as JSON")
	reportCmd.Flags().BoolVar(&reportFlags.kpiOnly, "kpi-only", false, "print only the summary KPIs (milestones, retries, review rounds)")
	reportCmd.Flags().IntVar(&reportFlags.tail, "tail", 0, "show only the last N timeline events (0 = all)")
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report <id>",
	Short: "Print a run's terminal summary, KPIs, and timeline",
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
		return renderReport(paths)
	},
}

// reportKPIs is the machine- and human-readable KPI block shared by
// --json and plain rendering.
type reportKPIs struct {
	RunID           string `json:"run_id"`
	Phase           string `json:"phase"`
	MilestonesDone  int    `json:"milestones_done"`
	MilestonesTotal int    `json:"milestones_total"`
	Retries         int    `json:"retries"`
	MilestoneRetries int   `json:"milestone_retries"`
	ReviewRounds    int    `json:"review_rounds"`
	AutoResumeCount int    `json:"auto_resume_count"`
	StopReason      string `json:"stop_reason,omitempty"`
	CheckpointSHA   string `json:"checkpoint_commit_sha,omitempty"`
}

func kpisFromState(s *store.RunState) reportKPIs {
	return reportKPIs{
		RunID:            s.RunID,
		Phase:            string(s.Phase),
		MilestonesDone:   s.MilestoneIndex,
		MilestonesTotal:  len(s.Milestones),
		Retries:          s.Retries,
		MilestoneRetries: s.MilestoneRetries,
		ReviewRounds:     s.ReviewRounds,
		AutoResumeCount:  s.AutoResumeCount,
		StopReason:       s.StopReason,
		CheckpointSHA:    s.CheckpointCommitSHA,
	}
}

func renderReport(p store.Paths) error {
	state, err := store.ReadState(p)
	if err != nil {
		return fmt.Errorf("reading run state: %w", err)
	}
	events, err := store.ReadTimeline(p)
	if err != nil {
		return fmt.Errorf("reading timeline: %w", err)
	}
	if reportFlags.tail > 0 && len(events) > reportFlags.tail {
		events = events[len(events)-reportFlags.tail:]
	}
	kpis := kpisFromState(state)

	if reportFlags.asJSON {
		out := struct {
			KPIs   reportKPIs    `json:"kpis"`
			Events []store.Event `json:"events,omitempty"`
		}{KPIs: kpis}
		if !reportFlags.kpiOnly {
			out.Events = events
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling report: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Run %s\n", kpis.RunID)
	fmt.Printf("  phase:             %s\n", kpis.Phase)
	fmt.Printf("  milestones:        %d/%d\n", kpis.MilestonesDone, kpis.MilestonesTotal)
	fmt.Printf("  retries:           %d\n", kpis.Retries)
	fmt.Printf("  milestone retries: %d\n", kpis.MilestoneRetries)
	fmt.Printf("  review rounds:     %d\n", kpis.ReviewRounds)
	fmt.Printf("  auto-resumes:      %d\n", kpis.AutoResumeCount)
	if kpis.StopReason != "" {
		fmt.Printf("  stop reason:       %s\n", kpis.StopReason)
	}
	if kpis.CheckpointSHA != "" {
		fmt.Printf("  checkpoint:        %s\n", short(kpis.CheckpointSHA))
	}

	if reportFlags.kpiOnly {
		return nil
	}

	fmt.Printf("\nTimeline (%d events)\n", len(events))
	for _, ev := range events {
		fmt.Printf("  [%d] %s  %-28s  source=%s\n", ev.Seq, ev.Timestamp.Format("15:04:05"), ev.Type, ev.Source)
	}

	if stopData, err := os.ReadFile(p.StopMDFile()); err == nil {
		fmt.Printf("\n%s\n", string(stopData))
	}
	return nil
}
