// Package submit implements the Submit/Bundle Pipeline: a
// deterministic evidence packet (Bundle) and a cherry-pick-based
// integration flow (Submit) that always restores the starting branch.
// Grounded on the teacher's commitChanges/pushBranch flow in
// internal/engine (stage → commit → branch-restore discipline),
// generalized from "one fixed push target" to "validate, cherry-pick
// onto any configured target, recover on conflict" (spec.md §4.12).
package submit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/weldr-dev/runr/internal/store"
)

// Bundle renders a deterministic markdown evidence packet for a run:
// run id, checkpoint SHA, verification evidence, diffstat between
// base and checkpoint, and a sorted summary of event types. It reads
// only from already-persisted, already-timestamped artifacts — it
// never consults the wall clock — so calling Bundle twice against the
// same run directory produces byte-identical output (spec.md §4.12).
func Bundle(p store.Paths, state *store.RunState, baseRef, diffstat string, tierLogs map[string]string) (string, error) {
	events, err := store.ReadTimeline(p)
	if err != nil {
		return "", fmt.Errorf("reading timeline for bundle: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run Bundle: %s\n\n", state.RunID)
	fmt.Fprintf(&sb, "- base_ref: %s\n", baseRef)
	fmt.Fprintf(&sb, "- checkpoint_sha: %s\n", state.CheckpointCommitSHA)
	fmt.Fprintf(&sb, "- milestones_done: %d/%d\n", state.MilestoneIndex, len(state.Milestones))
	fmt.Fprintf(&sb, "- terminal_state: %s\n\n", terminalLabel(state))

	fmt.Fprintf(&sb, "## Diffstat\n\n```\n%s\n```\n\n", strings.TrimRight(diffstat, "\n"))

	fmt.Fprintf(&sb, "## Verification Evidence\n\n")
	tiers := make([]string, 0, len(tierLogs))
	for tier := range tierLogs {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	if len(tiers) == 0 {
		fmt.Fprintf(&sb, "(no verification evidence recorded)\n\n")
	}
	for _, tier := range tiers {
		fmt.Fprintf(&sb, "### %s\n\n```\n%s\n```\n\n", tier, strings.TrimRight(tierLogs[tier], "\n"))
	}

	fmt.Fprintf(&sb, "## Event Summary\n\n")
	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&sb, "- %s: %d\n", t, counts[t])
	}

	return sb.String(), nil
}

func terminalLabel(state *store.RunState) string {
	if state.Phase == store.PhaseStopped {
		if state.StopReason == "" {
			return "stopped"
		}
		return state.StopReason
	}
	return string(state.Phase)
}
