// Package diagnosis classifies a stopped run into a category with
// signals, confidence, and next actions, scanning the stopped state
// and its event log against a fixed rule table (spec.md §4.8). The
// table-driven match-and-render shape is grounded on the teacher's
// internal/cli/colors.go stateDisplay lookup, generalized from a
// state→presentation table into a stopped-state→diagnosis table.
package diagnosis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/weldr-dev/runr/internal/store"
)

// Diagnosis is the spec's StopDiagnosis (spec.md §3.1).
type Diagnosis struct {
	Outcome           string   `json:"outcome"`
	StopReason        string   `json:"stop_reason"`
	StopReasonFamily  string   `json:"stop_reason_family"`
	PrimaryDiagnosis  string   `json:"primary_diagnosis"`
	Confidence        float64  `json:"confidence"`
	Signals           []string `json:"signals"`
	NextActions       []string `json:"next_actions"`
	RelatedArtifacts  map[string]string `json:"related_artifacts,omitempty"`
	ResumeCommand     string   `json:"resume_command,omitempty"`
	DiagnosedAt       string   `json:"diagnosed_at"`
}

// Input bundles everything a rule needs to evaluate.
type Input struct {
	State    *store.RunState
	Events   []store.Event
	RunID    string
}

type rule struct {
	name       string
	family     string
	match      func(Input) (signals []string, confidence float64)
	nextAction []string
}

var loginErrorPattern = regexp.MustCompile(`(?i)login|401|oauth`)

var rules = []rule{
	{
		name:   "auth_expired",
		family: "auth_expired",
		match: func(in Input) ([]string, float64) {
			var signals []string
			for _, ev := range in.Events {
				if ev.Type == store.EventPreflight {
					if cls, _ := ev.Payload["category"].(string); cls == "auth" {
						signals = append(signals, "preflight ping category=auth")
					}
				}
				if ev.Type == store.EventWorkerError {
					if text, _ := ev.Payload["text"].(string); loginErrorPattern.MatchString(text) {
						signals = append(signals, "worker_error matched login/401/oauth pattern")
					}
				}
			}
			if len(signals) == 0 {
				return nil, 0
			}
			return signals, 0.9
		},
		nextAction: []string{"re-authenticate", "run doctor"},
	},
	{
		name:   "verification_cwd_mismatch",
		family: "verification_cwd_mismatch",
		match: func(in Input) ([]string, float64) {
			var signals []string
			for _, ev := range in.Events {
				if reason, _ := ev.Payload["reason"].(string); reason == "verification_cwd_missing" {
					signals = append(signals, "guard reason verification_cwd_missing")
				}
				if out, _ := ev.Payload["output"].(string); strings.Contains(out, "ENOENT") || strings.Contains(out, "package.json") {
					signals = append(signals, "verification output references a missing path")
				}
			}
			if len(signals) == 0 {
				return nil, 0
			}
			return signals, 0.85
		},
		nextAction: []string{"set verification.cwd", "check tier paths"},
	},
	{
		name:   "scope_violation",
		family: "scope_violation",
		match: func(in Input) ([]string, float64) {
			var signals []string
			if in.State.StopReason == "scope_violation" {
				signals = append(signals, "stop_reason=scope_violation")
			}
			for _, ev := range in.Events {
				if ev.Type == store.EventGuardViolation {
					if v, ok := ev.Payload["scope_violations"].([]interface{}); ok && len(v) > 0 {
						signals = append(signals, "guard event with non-empty scope_violations")
					}
				}
			}
			if len(signals) == 0 {
				return nil, 0
			}
			// Highest-confidence guard class: a denylist/allowlist
			// mismatch is reported with the exact offending paths, so
			// there is no ambiguity about what to do next.
			return signals, 0.92
		},
		nextAction: []string{"broaden allowlist", "narrow task"},
	},
	{
		name:   "lockfile_restricted",
		family: "lockfile_restricted",
		match: func(in Input) ([]string, float64) {
			var signals []string
			if in.State.StopReason == "lockfile_restricted" {
				signals = append(signals, "stop_reason=lockfile_restricted")
			}
			for _, ev := range in.Events {
				if ev.Type == store.EventGuardViolation {
					if v, ok := ev.Payload["lockfile_violations"].([]interface{}); ok && len(v) > 0 {
						signals = append(signals, "guard event with non-empty lockfile_violations")
					}
				}
			}
			if len(signals) == 0 {
				return nil, 0
			}
			return signals, 0.85
		},
		nextAction: []string{"pass --allow-deps", "rewrite task"},
	},
	{
		name:   "ownership_violation",
		family: "ownership_violation",
		match: func(in Input) ([]string, float64) {
			var signals []string
			if in.State.StopReason == "ownership_violation" {
				signals = append(signals, "stop_reason=ownership_violation")
			}
			for _, ev := range in.Events {
				if ev.Type == store.EventGuardViolation {
					if v, ok := ev.Payload["ownership_violations"].([]interface{}); ok && len(v) > 0 {
						signals = append(signals, "guard event with non-empty ownership_violations")
					}
				}
			}
			if len(signals) == 0 {
				return nil, 0
			}
			return signals, 0.8
		},
		nextAction: []string{"broaden owned_paths", "split the run by owner"},
	},
	{
		name:   "verification_failure",
		family: "verification_failure",
		match: func(in Input) ([]string, float64) {
			var signals []string
			for _, ev := range in.Events {
				if ev.Type == store.EventVerification {
					if ok, present := ev.Payload["ok"].(bool); present && !ok {
						signals = append(signals, "verification event ok=false")
					}
				}
			}
			if in.State.StopReason == "verification_failed_max_retries" {
				signals = append(signals, "stop_reason=verification_failed_max_retries")
			}
			if len(signals) == 0 {
				return nil, 0
			}
			return signals, 0.75
		},
		nextAction: []string{"run failing command", "inspect tests_tier0.log"},
	},
	{
		name:   "worker_parse_failure",
		family: "worker_parse_failure",
		match: func(in Input) ([]string, float64) {
			var signals []string
			if strings.HasSuffix(in.State.StopReason, "_parse_failed") {
				signals = append(signals, "stop_reason ends in _parse_failed")
			}
			for _, ev := range in.Events {
				if ev.Type == store.EventWorkerFallback {
					signals = append(signals, "worker_fallback event present")
				}
			}
			if len(signals) == 0 {
				return nil, 0
			}
			return signals, 0.7
		},
		nextAction: []string{"retry with alternate", "open worker response artifact"},
	},
	{
		name:   "stall_timeout",
		family: "stall_timeout",
		match: func(in Input) ([]string, float64) {
			if in.State.StopReason != "stalled_timeout" {
				return nil, 0
			}
			signals := []string{"stop_reason=stalled_timeout"}
			for _, ev := range in.Events {
				if v, _ := ev.Payload["worker_in_flight"].(bool); v {
					signals = append(signals, "worker_in_flight was true at stop")
				}
			}
			return signals, 0.65
		},
		nextAction: []string{"raise worker timeout", "inspect last progress"},
	},
	{
		name:   "max_ticks_reached",
		family: "max_ticks_reached",
		match: func(in Input) ([]string, float64) {
			if in.State.StopReason != "max_ticks_reached" {
				return nil, 0
			}
			return []string{"stop_reason=max_ticks_reached"}, 0.6
		},
		nextAction: []string{"resume with ticks × 1.5"},
	},
	{
		name:   "time_budget_exceeded",
		family: "time_budget_exceeded",
		match: func(in Input) ([]string, float64) {
			if in.State.StopReason != "time_budget_exceeded" {
				return nil, 0
			}
			return []string{"stop_reason=time_budget_exceeded"}, 0.6
		},
		nextAction: []string{"resume with larger --time"},
	},
	{
		name:   "guard_violation_dirty",
		family: "guard_violation_dirty",
		match: func(in Input) ([]string, float64) {
			for _, ev := range in.Events {
				if ev.Type == store.EventGuardViolation {
					if reasons, ok := ev.Payload["reasons"].([]interface{}); ok {
						for _, r := range reasons {
							if s, _ := r.(string); s == "dirty_worktree" {
								return []string{"guard reasons includes dirty_worktree"}, 0.5
							}
						}
					}
				}
			}
			return nil, 0
		},
		nextAction: []string{"enable worktree mode", "stash"},
	},
}

// Diagnose evaluates every rule against in and returns the
// highest-confidence diagnosis. Confidence is a fixed heuristic score
// per rule in [0.5, 0.95]; ties are broken by rule order. A rule
// returning 0 is discarded. If every rule returns 0, an "unknown"
// diagnosis with a generic "read timeline" next action is emitted.
func Diagnose(in Input, diagnosedAt string) Diagnosis {
	var best *rule
	var bestSignals []string
	var bestConfidence float64

	for i := range rules {
		r := &rules[i]
		signals, confidence := r.match(in)
		if confidence <= 0 {
			continue
		}
		if best == nil || confidence > bestConfidence {
			best = r
			bestSignals = signals
			bestConfidence = confidence
		}
	}

	if best == nil {
		return Diagnosis{
			Outcome:          "stopped",
			StopReason:       in.State.StopReason,
			StopReasonFamily: "unknown",
			PrimaryDiagnosis: "unknown",
			Confidence:       0.5,
			Signals:          []string{"no rule matched the stopped state"},
			NextActions:      []string{"read timeline"},
			DiagnosedAt:      diagnosedAt,
		}
	}

	return Diagnosis{
		Outcome:          "stopped",
		StopReason:       in.State.StopReason,
		StopReasonFamily: best.family,
		PrimaryDiagnosis: best.name,
		Confidence:       bestConfidence,
		Signals:          bestSignals,
		NextActions:      best.nextAction,
		DiagnosedAt:      diagnosedAt,
	}
}

// RenderMarkdown renders d as the human-readable stop.md explanation
// (spec.md §7 "User-visible failure").
func RenderMarkdown(d Diagnosis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Stop Diagnosis\n\n")
	fmt.Fprintf(&sb, "- outcome: %s\n", d.Outcome)
	fmt.Fprintf(&sb, "- stop_reason: %s\n", d.StopReason)
	fmt.Fprintf(&sb, "- primary_diagnosis: %s (confidence %.2f)\n", d.PrimaryDiagnosis, d.Confidence)
	fmt.Fprintf(&sb, "- diagnosed_at: %s\n\n", d.DiagnosedAt)

	fmt.Fprintf(&sb, "## Signals\n\n")
	for _, s := range d.Signals {
		fmt.Fprintf(&sb, "- %s\n", s)
	}

	fmt.Fprintf(&sb, "\n## Next Actions\n\n")
	for _, a := range d.NextActions {
		fmt.Fprintf(&sb, "- %s\n", a)
	}

	if d.ResumeCommand != "" {
		fmt.Fprintf(&sb, "\nResume with: `%s`\n", d.ResumeCommand)
	}
	return sb.String()
}
