package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/weldr-dev/runr/internal/gitfacade"
	"github.com/weldr-dev/runr/internal/runstate"
	"github.com/weldr-dev/runr/internal/scope"
	"github.com/weldr-dev/runr/internal/store"
	"github.com/weldr-dev/runr/internal/verify"
	"github.com/weldr-dev/runr/internal/worker"
)

// handlePhase dispatches to the handler for state.Phase, emitting
// phase_start on entry; each handler appends its own outcome events.
// Not every phase ends with a *_complete or stop event: INIT, for one,
// advances to PLAN without emitting anything further.
func handlePhase(ctx context.Context, d Deps, state *store.RunState) (*store.RunState, error) {
	now := time.Now()
	phase := state.Phase

	if d.Timeline != nil {
		_, _ = d.Timeline.AppendEvent(store.EventPhaseStart, "supervisor", map[string]interface{}{
			"phase": string(phase),
		})
	}

	switch phase {
	case store.PhaseInit:
		runstate.UpdatePhase(state, store.PhasePlan, now)
		return state, nil
	case store.PhasePlan:
		return handlePlan(ctx, d, state, now)
	case store.PhaseImplement:
		return handleImplement(ctx, d, state, now)
	case store.PhaseVerify:
		return handleVerify(ctx, d, state, now)
	case store.PhaseReview:
		return handleReview(ctx, d, state, now)
	case store.PhaseCheckpoint:
		return handleCheckpoint(ctx, d, state, now)
	case store.PhaseFinalize:
		return handleFinalize(ctx, d, state, now)
	default:
		return nil, fmt.Errorf("unknown phase %q", phase)
	}
}

func stop(d Deps, state *store.RunState, reason string, now time.Time) *store.RunState {
	applyStop(d, state, reason, now)
	return state
}

// handlePlan invokes the planner worker, stores milestones, and
// transitions to IMPLEMENT.
func handlePlan(ctx context.Context, d Deps, state *store.RunState, now time.Time) (*store.RunState, error) {
	cfg, ok := d.Workers["planner"]
	if !ok {
		return stop(d, state, "planner_not_configured", now), nil
	}
	cfg.Dir = d.Repo.Dir

	prompt := buildPlanPrompt(d.TaskBody)
	inv, err := worker.Invoke(ctx, "planner", cfg, prompt)
	if err != nil {
		return nil, fmt.Errorf("invoking planner: %w", err)
	}
	if inv.ExitError != nil {
		return stop(d, state, "plan_worker_error", now), nil
	}

	text, err := worker.ResolveOutputText(cfg.Output, inv.RawOutput)
	var doc interface{}
	if err == nil {
		doc, err = worker.ParseMarkerJSON(worker.SchemaPlan, text)
	}
	if err != nil {
		retryDoc, stopped, rerr := retryOrFail(ctx, d, state, "planner", cfg, prompt, worker.SchemaPlan, "plan_parse_failed", now)
		if rerr != nil {
			return nil, rerr
		}
		if stopped != nil {
			return stopped, nil
		}
		doc = retryDoc
	}

	milestones, err := decodeMilestones(doc)
	if err != nil {
		return stop(d, state, "plan_parse_failed", now), nil
	}
	state.Milestones = milestones
	state.MilestoneIndex = 0

	var plan strings.Builder
	fmt.Fprintf(&plan, "# Plan\n\n")
	for i, m := range milestones {
		fmt.Fprintf(&plan, "%d. %s (risk: %s)\n", i+1, m.Goal, m.RiskLevel)
	}
	_ = store.WritePlan(d.Paths, plan.String())

	if d.Timeline != nil {
		_, _ = d.Timeline.AppendEvent(store.EventPlanGenerated, "supervisor", map[string]interface{}{
			"milestone_count": len(milestones),
		})
	}

	runstate.UpdatePhase(state, store.PhaseImplement, now)
	return state, nil
}

func buildPlanPrompt(task string) string {
	return fmt.Sprintf("Task:\n%s\n\nRespond with a plan as BEGIN_JSON ... END_JSON containing {\"milestones\": [...]}.", task)
}

func decodeMilestones(doc interface{}) ([]store.Milestone, error) {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("plan output is not an object")
	}
	raw, ok := m["milestones"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("plan output missing milestones array")
	}
	var out []store.Milestone
	for _, item := range raw {
		im, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		ms := store.Milestone{}
		if v, ok := im["goal"].(string); ok {
			ms.Goal = v
		}
		if v, ok := im["risk_level"].(string); ok {
			ms.RiskLevel = v
		}
		if arr, ok := im["files_expected"].([]interface{}); ok {
			for _, f := range arr {
				if s, ok := f.(string); ok {
					ms.FilesExpected = append(ms.FilesExpected, s)
				}
			}
		}
		if arr, ok := im["done_checks"].([]interface{}); ok {
			for _, c := range arr {
				if s, ok := c.(string); ok {
					ms.DoneChecks = append(ms.DoneChecks, s)
				}
			}
		}
		out = append(out, ms)
	}
	return out, nil
}

// retryOrFail implements the "one retry with an appended directive,
// then fail the phase" parse-failure contract (spec.md §4.2). On a
// successful retry it returns the parsed document so the caller can
// advance the phase immediately instead of re-invoking the worker on
// the next tick.
func retryOrFail(ctx context.Context, d Deps, state *store.RunState, role string, cfg worker.Config, prompt string, schema worker.Schema, failReason string, now time.Time) (doc interface{}, stopped *store.RunState, err error) {
	retryInv, err := worker.Invoke(ctx, role, cfg, prompt+worker.RetryDirective)
	if err != nil {
		return nil, nil, fmt.Errorf("invoking %s on retry: %w", role, err)
	}
	if retryInv.ExitError != nil {
		return nil, stop(d, state, failReason, now), nil
	}
	retryText, err := worker.ResolveOutputText(cfg.Output, retryInv.RawOutput)
	if err != nil {
		if d.Timeline != nil {
			_, _ = d.Timeline.AppendEvent(store.EventParseFailed, "supervisor", map[string]interface{}{
				"role": role,
			})
		}
		return nil, stop(d, state, failReason, now), nil
	}
	retryDoc, err := worker.ParseMarkerJSON(schema, retryText)
	if err != nil {
		if d.Timeline != nil {
			_, _ = d.Timeline.AppendEvent(store.EventParseFailed, "supervisor", map[string]interface{}{
				"role": role,
			})
		}
		return nil, stop(d, state, failReason, now), nil
	}
	return retryDoc, nil, nil
}

func currentMilestone(state *store.RunState) (store.Milestone, bool) {
	if state.MilestoneIndex < 0 || state.MilestoneIndex >= len(state.Milestones) {
		return store.Milestone{}, false
	}
	return state.Milestones[state.MilestoneIndex], true
}

// handleImplement builds an implementer prompt, runs the implementer,
// and checks scope before transitioning to VERIFY.
func handleImplement(ctx context.Context, d Deps, state *store.RunState, now time.Time) (*store.RunState, error) {
	milestone, ok := currentMilestone(state)
	if !ok {
		runstate.UpdatePhase(state, store.PhaseFinalize, now)
		return state, nil
	}

	cfg, ok := d.Workers["implementer"]
	if !ok {
		return stop(d, state, "implementer_not_configured", now), nil
	}
	cfg.Dir = d.Repo.Dir

	prompt := buildImplementPrompt(milestone, state)
	inv, err := worker.Invoke(ctx, "implementer", cfg, prompt)
	if err != nil {
		return nil, fmt.Errorf("invoking implementer: %w", err)
	}
	recordWorkerStat(state, "implementer", inv.ExitError == nil)
	if inv.ExitError != nil {
		return stop(d, state, "implement_worker_error", now), nil
	}

	text, err := worker.ResolveOutputText(cfg.Output, inv.RawOutput)
	var doc interface{}
	if err == nil {
		doc, err = worker.ParseMarkerJSON(worker.SchemaImplement, text)
	}
	if err != nil {
		retryDoc, stopped, rerr := retryOrFail(ctx, d, state, "implementer", cfg, prompt, worker.SchemaImplement, "implement_parse_failed", now)
		if rerr != nil {
			return nil, rerr
		}
		if stopped != nil {
			return stopped, nil
		}
		doc = retryDoc
	}
	result, err := decodeImplementResult(doc)
	if err != nil {
		return stop(d, state, "implement_parse_failed", now), nil
	}
	if result.Status != "ok" {
		return stop(d, state, "implement_blocked", now), nil
	}
	_ = store.WriteHandoff(d.Paths, fmt.Sprintf("milestone_%d_memo.md", state.MilestoneIndex), []byte(result.HandoffMemo))

	guard, err := checkScopeAndLockfiles(d, state)
	if err != nil {
		return nil, fmt.Errorf("checking scope: %w", err)
	}
	if !guard.clean() {
		if d.Timeline != nil {
			var reasons []string
			if len(guard.LockfileViolations) > 0 {
				reasons = append(reasons, "lockfile_restricted")
			}
			if len(guard.ScopeViolations) > 0 {
				reasons = append(reasons, "scope_violation")
			}
			if len(guard.OwnershipViolations) > 0 {
				reasons = append(reasons, "ownership_violation")
			}
			_, _ = d.Timeline.AppendEvent(store.EventGuardViolation, "supervisor", map[string]interface{}{
				"reasons":              reasons,
				"lockfile_violations":  guard.LockfileViolations,
				"scope_violations":     guard.ScopeViolations,
				"ownership_violations": guard.OwnershipViolations,
			})
		}
		// Precedence matches spec.md §7's guard-family ordering: a
		// restricted lockfile change is reported ahead of an ordinary
		// scope violation, which is reported ahead of an ownership
		// violation, since the first is the most specific signal to
		// diagnose and the most actionable (--allow-deps) to resolve.
		switch {
		case len(guard.LockfileViolations) > 0:
			return stop(d, state, "lockfile_restricted", now), nil
		case len(guard.ScopeViolations) > 0:
			return stop(d, state, "scope_violation", now), nil
		default:
			return stop(d, state, "ownership_violation", now), nil
		}
	}

	if d.Timeline != nil {
		_, _ = d.Timeline.AppendEvent(store.EventImplementComplete, "supervisor", map[string]interface{}{
			"milestone_index": state.MilestoneIndex,
		})
	}
	runstate.UpdatePhase(state, store.PhaseVerify, now)
	return state, nil
}

type implementResult struct {
	Status      string
	HandoffMemo string
}

func decodeImplementResult(doc interface{}) (implementResult, error) {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return implementResult{}, fmt.Errorf("implement output is not an object")
	}
	var r implementResult
	r.Status, _ = m["status"].(string)
	r.HandoffMemo, _ = m["handoff_memo"].(string)
	return r, nil
}

func buildImplementPrompt(m store.Milestone, state *store.RunState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Milestone: %s\nRisk: %s\n", m.Goal, m.RiskLevel)
	if len(m.FilesExpected) > 0 {
		fmt.Fprintf(&sb, "Expected files: %s\n", strings.Join(m.FilesExpected, ", "))
	}
	if state.LastError != "" {
		fmt.Fprintf(&sb, "\nPrevious verification failure to fix:\n%s\n", state.LastError)
	}
	fmt.Fprintf(&sb, "\nRespond with BEGIN_JSON ... END_JSON containing status/handoff_memo.")
	return sb.String()
}

func recordWorkerStat(state *store.RunState, role string, ok bool) {
	if state.WorkerStats == nil {
		state.WorkerStats = map[string]store.WorkerStats{}
	}
	stats := state.WorkerStats[role]
	stats.Invocations++
	if !ok {
		stats.Failures++
	}
	state.WorkerStats[role] = stats
}

// guardResult separates a scope-guard evaluation into the three
// distinct violation classes spec.md §7 stops on independently:
// lockfile_restricted, scope_violation, and ownership_violation.
type guardResult struct {
	LockfileViolations  []string
	ScopeViolations     []string
	OwnershipViolations []string
}

func (g guardResult) clean() bool {
	return len(g.LockfileViolations) == 0 && len(g.ScopeViolations) == 0 && len(g.OwnershipViolations) == 0
}

// checkScopeAndLockfiles evaluates the changed-file set against the
// loaded config's scope settings (allowlist/denylist/lockfiles; the
// run's recorded scope_lock is not consulted) and, if any
// owned_paths are set, against the ownership constraint (spec.md
// §4.4's "orthogonal to scope" check).
func checkScopeAndLockfiles(d Deps, state *store.RunState) (guardResult, error) {
	porcelain, err := d.Repo.StatusPorcelain()
	if err != nil {
		return guardResult{}, err
	}
	changed := gitfacade.ParsePorcelainStatus(porcelain)
	allChanged := append(append([]string{}, changed.Touched...), changed.Untracked...)

	partition, err := scope.PartitionChangedFiles(d.Config.Scope.EnvAllowlist, allChanged)
	if err != nil {
		return guardResult{}, err
	}

	policy := scope.Policy{
		Allowlist: d.Config.Scope.Allowlist,
		Denylist:  d.Config.Scope.Denylist,
		Lockfiles: d.Config.Scope.Lockfiles,
		AllowDeps: d.Config.Scope.AllowDeps,
	}
	result, err := scope.Evaluate(policy, partition.Semantic)
	if err != nil {
		return guardResult{}, err
	}

	var g guardResult
	for _, v := range result.Violations {
		if v.Reason == "lockfile" {
			g.LockfileViolations = append(g.LockfileViolations, v.Path)
		} else {
			g.ScopeViolations = append(g.ScopeViolations, v.Path)
		}
	}

	ownershipViolations, err := scope.CheckOwnership(state.OwnedPaths, partition.Semantic)
	if err != nil {
		return guardResult{}, err
	}
	for _, v := range ownershipViolations {
		g.OwnershipViolations = append(g.OwnershipViolations, v.Path)
	}

	return g, nil
}

// handleVerify selects and runs verification tiers for the current
// milestone, retrying IMPLEMENT on failure up to a bounded number of
// milestone retries.
func handleVerify(ctx context.Context, d Deps, state *store.RunState, now time.Time) (*store.RunState, error) {
	const maxMilestoneRetries = 3

	milestone, ok := currentMilestone(state)
	if !ok {
		runstate.UpdatePhase(state, store.PhaseFinalize, now)
		return state, nil
	}

	porcelain, err := d.Repo.StatusPorcelain()
	if err != nil {
		return nil, fmt.Errorf("reading status for verify: %w", err)
	}
	changed := gitfacade.ParsePorcelainStatus(porcelain)

	policy := verify.Policy{
		Tier0: d.Config.Verification.Tier0,
		Tier1: d.Config.Verification.Tier1,
		Tier2: d.Config.Verification.Tier2,
	}
	for _, t := range d.Config.Verification.RiskTriggers {
		policy.RiskTriggers = append(policy.RiskTriggers, verify.RiskTrigger{
			Name: t.Name, Patterns: t.Patterns, Tier: verify.Tier(t.Tier),
		})
	}

	selections, err := verify.SelectTiers(policy, verify.Context{
		ChangedFiles:   changed.Touched,
		RiskLevel:      milestone.RiskLevel,
		IsMilestoneEnd: true,
	})
	if err != nil {
		return nil, fmt.Errorf("selecting verification tiers: %w", err)
	}

	budget := d.Config.Verification.MaxVerifyTimePerMilestone.Duration()
	cwd := d.Config.Verification.Cwd
	if cwd == "" {
		cwd = d.Repo.Dir
	}

	var results []verify.Result
	allOK := true
	for _, sel := range selections {
		commands := verify.CommandsForTier(policy, sel.Tier)
		res := verify.RunTier(ctx, sel.Tier, commands, cwd, budget)
		results = append(results, res)
		_ = store.WriteArtifact(d.Paths, store.VerificationLogName(string(sel.Tier)), []byte(res.Output))
		if !res.OK {
			allOK = false
			if d.Timeline != nil {
				_, _ = d.Timeline.AppendEvent(store.EventVerification, "supervisor", map[string]interface{}{
					"tier": string(sel.Tier), "ok": false, "reason": sel.Reason,
				})
			}
			break
		}
		if d.Timeline != nil {
			_, _ = d.Timeline.AppendEvent(store.EventVerification, "supervisor", map[string]interface{}{
				"tier": string(sel.Tier), "ok": true, "reason": sel.Reason,
			})
		}
	}

	if !allOK {
		if state.MilestoneRetries >= maxMilestoneRetries {
			if d.Timeline != nil {
				_, _ = d.Timeline.AppendEvent(store.EventVerifyFailedMaxRetries, "supervisor", nil)
			}
			return stop(d, state, "verification_failed_max_retries", now), nil
		}
		state.MilestoneRetries++
		if len(results) > 0 {
			state.LastError = results[len(results)-1].Output
		}
		if d.Timeline != nil {
			_, _ = d.Timeline.AppendEvent(store.EventVerifyFailedRetry, "supervisor", map[string]interface{}{
				"milestone_retries": state.MilestoneRetries,
			})
		}
		runstate.UpdatePhase(state, store.PhaseImplement, now)
		return state, nil
	}

	runstate.UpdatePhase(state, store.PhaseReview, now)
	return state, nil
}

// handleReview builds a reviewer prompt with diff context, and on
// approve transitions to CHECKPOINT; on request_changes/reject it
// checks the review-loop guard before returning to IMPLEMENT.
func handleReview(ctx context.Context, d Deps, state *store.RunState, now time.Time) (*store.RunState, error) {
	cfg, ok := d.Workers["reviewer"]
	if !ok {
		// No reviewer configured: treat as auto-approve, matching solo
		// workflow profiles that skip human/agent review entirely.
		runstate.UpdatePhase(state, store.PhaseCheckpoint, now)
		return state, nil
	}
	cfg.Dir = d.Repo.Dir

	diffStat, err := d.Repo.DiffStat(d.BaseRef, "HEAD")
	if err != nil {
		diffStat = ""
	}
	porcelain, _ := d.Repo.StatusPorcelain()
	changed := gitfacade.ParsePorcelainStatus(porcelain)
	tier0Log := readArtifactSafe(d, store.VerificationLogName("tier0"))

	prompt := buildReviewPrompt(diffStat, changed.Untracked, tier0Log)
	inv, err := worker.Invoke(ctx, "reviewer", cfg, prompt)
	if err != nil {
		return nil, fmt.Errorf("invoking reviewer: %w", err)
	}
	if inv.ExitError != nil {
		return stop(d, state, "review_worker_error", now), nil
	}

	text, err := worker.ResolveOutputText(cfg.Output, inv.RawOutput)
	var doc interface{}
	if err == nil {
		doc, err = worker.ParseMarkerJSON(worker.SchemaReview, text)
	}
	if err != nil {
		retryDoc, stopped, rerr := retryOrFail(ctx, d, state, "reviewer", cfg, prompt, worker.SchemaReview, "review_parse_failed", now)
		if rerr != nil {
			return nil, rerr
		}
		if stopped != nil {
			return stopped, nil
		}
		doc = retryDoc
	}
	status, changes, err := decodeReviewResult(doc)
	if err != nil {
		return stop(d, state, "review_parse_failed", now), nil
	}

	// A reviewer cannot approve work against a tier0 suite that was
	// configured to run but left no log: that gap means VERIFY never
	// actually produced evidence, so "approve" is downgraded to
	// request_changes rather than trusted at face value. A config with
	// no tier0 commands at all has nothing to fail closed on.
	if status == "approve" && tier0Log == "" && len(d.Config.Verification.Tier0) > 0 {
		status = "request_changes"
		changes = append(changes, "no tier0 verification log was available to review")
	}

	if d.Timeline != nil {
		_, _ = d.Timeline.AppendEvent(store.EventReviewComplete, "supervisor", map[string]interface{}{
			"status": status,
		})
	}

	if status == "approve" {
		runstate.UpdatePhase(state, store.PhaseCheckpoint, now)
		return state, nil
	}

	maxRounds := d.Config.Workflow.MaxReviewRounds
	loopResult := reviewLoopCheck(state, changes, maxRounds)
	if loopResult {
		return stop(d, state, "review_loop_detected", now), nil
	}
	state.LastError = strings.Join(changes, "; ")
	runstate.UpdatePhase(state, store.PhaseImplement, now)
	return state, nil
}

// readArtifactSafe reads a run artifact for prompt context, tolerating
// a missing file (e.g. tier0 never ran for this milestone).
func readArtifactSafe(d Deps, name string) string {
	data, err := os.ReadFile(d.Paths.Artifact(name))
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeReviewResult(doc interface{}) (string, []string, error) {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return "", nil, fmt.Errorf("review output is not an object")
	}
	status, _ := m["status"].(string)
	var changes []string
	if arr, ok := m["changes"].([]interface{}); ok {
		for _, c := range arr {
			if s, ok := c.(string); ok {
				changes = append(changes, s)
			}
		}
	}
	return status, changes, nil
}

func buildReviewPrompt(diffStat string, untracked []string, tier0Log string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Diff summary:\n%s\n", diffStat)
	if len(untracked) > 0 {
		fmt.Fprintf(&sb, "Untracked files: %s\n", strings.Join(untracked, ", "))
	}
	if tier0Log != "" {
		fmt.Fprintf(&sb, "\nTier0 verification output:\n%s\n", tier0Log)
	}
	fmt.Fprintf(&sb, "\nRespond with BEGIN_JSON ... END_JSON containing status (approve|request_changes|reject) and changes[].")
	return sb.String()
}

// handleCheckpoint stages and commits the milestone's work, records
// the checkpoint SHA, and advances past the milestone.
func handleCheckpoint(ctx context.Context, d Deps, state *store.RunState, now time.Time) (*store.RunState, error) {
	if err := d.Repo.StageAll(); err != nil {
		return nil, fmt.Errorf("staging checkpoint: %w", err)
	}
	message := fmt.Sprintf("chore(agent): checkpoint milestone %d", state.MilestoneIndex)
	if err := d.Repo.Commit(message); err != nil {
		return nil, fmt.Errorf("committing checkpoint: %w", err)
	}
	sha, err := d.Repo.HeadCommit("HEAD")
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint sha: %w", err)
	}
	state.CheckpointCommitSHA = sha
	state.MilestoneIndex++
	state.MilestoneRetries = 0
	state.Retries = 0
	state.ReviewRounds = 0
	state.LastReviewFingerprint = ""

	if d.Timeline != nil {
		_, _ = d.Timeline.AppendEvent(store.EventCheckpointComplete, "supervisor", map[string]interface{}{
			"checkpoint_commit_sha": sha,
			"milestone_index":       state.MilestoneIndex,
		})
	}

	if state.MilestoneIndex >= len(state.Milestones) {
		runstate.UpdatePhase(state, store.PhaseFinalize, now)
	} else {
		runstate.UpdatePhase(state, store.PhaseImplement, now)
	}
	return state, nil
}

// handleFinalize writes the terminal summary and stop memo, then
// stops the run with outcome "complete".
func handleFinalize(ctx context.Context, d Deps, state *store.RunState, now time.Time) (*store.RunState, error) {
	summary := store.Summary{
		RunID:           state.RunID,
		Phase:           store.PhaseFinalize,
		MilestonesDone:  state.MilestoneIndex,
		MilestonesTotal: len(state.Milestones),
		CheckpointSHA:   state.CheckpointCommitSHA,
		StartedAt:       state.StartedAt,
		FinishedAt:      now,
	}
	md := fmt.Sprintf("# Summary\n\nCompleted %d/%d milestones.\nCheckpoint: %s\n",
		summary.MilestonesDone, summary.MilestonesTotal, summary.CheckpointSHA)
	_ = store.WriteSummary(d.Paths, summary, md)

	return stop(d, state, "complete", now), nil
}

func reviewLoopCheck(state *store.RunState, changes []string, maxRounds int) bool {
	return runstate.CheckReviewLoop(state, changes, maxRounds).ShouldStop
}
