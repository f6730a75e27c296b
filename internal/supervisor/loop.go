// Package supervisor drives the tick loop: read state, check
// terminal/budget conditions, dispatch to the phase handler, write
// state. The loop shape is grounded on the teacher's RunOnceWithLogs
// (failure-isolated per-unit processing bracketed by status writes)
// and RunnerLoop (internal/engine/runner.go)'s iterate-until-done
// structure, generalized from "process every concern once" to "drive
// one run through its phases until STOPPED".
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/weldr-dev/runr/internal/config"
	"github.com/weldr-dev/runr/internal/gitfacade"
	"github.com/weldr-dev/runr/internal/store"
	"github.com/weldr-dev/runr/internal/worker"
)

// Deps bundles everything a tick needs. Constructed once per run
// invocation by the CLI layer.
type Deps struct {
	Paths    store.Paths
	Timeline *store.Timeline
	Repo     *gitfacade.Repo
	Config   *config.Config
	Workers  map[string]worker.Config
	Logger   *log.Logger
	TaskBody string // the run's original task text, for PLAN prompts
	BaseRef  string // the ref the run branch was created from
	RunBranch string
}

// LoopResult summarizes why RunLoop returned.
type LoopResult struct {
	FinalState *store.RunState
	Ticks      int
	StopReason string
}

// RunLoop drives state through phase handlers until it reaches
// STOPPED, the tick budget is exhausted, or the wall-clock time
// budget is exceeded (spec.md §4.10).
func RunLoop(ctx context.Context, d Deps, maxTicks int, timeBudget time.Duration) (LoopResult, error) {
	start := time.Now()

	state, err := store.ReadState(d.Paths)
	if err != nil {
		return LoopResult{}, fmt.Errorf("reading initial state: %w", err)
	}

	tick := 0
	for ; tick < maxTicks; tick++ {
		if ctx.Err() != nil {
			return LoopResult{FinalState: state, Ticks: tick}, ctx.Err()
		}

		if state.Phase == store.PhaseStopped {
			break
		}

		if timeBudget > 0 && time.Since(start) >= timeBudget {
			now := time.Now()
			applyStop(d, state, "time_budget_exceeded", now)
			if err := store.WriteState(d.Paths, state); err != nil {
				return LoopResult{FinalState: state, Ticks: tick}, err
			}
			break
		}

		next, err := handlePhase(ctx, d, state)
		if err != nil {
			now := time.Now()
			state.LastError = err.Error()
			applyStop(d, state, "tick_handler_error", now)
			_ = store.WriteState(d.Paths, state)
			return LoopResult{FinalState: state, Ticks: tick + 1, StopReason: state.StopReason}, err
		}
		state = next

		if err := store.WriteState(d.Paths, state); err != nil {
			return LoopResult{FinalState: state, Ticks: tick + 1}, fmt.Errorf("writing state after tick %d: %w", tick, err)
		}
	}

	if tick >= maxTicks && state.Phase != store.PhaseStopped {
		now := time.Now()
		applyStop(d, state, "max_ticks_reached", now)
		_ = store.WriteState(d.Paths, state)
	}

	return LoopResult{FinalState: state, Ticks: tick, StopReason: state.StopReason}, nil
}

// applyStop transitions state into STOPPED, appends the stop event,
// and writes the stop memo artifact — all three happen together so a
// STOPPED state is never observed without its matching event and memo
// (spec.md §3.2 invariant on stop).
func applyStop(d Deps, state *store.RunState, reason string, now time.Time) {
	state.Phase = store.PhaseStopped
	state.StopReason = reason
	state.UpdatedAt = now

	if d.Timeline != nil {
		_, _ = d.Timeline.AppendEvent(store.EventStop, "supervisor", map[string]interface{}{
			"reason": reason,
			"phase":  string(state.LastSuccessfulPhase),
		})
	}
	memo := fmt.Sprintf("# Stop\n\nreason: %s\nlast_successful_phase: %s\nmilestone_index: %d\n",
		reason, state.LastSuccessfulPhase, state.MilestoneIndex)
	_ = store.WriteHandoff(d.Paths, "stop_memo.md", []byte(memo))

	if d.Logger != nil {
		d.Logger.Warn("run stopped", "reason", reason, "milestone_index", state.MilestoneIndex)
	}
}
