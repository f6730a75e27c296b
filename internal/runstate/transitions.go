// Package runstate holds pure transformations on store.RunState: no
// I/O, no subprocess calls, just the phase/milestone bookkeeping the
// Supervisor Loop drives. Grounded on the teacher's StationStatus
// helpers (internal/engine/state.go) for the "recover a stale active
// state on restart" shape, generalized from a per-station flag set to
// full-run resume-target computation (spec.md §4.9).
package runstate

import (
	"time"

	"github.com/weldr-dev/runr/internal/store"
)

// phaseOrder is the canonical phase ordering used for resume-target
// computation (spec.md §3.1 Phase enum, §4.9).
var phaseOrder = []store.Phase{
	store.PhaseInit,
	store.PhasePlan,
	store.PhaseImplement,
	store.PhaseVerify,
	store.PhaseReview,
	store.PhaseCheckpoint,
	store.PhaseFinalize,
}

// CreateInitialState builds a fresh RunState: zeroed counters, empty
// worker stats, every timestamp set to now. Milestones are populated
// later by the PLAN phase handler.
func CreateInitialState(runID string, now time.Time) *store.RunState {
	return &store.RunState{
		RunID:          runID,
		Phase:          store.PhaseInit,
		WorkerStats:    map[string]store.WorkerStats{},
		PhaseStartedAt: now,
		StartedAt:      now,
		UpdatedAt:      now,
		LastProgressAt: now,
	}
}

// UpdatePhase transitions s into phase: records the outgoing phase as
// last_successful_phase, stamps phase_started_at/updated_at to now.
// Re-entering the same phase (a milestone retry loop, e.g. VERIFY →
// IMPLEMENT → VERIFY) is a normal transition, not special-cased here —
// retry counters live on milestone_retries / retries, tracked by the
// phase handlers themselves.
func UpdatePhase(s *store.RunState, phase store.Phase, now time.Time) {
	if s.Phase != phase {
		s.LastSuccessfulPhase = s.Phase
	}
	s.Phase = phase
	s.PhaseStartedAt = now
	s.UpdatedAt = now
	s.LastProgressAt = now
}

// StopRun transitions s into STOPPED with the given reason.
func StopRun(s *store.RunState, reason string, now time.Time) {
	s.Phase = store.PhaseStopped
	s.StopReason = reason
	s.UpdatedAt = now
}

// ComputeResumeTargetPhase returns where a resumed run should restart.
// If the run isn't stopped, it resumes at its current phase. If it is
// stopped and has a last_successful_phase, it resumes at the phase
// *after* that one in canonical order (FINALIZE stays at FINALIZE,
// since there is nothing after it). With no last_successful_phase, it
// resumes at INIT.
func ComputeResumeTargetPhase(s *store.RunState) store.Phase {
	if s.Phase != store.PhaseStopped {
		return s.Phase
	}
	if s.LastSuccessfulPhase == "" {
		return store.PhaseInit
	}
	for i, p := range phaseOrder {
		if p == s.LastSuccessfulPhase {
			if i+1 < len(phaseOrder) {
				return phaseOrder[i+1]
			}
			return store.PhaseFinalize
		}
	}
	return store.PhaseInit
}

// ResumeOptions configures PrepareForResume.
type ResumeOptions struct {
	IncrementAutoResumeCount bool
}

// PrepareForResume clears stop_reason/last_error, recomputes the
// resume target phase, and optionally bumps auto_resume_count before
// the supervisor loop re-enters.
func PrepareForResume(s *store.RunState, opts ResumeOptions, now time.Time) {
	target := ComputeResumeTargetPhase(s)
	s.StopReason = ""
	s.LastError = ""
	s.Phase = target
	s.PhaseStartedAt = now
	s.UpdatedAt = now
	if opts.IncrementAutoResumeCount {
		s.AutoResumeCount++
	}
}
