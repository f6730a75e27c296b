// Package watcher implements the Auto-Resume Watcher: a reentrant
// poll loop that relaunches the supervisor on transient stop reasons.
// The poll/grace-period shape is grounded on the teacher's RunnerLoop
// (internal/engine/runner.go), generalized from "exit after one idle
// grace period" to "resume a specific run up to a bounded attempt
// count, with a cooldown before each resume" (spec.md §4.11).
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/weldr-dev/runr/internal/runstate"
	"github.com/weldr-dev/runr/internal/store"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultCooldown     = 10 * time.Second
	DefaultMaxAttempts  = 3
)

// resumableStopReasons are the stop_reason values the watcher is
// permitted to auto-resume. Everything else — guard/scope/ownership
// violations, review loops, parallel-file collisions — requires human
// or config intervention and is never auto-resumed (spec.md §4.11).
var resumableStopReasons = map[string]bool{
	"stalled_timeout":                 true,
	"worker_call_timeout":             true,
	"max_ticks_reached":               true,
	"time_budget_exceeded":            true,
	"implement_blocked":               true,
	"verification_failed_max_retries": true,
}

// IsResumable reports whether stopReason is one the watcher may
// auto-resume.
func IsResumable(stopReason string) bool {
	return resumableStopReasons[stopReason]
}

// Config configures the watcher's poll cadence and resume bound.
type Config struct {
	PollInterval time.Duration
	Cooldown     time.Duration
	MaxAttempts  int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Resumer re-enters the supervisor loop for one run and blocks until
// it stops (or reaches another terminal condition). It is the
// watcher's only touchpoint with the supervisor, so callers can wire
// in whatever Deps the supervisor invocation needs without this
// package importing them directly.
type Resumer func(ctx context.Context) error

// Result summarizes why Watch returned.
type Result struct {
	Attempts   int
	FinalPhase store.Phase
	StopReason string
}

// Watch polls the run at paths every cfg.PollInterval. When it
// observes PhaseStopped with a resumable stop_reason, it waits
// cfg.Cooldown, calls prepareForResume on the persisted state, and
// invokes resume. It stops polling (returning nil) once the run
// reaches a non-resumable terminal state — including "complete" — and
// returns an error once cfg.MaxAttempts resumes have been spent
// without the run finishing.
func Watch(ctx context.Context, paths store.Paths, cfg Config, resume Resumer, logger *log.Logger) (Result, error) {
	cfg = cfg.withDefaults()
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return Result{Attempts: attempts}, ctx.Err()
		case <-time.After(cfg.PollInterval):
		}

		state, err := store.ReadState(paths)
		if err != nil {
			return Result{Attempts: attempts}, fmt.Errorf("reading run state: %w", err)
		}

		if state.Phase != store.PhaseStopped {
			continue
		}
		if state.StopReason == "complete" {
			return Result{Attempts: attempts, FinalPhase: state.Phase, StopReason: state.StopReason}, nil
		}
		if !IsResumable(state.StopReason) {
			return Result{Attempts: attempts, FinalPhase: state.Phase, StopReason: state.StopReason}, nil
		}
		if attempts >= cfg.MaxAttempts {
			return Result{Attempts: attempts, FinalPhase: state.Phase, StopReason: state.StopReason},
				fmt.Errorf("auto-resume exhausted after %d attempts, last stop_reason %q", attempts, state.StopReason)
		}

		if logger != nil {
			logger.Info("auto-resume: cooling down", "stop_reason", state.StopReason, "cooldown", cfg.Cooldown)
		}
		select {
		case <-ctx.Done():
			return Result{Attempts: attempts}, ctx.Err()
		case <-time.After(cfg.Cooldown):
		}

		// Re-read in case something (a human, a concurrent `resume`
		// invocation) already moved the run off STOPPED during cooldown.
		state, err = store.ReadState(paths)
		if err != nil {
			return Result{Attempts: attempts}, fmt.Errorf("re-reading run state before resume: %w", err)
		}
		if state.Phase != store.PhaseStopped {
			continue
		}

		runstate.PrepareForResume(state, runstate.ResumeOptions{IncrementAutoResumeCount: true}, time.Now())
		if err := store.WriteState(paths, state); err != nil {
			return Result{Attempts: attempts}, fmt.Errorf("writing resumed state: %w", err)
		}
		attempts++

		if logger != nil {
			logger.Info("auto-resume: re-entering supervisor", "attempt", attempts, "resume_target_phase", state.Phase)
		}
		if err := resume(ctx); err != nil {
			return Result{Attempts: attempts}, fmt.Errorf("resume attempt %d: %w", attempts, err)
		}
	}
}
