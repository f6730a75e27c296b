package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/weldr-dev/runr/internal/fileutil"
	"github.com/weldr-dev/runr/internal/store"
)

func TestIsResumable(t *testing.T) {
	resumable := []string{
		"stalled_timeout", "worker_call_timeout", "max_ticks_reached",
		"time_budget_exceeded", "implement_blocked", "verification_failed_max_retries",
	}
	for _, r := range resumable {
		if !IsResumable(r) {
			t.Errorf("IsResumable(%q) = false, want true", r)
		}
	}

	notResumable := []string{
		"guard_violation", "scope_violation", "ownership_violation",
		"review_loop_detected", "parallel_file_collision", "complete",
	}
	for _, r := range notResumable {
		if IsResumable(r) {
			t.Errorf("IsResumable(%q) = true, want false", r)
		}
	}
}

func newRun(t *testing.T, stopReason string) store.Paths {
	t.Helper()
	runsRoot := t.TempDir()
	fp := fileutil.CaptureEnvFingerprint()
	paths, state, err := store.CreateRun(runsRoot, "watch-run", []byte("{}"), fp, time.Now())
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	state.Phase = store.PhaseStopped
	state.StopReason = stopReason
	state.LastSuccessfulPhase = store.PhaseImplement
	if err := store.WriteState(paths, state); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	return paths
}

func TestWatchResumesOnTransientStopAndStopsOnComplete(t *testing.T) {
	paths := newRun(t, "max_ticks_reached")

	calls := 0
	resume := func(ctx context.Context) error {
		calls++
		state, err := store.ReadState(paths)
		if err != nil {
			t.Fatalf("ReadState in resume: %v", err)
		}
		state.Phase = store.PhaseStopped
		state.StopReason = "complete"
		return store.WriteState(paths, state)
	}

	cfg := Config{PollInterval: 5 * time.Millisecond, Cooldown: 5 * time.Millisecond, MaxAttempts: 3}
	result, err := Watch(context.Background(), paths, cfg, resume, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if calls != 1 {
		t.Errorf("resume calls = %d, want 1", calls)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.StopReason != "complete" {
		t.Errorf("StopReason = %q, want complete", result.StopReason)
	}

	final, err := store.ReadState(paths)
	if err != nil {
		t.Fatal(err)
	}
	if final.AutoResumeCount != 1 {
		t.Errorf("AutoResumeCount = %d, want 1", final.AutoResumeCount)
	}
}

func TestWatchNeverResumesOnGuardViolation(t *testing.T) {
	paths := newRun(t, "guard_violation")

	resume := func(ctx context.Context) error {
		t.Fatal("resume should not be called for a guard_violation stop")
		return nil
	}

	cfg := Config{PollInterval: 5 * time.Millisecond, Cooldown: 5 * time.Millisecond, MaxAttempts: 3}
	result, err := Watch(context.Background(), paths, cfg, resume, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if result.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", result.Attempts)
	}
	if result.StopReason != "guard_violation" {
		t.Errorf("StopReason = %q, want guard_violation", result.StopReason)
	}
}

func TestWatchExhaustsMaxAttempts(t *testing.T) {
	paths := newRun(t, "stalled_timeout")

	resume := func(ctx context.Context) error {
		state, err := store.ReadState(paths)
		if err != nil {
			return err
		}
		state.Phase = store.PhaseStopped
		state.StopReason = "stalled_timeout"
		return store.WriteState(paths, state)
	}

	cfg := Config{PollInterval: 5 * time.Millisecond, Cooldown: 5 * time.Millisecond, MaxAttempts: 2}
	result, err := Watch(context.Background(), paths, cfg, resume, nil)
	if err == nil {
		t.Fatal("expected an error once max attempts is exhausted")
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestWatchRespectsContextCancellation(t *testing.T) {
	paths := newRun(t, "worker_call_timeout")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resume := func(ctx context.Context) error {
		t.Fatal("resume should not be called once context is already cancelled")
		return nil
	}

	cfg := Config{PollInterval: 5 * time.Millisecond, Cooldown: 5 * time.Millisecond, MaxAttempts: 3}
	_, err := Watch(ctx, paths, cfg, resume, nil)
	if err == nil {
		t.Fatal("expected a context error")
	}
}
