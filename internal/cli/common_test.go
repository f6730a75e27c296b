package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weldr-dev/runr/internal/store"
)

func TestFindRunExactMatch(t *testing.T) {
	runsRoot := t.TempDir()
	full := "20260101120000-abcd1234"
	require.NoError(t, os.MkdirAll(filepath.Join(runsRoot, full), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runsRoot, full, "state.json"), []byte("{}"), 0o644))

	paths, err := findRun(runsRoot, full)
	require.NoError(t, err)
	assert.Equal(t, store.NewPaths(runsRoot, full).Root, paths.Root)
}

func TestFindRunUniquePrefixMatch(t *testing.T) {
	runsRoot := t.TempDir()
	full := "20260101120000-abcd1234"
	require.NoError(t, os.MkdirAll(filepath.Join(runsRoot, full), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runsRoot, full, "state.json"), []byte("{}"), 0o644))

	paths, err := findRun(runsRoot, "20260101120000")
	require.NoError(t, err)
	assert.Equal(t, store.NewPaths(runsRoot, full).Root, paths.Root)
}

func TestFindRunAmbiguousPrefixErrors(t *testing.T) {
	runsRoot := t.TempDir()
	for _, name := range []string{"20260101120000-aaaa0001", "20260101120000-bbbb0002"} {
		require.NoError(t, os.MkdirAll(filepath.Join(runsRoot, name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(runsRoot, name, "state.json"), []byte("{}"), 0o644))
	}

	_, err := findRun(runsRoot, "20260101120000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestFindRunNoMatchErrors(t *testing.T) {
	runsRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(runsRoot, 0o755))

	_, err := findRun(runsRoot, "nope")
	require.Error(t, err)
}

func TestRunsRootForJoinsDotRunr(t *testing.T) {
	assert.Equal(t, filepath.Join("repo", ".runr", "runs"), runsRootFor("repo"))
}

func TestPhaseDisplayMapsCompleteAndStoppedStates(t *testing.T) {
	complete := &store.RunState{Phase: store.PhaseStopped, StopReason: "complete"}
	symbol, _ := phaseDisplay(complete)
	assert.Equal(t, "✓", symbol)

	failed := &store.RunState{Phase: store.PhaseStopped, StopReason: "guard_violation"}
	symbol, color := phaseDisplay(failed)
	assert.Equal(t, "✗", symbol)
	assert.Equal(t, ansiRed, color)

	active := &store.RunState{Phase: store.PhaseVerify}
	symbol, _ = phaseDisplay(active)
	assert.Equal(t, "⟳", symbol)
}
