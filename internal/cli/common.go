package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/weldr-dev/runr/internal/config"
	"github.com/weldr-dev/runr/internal/fileutil"
	"github.com/weldr-dev/runr/internal/runstate"
	"github.com/weldr-dev/runr/internal/store"
	"github.com/weldr-dev/runr/internal/worker"
)

// findGitRoot walks up from dir looking for a .git directory, matching
// the teacher's internal/cli/run.go helper of the same name.
func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// runsRootFor returns the default directory a repo's runs are stored
// under: <repoDir>/.runr/runs.
func runsRootFor(repoDir string) string {
	return filepath.Join(repoDir, ".runr", "runs")
}

// loadAndValidateConfig loads configPath and validates it, printing
// every validation error (matching the teacher's config.Load/Validate
// call pattern in run.go/status.go) and returning a setup-class error
// on failure.
func loadAndValidateConfig(configPath string) (*config.Config, error) {
	if err := config.LoadDotEnv(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, fmt.Errorf("%d config validation error(s)", len(errs))
	}
	return cfg, nil
}

// workerConfigs converts the config file's worker roles into the
// worker package's invocation Config type.
func workerConfigs(cfg *config.Config) map[string]worker.Config {
	out := make(map[string]worker.Config, len(cfg.Workers))
	for role, w := range cfg.Workers {
		out[role] = worker.Config{
			Bin:    w.Bin,
			Args:   w.Args,
			Output: w.Output,
		}
	}
	return out
}

// newLogger builds the shared charmbracelet/log logger every
// subcommand uses for run-lifecycle output, matching the teacher's use
// of the same library for structured CLI logging.
func newLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
}

// prepareResumeTarget clears a stopped run's stop state and recomputes
// its resume target phase, shared by the resume and watch subcommands.
func prepareResumeTarget(state *store.RunState, now time.Time) {
	runstate.PrepareForResume(state, runstate.ResumeOptions{}, now)
}

// findRun locates a run directory under runsRoot by exact name or by
// 14-digit timestamp prefix,
// so `runr resume 20260730120000` works without the disambiguating
// ULID suffix.
func findRun(runsRoot, runID string) (store.Paths, error) {
	exact := store.NewPaths(runsRoot, runID)
	if fileutil.Exists(exact.StateFile()) {
		return exact, nil
	}

	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		return store.Paths{}, fmt.Errorf("listing runs under %s: %w", runsRoot, err)
	}
	var matches []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), runID) {
			matches = append(matches, e.Name())
		}
	}
	switch len(matches) {
	case 0:
		return store.Paths{}, fmt.Errorf("no run matching %q found under %s", runID, runsRoot)
	case 1:
		return store.NewPaths(runsRoot, matches[0]), nil
	default:
		return store.Paths{}, fmt.Errorf("run id %q is ambiguous, matches: %s", runID, strings.Join(matches, ", "))
	}
}

// abs resolves path to an absolute path, treating a resolution failure
// as a setup-class error.
func abs(path string) (string, error) {
	a, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", path, err)
	}
	return a, nil
}
