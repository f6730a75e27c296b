// Package collision scans sibling runs for overlapping scope when a
// new run is created, so two concurrent runs don't silently stomp on
// each other's files. No teacher equivalent exists (the teacher
// processes concerns level-by-level with an explicit dependency graph
// instead), so this is grounded directly on spec.md §4.7, reusing the
// doublestar glob engine already wired for the Scope Guard.
package collision

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// Sibling is the subset of another run's state relevant to collision
// checking.
type Sibling struct {
	RunID         string
	Phase         string
	StartedAt     time.Time
	Allowlist     []string
	FilesExpected []string
}

// Warning is a stage-1 coarse collision: allowlist patterns overlap
// with a sibling run, worth surfacing but not blocking.
type Warning struct {
	RunID        string   `json:"run_id"`
	Phase        string   `json:"phase"`
	Age          time.Duration `json:"age"`
	ExampleFiles []string `json:"example_files,omitempty"`
}

// Collision is a stage-2 precise collision: exact files_expected
// intersection, which stops the run unless force_parallel is set.
type Collision struct {
	RunID          string   `json:"run_id"`
	Phase          string   `json:"phase"`
	Age            time.Duration `json:"age"`
	OverlapFiles   []string `json:"overlap_files"`
}

// Report is the outcome of scanning every sibling run.
type Report struct {
	Warnings   []Warning
	Collisions []Collision
}

const maxExampleFiles = 3

// Scan runs the two-stage detection described in spec.md §4.7 against
// every sibling concurrently, bounded by errgroup so a large runs_root
// doesn't spawn unbounded goroutines.
func Scan(ctx context.Context, now time.Time, mine Sibling, siblings []Sibling, maxConcurrency int) (Report, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}

	type scanResult struct {
		warning   *Warning
		collision *Collision
	}
	results := make([]scanResult, len(siblings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, sib := range siblings {
		i, sib := i, sib
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			w, c, err := evaluateSibling(now, mine, sib)
			if err != nil {
				return fmt.Errorf("evaluating sibling %s: %w", sib.RunID, err)
			}
			results[i] = scanResult{warning: w, collision: c}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	var report Report
	for _, r := range results {
		if r.warning != nil {
			report.Warnings = append(report.Warnings, *r.warning)
		}
		if r.collision != nil {
			report.Collisions = append(report.Collisions, *r.collision)
		}
	}
	sort.Slice(report.Warnings, func(i, j int) bool { return report.Warnings[i].RunID < report.Warnings[j].RunID })
	sort.Slice(report.Collisions, func(i, j int) bool { return report.Collisions[i].RunID < report.Collisions[j].RunID })
	return report, nil
}

func evaluateSibling(now time.Time, mine, sib Sibling) (*Warning, *Collision, error) {
	age := now.Sub(sib.StartedAt)

	overlap, err := preciseOverlap(mine.FilesExpected, sib.FilesExpected)
	if err != nil {
		return nil, nil, err
	}
	if len(overlap) > 0 {
		return nil, &Collision{RunID: sib.RunID, Phase: sib.Phase, Age: age, OverlapFiles: overlap}, nil
	}

	coarse, err := coarseOverlap(mine.Allowlist, sib.Allowlist)
	if err != nil {
		return nil, nil, err
	}
	if len(coarse) > 0 {
		examples := coarse
		if len(examples) > maxExampleFiles {
			examples = examples[:maxExampleFiles]
		}
		return &Warning{RunID: sib.RunID, Phase: sib.Phase, Age: age, ExampleFiles: examples}, nil, nil
	}

	return nil, nil, nil
}

// preciseOverlap returns the exact string intersection of two
// files_expected sets.
func preciseOverlap(a, b []string) ([]string, error) {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	var overlap []string
	for _, f := range b {
		if set[f] {
			overlap = append(overlap, f)
		}
	}
	sort.Strings(overlap)
	return overlap, nil
}

// coarseOverlap compares two allowlist pattern sets by prefix-base
// string comparison, augmented by cross-matching each pattern against
// the other set via doublestar (so "src/**" and "src/app/main.go"-
// shaped literal entries are still recognized as overlapping).
func coarseOverlap(a, b []string) ([]string, error) {
	var overlap []string
	seen := map[string]bool{}
	for _, pa := range a {
		for _, pb := range b {
			if globBase(pa) == globBase(pb) {
				if !seen[pa] {
					seen[pa] = true
					overlap = append(overlap, pa)
				}
				continue
			}
			matched, err := crossMatch(pa, pb)
			if err != nil {
				return nil, err
			}
			if matched && !seen[pa] {
				seen[pa] = true
				overlap = append(overlap, pa)
			}
		}
	}
	sort.Strings(overlap)
	return overlap, nil
}

// globBase strips glob metacharacters and everything after them,
// leaving the literal directory prefix a pattern is rooted at.
func globBase(pattern string) string {
	for i, r := range pattern {
		if r == '*' || r == '?' || r == '[' {
			return pattern[:i]
		}
	}
	return pattern
}

// crossMatch tries matching each pattern as a literal path against the
// other as a glob, in both directions.
func crossMatch(a, b string) (bool, error) {
	if ok, err := doublestar.Match(a, b); err != nil {
		return false, fmt.Errorf("pattern %q: %w", a, err)
	} else if ok {
		return true, nil
	}
	if ok, err := doublestar.Match(b, a); err != nil {
		return false, fmt.Errorf("pattern %q: %w", b, err)
	} else if ok {
		return true, nil
	}
	return false, nil
}
