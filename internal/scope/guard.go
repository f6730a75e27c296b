// Package scope enforces which files a run is allowed to touch,
// evaluated after every implement step against the allowlist/denylist/
// lockfile policy taken from the loaded config's scope settings
// (spec.md §4.4). No teacher equivalent exists — the
// teacher has no scope concept — so this package is grounded directly
// on spec.md and on the glob libraries observed across the pack.
package scope

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Violation describes one changed file that failed a scope check.
type Violation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"` // denylist|not_allowlisted|lockfile
}

// Result is the outcome of evaluating a changed-file set against a
// Policy.
type Result struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations,omitempty"`
}

// Policy is the scope configuration a changed-file set is evaluated
// against.
type Policy struct {
	Allowlist []string
	Denylist  []string
	Lockfiles []string
	AllowDeps bool
}

// Evaluate checks changedFiles against p. A file passes iff it
// matches no denylist pattern and (the allowlist is empty or it
// matches an allowlist pattern). Lockfile paths are permitted only if
// AllowDeps is set, regardless of allowlist/denylist outcome.
func Evaluate(p Policy, changedFiles []string) (Result, error) {
	deny, err := compileGitignoreSet(p.Denylist)
	if err != nil {
		return Result{}, fmt.Errorf("compiling denylist: %w", err)
	}
	lock, err := compileGitignoreSet(p.Lockfiles)
	if err != nil {
		return Result{}, fmt.Errorf("compiling lockfile set: %w", err)
	}

	var violations []Violation
	for _, f := range changedFiles {
		if lock != nil && lock.MatchesPath(f) {
			if !p.AllowDeps {
				violations = append(violations, Violation{Path: f, Reason: "lockfile"})
			}
			continue
		}
		if deny != nil && deny.MatchesPath(f) {
			violations = append(violations, Violation{Path: f, Reason: "denylist"})
			continue
		}
		if len(p.Allowlist) > 0 {
			matched, err := matchesAnyGlob(p.Allowlist, f)
			if err != nil {
				return Result{}, fmt.Errorf("matching allowlist: %w", err)
			}
			if !matched {
				violations = append(violations, Violation{Path: f, Reason: "not_allowlisted"})
			}
		}
	}

	return Result{OK: len(violations) == 0, Violations: violations}, nil
}

// matchesAnyGlob reports whether path matches any of patterns, using
// doublestar glob semantics ("**" meaning any directory depth).
func matchesAnyGlob(patterns []string, path string) (bool, error) {
	for _, pat := range patterns {
		ok, err := doublestar.Match(pat, path)
		if err != nil {
			return false, fmt.Errorf("pattern %q: %w", pat, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// compileGitignoreSet compiles patterns using gitignore syntax, the
// same library the teacher carried as an unused indirect dependency
// (internal/engine/ignore_test.go). Denylist and lockfile patterns
// benefit from gitignore's negation and directory-anchoring rules in
// a way a plain glob match does not.
func compileGitignoreSet(patterns []string) (*gitignore.GitIgnore, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	return gitignore.CompileIgnoreLines(patterns...), nil
}
