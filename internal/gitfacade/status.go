package gitfacade

import (
	"strings"
)

// ChangedFiles is the parsed result of `git status --porcelain`,
// generalized from the teacher's inline status calls in commitChanges
// into a reusable, rename-aware parser (spec.md §4.3).
type ChangedFiles struct {
	Touched   []string // staged + unstaged + rename old/new paths, deduplicated
	Untracked []string
}

// StatusPorcelain returns raw `git status --porcelain` output.
func (r *Repo) StatusPorcelain() (string, error) {
	return r.run("status", "--porcelain")
}

// HasChanges reports whether the worktree has any uncommitted changes.
func (r *Repo) HasChanges() (bool, error) {
	out, err := r.StatusPorcelain()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// ParsePorcelainStatus parses `git status --porcelain` output into a
// ChangedFiles set. Rename lines ("R  old -> new") contribute both
// paths since both were touched for scope-checking purposes.
func ParsePorcelainStatus(porcelain string) ChangedFiles {
	seen := map[string]bool{}
	var cf ChangedFiles
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		cf.Touched = append(cf.Touched, path)
	}

	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 3 {
			continue
		}
		code := line[:2]
		rest := strings.TrimSpace(line[3:])

		if code == "??" {
			cf.Untracked = append(cf.Untracked, rest)
			continue
		}

		if idx := strings.Index(rest, " -> "); idx >= 0 {
			add(rest[:idx])
			add(rest[idx+4:])
			continue
		}
		add(rest)
	}
	return cf
}

// DiffNumstat returns `git diff --numstat` between two refs.
func (r *Repo) DiffNumstat(from, to string) (string, error) {
	return r.run("diff", "--numstat", from+".."+to)
}

// DiffStat returns `git diff --stat` between two refs.
func (r *Repo) DiffStat(from, to string) (string, error) {
	return r.run("diff", "--stat", from+".."+to)
}

// DiffPatch returns the unified diff between two refs.
func (r *Repo) DiffPatch(from, to string) (string, error) {
	return r.run("diff", from+".."+to)
}

// FilesChangedInCommit lists files touched by a single commit, using
// diff-tree so root commits (no parent) work correctly.
func (r *Repo) FilesChangedInCommit(hash string) ([]string, error) {
	out, err := r.run("diff-tree", "--no-commit-id", "-r", "--name-only", hash)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
