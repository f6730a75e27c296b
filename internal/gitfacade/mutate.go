package gitfacade

import (
	"fmt"
)

func (r *Repo) StageAll() error {
	_, err := r.run("add", "-A")
	return err
}

// Commit commits staged changes with --no-verify: the supervisor
// commits after a worker has already exited, so there is no agent
// left to react to a failing pre-commit hook.
func (r *Repo) Commit(message string) error {
	_, err := r.run("commit", "--no-verify", "-m", message)
	return err
}

func (r *Repo) StashPush(message string) error {
	_, err := r.run("stash", "push", "-u", "-m", message)
	return err
}

func (r *Repo) StashPop() error {
	_, err := r.run("stash", "pop")
	return err
}

// CherryPickResult reports the outcome of a cherry-pick attempt.
type CherryPickResult struct {
	OK               bool
	ConflictedFiles  []string
}

func (r *Repo) abortCherryPick() {
	_, _ = r.run("cherry-pick", "--abort")
}

// CherryPick applies sha onto the current branch. On conflict it
// follows the spec's fixed recovery sequence: parse conflicted files,
// abort the cherry-pick, restore the original branch, verify the tree
// is clean. Any step failing in that sequence is a fatal recovery
// error — the facade never leaves a partial cherry-pick behind
// (spec.md §4.3).
func (r *Repo) CherryPick(sha, originalBranch string) (CherryPickResult, error) {
	_, err := r.run("cherry-pick", sha)
	if err == nil {
		return CherryPickResult{OK: true}, nil
	}

	status, statusErr := r.StatusPorcelain()
	if statusErr != nil {
		return CherryPickResult{}, fmt.Errorf("cherry-pick %s failed and status could not be read: %w", sha, statusErr)
	}
	conflicted := conflictedFilesFromStatus(status)

	r.abortCherryPick()

	if _, err := r.run("checkout", originalBranch); err != nil {
		return CherryPickResult{}, fmt.Errorf("cherry-pick %s failed and branch restore to %s also failed: %w", sha, originalBranch, err)
	}

	clean, err := r.HasChanges()
	if err != nil {
		return CherryPickResult{}, fmt.Errorf("cherry-pick %s failed and tree-clean check also failed: %w", sha, err)
	}
	if clean {
		return CherryPickResult{}, fmt.Errorf("cherry-pick %s aborted but worktree is not clean after recovery", sha)
	}

	return CherryPickResult{OK: false, ConflictedFiles: conflicted}, nil
}

// conflictedFilesFromStatus extracts "UU"/"AA"/"DD"-style unmerged
// paths from porcelain status output.
func conflictedFilesFromStatus(porcelain string) []string {
	var files []string
	for _, line := range splitLines(porcelain) {
		if len(line) < 3 {
			continue
		}
		code := line[:2]
		switch code {
		case "UU", "AA", "DD", "AU", "UA", "UD", "DU":
			files = append(files, line[3:])
		}
	}
	return files
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
