package scope

// Partition splits a changed-file set into env noise (matched by
// env_allowlist) and everything else, which counts as semantic
// change. This is the single implementation both the supervisor's
// scope check and the run command's pre-run dirty-worktree check call
// through —
// the pack's two observed variants (one partitioning before the scope
// check, one after) are collapsed into this one place rather than
// kept as parallel implementations.
type Partition struct {
	Env      []string
	Semantic []string
}

// PartitionChangedFiles classifies changedFiles against envAllowlist
// glob patterns. An empty envAllowlist puts every file in Semantic.
func PartitionChangedFiles(envAllowlist, changedFiles []string) (Partition, error) {
	if len(envAllowlist) == 0 {
		return Partition{Semantic: changedFiles}, nil
	}
	var p Partition
	for _, f := range changedFiles {
		matched, err := matchesAnyGlob(envAllowlist, f)
		if err != nil {
			return Partition{}, err
		}
		if matched {
			p.Env = append(p.Env, f)
		} else {
			p.Semantic = append(p.Semantic, f)
		}
	}
	return p, nil
}
