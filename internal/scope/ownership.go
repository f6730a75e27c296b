package scope

import (
	"fmt"
	"path"
	"strings"
)

// NormalizeOwnedPaths canonicalizes owned_paths: POSIX separators,
// leading "./" stripped, bare directories get a trailing "/**", and
// duplicates are removed. Idempotent — normalizing an already
// normalized set returns the same set (spec.md §8 round-trip
// property).
func NormalizeOwnedPaths(paths []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		n := normalizeOwnedPath(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func normalizeOwnedPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if strings.HasSuffix(p, "/**") || strings.ContainsAny(p, "*?[") {
		return path.Clean(p[:len(p)-len(trailingGlobSuffix(p))]) + trailingGlobSuffix(p)
	}
	if strings.HasSuffix(p, "/") {
		return path.Clean(p) + "/**"
	}
	// A bare path with no glob metacharacters and no trailing slash is
	// treated as a directory, per the ownership contract.
	return path.Clean(p) + "/**"
}

// trailingGlobSuffix returns the "/**" suffix if present, else "".
func trailingGlobSuffix(p string) string {
	if strings.HasSuffix(p, "/**") {
		return "/**"
	}
	return ""
}

// OwnershipViolation describes a changed file outside every owned
// path, distinct from a scope_violation.
type OwnershipViolation struct {
	Path string `json:"path"`
}

// CheckOwnership reports every changedFiles entry that matches none
// of the (already normalized) ownedPaths patterns. An empty
// ownedPaths set means no ownership constraint — everything passes.
func CheckOwnership(ownedPaths, changedFiles []string) ([]OwnershipViolation, error) {
	if len(ownedPaths) == 0 {
		return nil, nil
	}
	var violations []OwnershipViolation
	for _, f := range changedFiles {
		matched, err := matchesAnyGlob(ownedPaths, f)
		if err != nil {
			return nil, fmt.Errorf("matching owned paths: %w", err)
		}
		if !matched {
			violations = append(violations, OwnershipViolation{Path: f})
		}
	}
	return violations, nil
}
