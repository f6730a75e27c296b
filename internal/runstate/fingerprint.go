package runstate

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/weldr-dev/runr/internal/store"
)

// DefaultMaxReviewRounds is used when config doesn't override it.
const DefaultMaxReviewRounds = 2

// FingerprintChanges hashes a normalized, sorted form of a reviewer's
// requested changes list, so repeated identical review feedback can
// be recognized as a loop (spec.md §4.9).
func FingerprintChanges(changes []string) string {
	normalized := make([]string, len(changes))
	for i, c := range changes {
		normalized[i] = strings.ToLower(strings.TrimSpace(c))
	}
	sort.Strings(normalized)
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\n")))
	return hex.EncodeToString(sum[:])
}

// ReviewLoopResult reports whether a new request_changes fingerprint
// matches the prior round and whether the run must now stop.
type ReviewLoopResult struct {
	Fingerprint    string
	LoopDetected   bool
	ShouldStop     bool
}

// CheckReviewLoop compares changes' fingerprint against s's recorded
// one. A repeat increments review_rounds; reaching maxReviewRounds
// (0 meaning DefaultMaxReviewRounds) means the run must stop with
// review_loop_detected. A fingerprint that differs from the last
// resets review_rounds to 1 (this round) and records the new
// fingerprint — it is a fresh request, not a repeat.
func CheckReviewLoop(s *store.RunState, changes []string, maxReviewRounds int) ReviewLoopResult {
	if maxReviewRounds <= 0 {
		maxReviewRounds = DefaultMaxReviewRounds
	}
	fp := FingerprintChanges(changes)

	if fp == s.LastReviewFingerprint && s.LastReviewFingerprint != "" {
		s.ReviewRounds++
	} else {
		s.ReviewRounds = 1
		s.LastReviewFingerprint = fp
	}

	return ReviewLoopResult{
		Fingerprint:  fp,
		LoopDetected: s.ReviewRounds >= maxReviewRounds,
		ShouldStop:   s.ReviewRounds >= maxReviewRounds,
	}
}
