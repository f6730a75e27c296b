package worker

import (
	"context"
	"strings"
	"time"
)

const pingTimeout = 15 * time.Second

// PreflightResult classifies the outcome of a ping probe.
type PreflightResult struct {
	OK    bool
	Class string // auth|rate_limit|network|unknown
	Detail string
}

// errorClassPatterns maps substrings observed in worker error output
// to a stop-reason family, so a preflight failure can be reported with
// enough signal for the Diagnosis Engine to act on (spec.md §4.2, §4.8).
var errorClassPatterns = []struct {
	class    string
	patterns []string
}{
	{"auth", []string{"unauthorized", "invalid api key", "authentication", "forbidden", "401", "403"}},
	{"rate_limit", []string{"rate limit", "429", "too many requests", "quota"}},
	{"network", []string{"connection refused", "timeout", "no such host", "network is unreachable", "dial tcp"}},
}

// Ping sends a trivial prompt to the worker with a short timeout and
// classifies any failure. Its caller is the doctor command; the
// supervisor does not ping workers before a run starts.
func Ping(ctx context.Context, role string, cfg Config) PreflightResult {
	pingCfg := cfg
	pingCfg.TotalTimeout = pingTimeout

	inv, err := Invoke(ctx, role, pingCfg, "ping")
	if err != nil {
		return PreflightResult{OK: false, Class: "unknown", Detail: err.Error()}
	}
	if inv.ExitError == nil {
		return PreflightResult{OK: true}
	}

	haystack := strings.ToLower(inv.RawOutput + " " + inv.ExitError.Error())
	for _, entry := range errorClassPatterns {
		for _, p := range entry.patterns {
			if strings.Contains(haystack, p) {
				return PreflightResult{OK: false, Class: entry.class, Detail: inv.ExitError.Error()}
			}
		}
	}
	return PreflightResult{OK: false, Class: "unknown", Detail: inv.ExitError.Error()}
}
