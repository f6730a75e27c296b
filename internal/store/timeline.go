package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/weldr-dev/runr/internal/fileutil"
)

// Event types emitted by the core (spec.md §6.2). Not exhaustive —
// callers may use other strings — but these are the well-known ones
// readers (report, status, diagnosis) key off of.
const (
	EventPhaseStart                 = "phase_start"
	EventPlanGenerated               = "plan_generated"
	EventImplementComplete           = "implement_complete"
	EventVerification                = "verification"
	EventVerifyFailedRetry           = "verify_failed_retry"
	EventVerifyFailedMaxRetries      = "verify_failed_max_retries"
	EventReviewComplete              = "review_complete"
	EventCheckpointComplete          = "checkpoint_complete"
	EventGuardViolation              = "guard_violation"
	EventParseFailed                 = "parse_failed"
	EventWorkerFallback              = "worker_fallback"
	EventWorkerError                 = "worker_error"
	EventPreflight                   = "preflight"
	EventStop                        = "stop"
	EventSubmitValidationFailed      = "submit_validation_failed"
	EventSubmitConflict              = "submit_conflict"
	EventRunSubmitted                = "run_submitted"
)

// Event is one append-only record in a run's timeline (spec.md §2, §6.2).
type Event struct {
	Seq       uint64                 `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Timeline serializes appends to one run's event log within this
// process with a mutex, matching the contract that cross-process
// concurrency on a single run is unsupported (spec.md §4.1). The seq
// counter is persisted to seq.txt so a restarted supervisor resumes
// numbering without gaps.
type Timeline struct {
	mu    sync.Mutex
	paths Paths
	seq   uint64
}

// OpenTimeline loads the last-seq counter for an existing run, or
// starts a fresh counter at 0 if seq.txt does not exist yet.
func OpenTimeline(p Paths) (*Timeline, error) {
	t := &Timeline{paths: p}
	data, err := os.ReadFile(p.SeqFile())
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading seq file: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing seq file: %w", err)
	}
	t.seq = n
	return t, nil
}

// AppendEvent assigns the next seq, formats the event as one JSON
// line, appends it to timeline.jsonl, and durably advances seq.txt.
// Every significant decision in the supervisor calls this.
func (t *Timeline) AppendEvent(typ, source string, payload map[string]interface{}) (Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	ev := Event{
		Seq:       t.seq,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Source:    source,
		Payload:   payload,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		t.seq--
		return Event{}, fmt.Errorf("marshaling event: %w", err)
	}
	if err := fileutil.AppendLine(t.paths.TimelineFile(), line); err != nil {
		t.seq--
		return Event{}, fmt.Errorf("appending event: %w", err)
	}
	if err := fileutil.WriteFileAtomic(t.paths.SeqFile(), []byte(strconv.FormatUint(t.seq, 10)), 0o644); err != nil {
		return ev, fmt.Errorf("persisting seq counter: %w", err)
	}
	return ev, nil
}

// ReadTimeline loads every event from a run's timeline.jsonl in order.
func ReadTimeline(p Paths) ([]Event, error) {
	data, err := os.ReadFile(p.TimelineFile())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading timeline: %w", err)
	}
	var events []Event
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("parsing timeline line: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
