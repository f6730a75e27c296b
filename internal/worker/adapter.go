// Package worker invokes black-box worker subprocesses (planner,
// implementer, reviewer) and parses their marker-delimited JSON
// output. PTY allocation and output-copy discipline are grounded on
// the teacher's internal/engine.invokeAgent; the spawn is generalized
// from "one hardcoded agent command" to "any configured worker role"
// and gains a total-timeout and a last-byte-received watchdog the
// teacher does not have.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// Config describes how to invoke one worker role.
type Config struct {
	Bin            string
	Args           []string
	Output         string // text|json|jsonl
	Dir            string // working directory; defaults to the caller's cwd
	TotalTimeout   time.Duration // default 300s
	WatchdogIdle   time.Duration // no default; 0 (the zero value) disables
}

// Invocation is the record of one worker run, including a per-invocation
// correlation ID (a UUID). The ID is kept on this record only; it is not
// written into timeline events or notes.
type Invocation struct {
	ID         string
	Role       string
	Prompt     string
	RawOutput  string
	Stderr     string
	ExitError  error
	Duration   time.Duration
	TimedOut   bool
	WatchdogHit bool
}

const defaultTotalTimeout = 300 * time.Second

// Invoke spawns cfg.Bin with cfg.Args, feeds prompt on stdin, and
// captures combined stdout+stderr via a PTY so line-buffered agents
// stream output in real time. Stdin is a plain pipe so the worker
// still observes a clean EOF, matching the teacher's split between
// "PTY for output, pipe for input".
func Invoke(ctx context.Context, role string, cfg Config, prompt string) (Invocation, error) {
	inv := Invocation{ID: uuid.NewString(), Role: role, Prompt: prompt}

	timeout := cfg.TotalTimeout
	if timeout <= 0 {
		timeout = defaultTotalTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.Bin, cfg.Args...)
	cmd.Dir = cfg.Dir

	ptmx, pts, err := pty.Open()
	if err != nil {
		return inv, fmt.Errorf("opening pty for worker %s: %w", role, err)
	}
	defer ptmx.Close()

	cmd.Stdin = strings.NewReader(prompt)
	cmd.Stdout = pts
	cmd.Stderr = pts

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pts.Close()
		return inv, fmt.Errorf("starting worker %s: %w", role, err)
	}
	pts.Close()

	var out bytes.Buffer
	lastByte := make(chan struct{}, 1)
	copyDone := make(chan error, 1)
	go func() {
		copyDone <- copyWithActivity(&out, ptmx, lastByte)
	}()

	watchdogHit := watchForIdle(runCtx, cancel, lastByte, cfg.WatchdogIdle)

	copyErr := <-copyDone
	if copyErr != nil {
		var pathErr *os.PathError
		if !(errors.As(copyErr, &pathErr) && pathErr.Err == syscall.EIO) {
			inv.ExitError = fmt.Errorf("reading worker %s output: %w", role, copyErr)
		}
	}

	waitErr := cmd.Wait()
	inv.Duration = time.Since(start)
	inv.RawOutput = out.String()
	inv.TimedOut = runCtx.Err() == context.DeadlineExceeded
	inv.WatchdogHit = watchdogHit.Load()

	if waitErr != nil && inv.ExitError == nil {
		inv.ExitError = fmt.Errorf("worker %s exited with error: %w", role, waitErr)
	}
	return inv, nil
}

// copyWithActivity copies src to dst, signaling lastByte on every read
// so a watchdog goroutine can observe liveness without inspecting
// bytes itself.
func copyWithActivity(dst io.Writer, src io.Reader, lastByte chan<- struct{}) error {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			select {
			case lastByte <- struct{}{}:
			default:
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// watchForIdle cancels runCtx if idle exceeds the watchdog duration
// with no bytes received. Returns a pointer the caller reads after
// the copy finishes to learn whether the watchdog, rather than the
// process exiting naturally, caused cancellation.
func watchForIdle(ctx context.Context, cancel context.CancelFunc, lastByte <-chan struct{}, idle time.Duration) *atomic.Bool {
	hit := new(atomic.Bool)
	if idle <= 0 {
		return hit
	}
	go func() {
		timer := time.NewTimer(idle)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-lastByte:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(idle)
			case <-timer.C:
				hit.Store(true)
				cancel()
				return
			}
		}
	}()
	return hit
}
