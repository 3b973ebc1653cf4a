// Package testutil provides polling helpers and fake simulation executables
// for tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// WaitOptions configures WaitFor behavior.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 10ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

func resolve(opts []WaitOption) WaitOptions {
	o := WaitOptions{
		Timeout:  10 * time.Second,
		Interval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WaitFor polls condition until it returns true or the timeout passes.
// The condition is always evaluated at least once.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()
	o := resolve(opts)

	deadline := time.After(o.Timeout)
	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}
		select {
		case <-deadline:
			return condition()
		case <-ticker.C:
		}
	}
}

// WaitForCount polls until counter reaches target or the timeout passes.
func WaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) bool {
	tb.Helper()
	return WaitFor(tb, func() bool {
		return counter.Load() >= target
	}, opts...)
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForCount is WaitForCount that fails the test on timeout.
func MustWaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) {
	tb.Helper()
	if !WaitForCount(tb, counter, target, opts...) {
		tb.Fatalf("timed out waiting for counter to reach %d (current: %d)", target, counter.Load())
	}
}

// MustWaitForClosed blocks until ch is closed or fails the test on timeout.
func MustWaitForClosed(tb testing.TB, ch <-chan struct{}, opts ...WaitOption) {
	tb.Helper()
	o := resolve(opts)
	select {
	case <-ch:
	case <-time.After(o.Timeout):
		tb.Fatalf("timed out after %v waiting for channel to close", o.Timeout)
	}
}

// FakeSimulator writes an executable shell script standing in for the
// simulation binary and returns its path. The script runs in the job's
// working directory. Skips the test when sh is unavailable.
func FakeSimulator(tb testing.TB, body string) string {
	tb.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		tb.Skip("sh not available")
	}
	path := filepath.Join(tb.TempDir(), "fake-simulator")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		tb.Fatalf("write fake simulator: %v", err)
	}
	return path
}
