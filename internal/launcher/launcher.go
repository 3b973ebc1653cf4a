// Package launcher starts the external simulation executable for a job and
// reports its exit without blocking the caller.
//
// Two runtimes are provided: Exec runs the executable as a child process of
// the service, Docker runs it in a container with the job's working directory
// bind-mounted. Both hand back a Process whose Poll never blocks; a single
// goroutine per process waits for the exit and publishes it.
package launcher

import (
	"context"
	"errors"
)

// ErrNotRunning is returned when signalling a process that already exited.
var ErrNotRunning = errors.New("process is not running")

// Spec describes one launch.
type Spec struct {
	ID      string // job identifier, used for labels and names
	Dir     string // working directory, exclusively owned by the job
	LogPath string // file receiving the combined output stream
}

// Exit is the terminal outcome of a process.
type Exit struct {
	Code int
	Err  error // set when the exit status could not be determined
}

// Success reports whether the process exited cleanly with code 0.
func (e Exit) Success() bool {
	return e.Err == nil && e.Code == 0
}

// Process is a handle to one started executable.
type Process interface {
	// Poll reports the exit if the process has finished. Never blocks.
	Poll() (Exit, bool)

	// Done is closed once the process has exited.
	Done() <-chan struct{}

	// Terminate asks the process to exit (SIGTERM).
	Terminate(ctx context.Context) error

	// Kill forces the process to exit (SIGKILL).
	Kill(ctx context.Context) error
}

// exitLatch publishes an Exit exactly once.
type exitLatch struct {
	done chan struct{}
	exit Exit
}

func newExitLatch() *exitLatch {
	return &exitLatch{done: make(chan struct{})}
}

// set must be called exactly once, by the goroutine that waits on the process.
func (l *exitLatch) set(e Exit) {
	l.exit = e
	close(l.done)
}

func (l *exitLatch) Poll() (Exit, bool) {
	select {
	case <-l.done:
		return l.exit, true
	default:
		return Exit{}, false
	}
}

func (l *exitLatch) Done() <-chan struct{} {
	return l.done
}
