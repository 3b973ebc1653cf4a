package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"simcontroller/internal/apperrors"
	"simcontroller/internal/launcher"
	"sync"
	"time"
)

// Layout of a job working directory.
const (
	InputDir   = "input"
	OutputDir  = "output"
	LogFile    = "simulation.log" // under OutputDir
	ResultFile = "output.json"
)

// Job owns one simulation: its parameters, working directory, process handle
// and the two state axes (Status and OutputStatus).
//
// All mutable fields are guarded by mu. Output conversion runs without mu
// held; the OutputComputing state is the claim that keeps a second
// conversion from starting for the same run.
type Job struct {
	id        string
	params    Parameters
	dir       string
	callback  *Callback
	createdAt time.Time
	env       *env
	logger    *slog.Logger

	mu           sync.Mutex
	status       Status
	outputStatus OutputStatus
	proc         launcher.Process // non-nil only while status == StatusRunning
	starting     bool             // launcher.Start in flight, mu released
	result       *Result
	lastErr      error
	exitCode     *int
	startedAt    time.Time
	finishedAt   time.Time
	deleted      bool
}

func newJob(id, dir string, params Parameters, cb *Callback, e *env) *Job {
	return &Job{
		id:        id,
		params:    params,
		dir:       dir,
		callback:  cb,
		createdAt: time.Now().UTC(),
		env:       e,
		logger:    slog.With("jobId", id),
		status:    StatusCreated,
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Dir returns the job working directory.
func (j *Job) Dir() string { return j.dir }

// run starts the executable. Fails with Conflict while a run is in progress
// and, unless re-runs are allowed, after a natural completion.
//
// The launch itself happens without mu held; the starting flag keeps other
// lifecycle operations off the job until the process handle is published.
func (j *Job) run(ctx context.Context) error {
	j.Reconcile(ctx)

	j.mu.Lock()
	if j.deleted {
		j.mu.Unlock()
		return apperrors.NotFound("simulation", j.id)
	}
	if j.starting {
		j.mu.Unlock()
		return apperrors.Conflict("simulation", j.id, "simulation is starting")
	}
	switch j.status {
	case StatusRunning:
		j.mu.Unlock()
		return apperrors.Conflict("simulation", j.id, "simulation already in progress")
	case StatusCompleted:
		if !j.env.allowRerun {
			j.mu.Unlock()
			return apperrors.Conflict("simulation", j.id, "simulation already completed")
		}
	case StatusCreated, StatusFailed, StatusStopped:
	}

	if err := os.MkdirAll(filepath.Join(j.dir, OutputDir), 0o755); err != nil {
		j.mu.Unlock()
		return apperrors.Internal("simulation.prepareOutput", err)
	}
	// A stale result from a previous run must not survive into this one.
	if err := os.Remove(filepath.Join(j.dir, ResultFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		j.mu.Unlock()
		return apperrors.Internal("simulation.prepareOutput", err)
	}
	j.starting = true
	j.mu.Unlock()

	proc, err := j.env.launcher.Start(ctx, launcher.Spec{
		ID:      j.id,
		Dir:     j.dir,
		LogPath: filepath.Join(j.dir, OutputDir, LogFile),
	})

	j.mu.Lock()
	j.starting = false
	if err != nil {
		j.mu.Unlock()
		j.logger.Error("Simulation failed to start", "error", err)
		return apperrors.Internal("launcher.start", err)
	}
	if j.env.ctx.Err() != nil {
		// The registry closed while launching; nothing would halt this process.
		j.mu.Unlock()
		killCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := proc.Kill(killCtx); err != nil && !errors.Is(err, launcher.ErrNotRunning) {
			j.logger.Warn("Failed to kill simulation launched during shutdown", "error", err)
		}
		return ErrClosed
	}

	j.proc = proc
	j.status = StatusRunning
	j.outputStatus = OutputMissing
	j.result = nil
	j.lastErr = nil
	j.exitCode = nil
	j.startedAt = time.Now().UTC()
	j.finishedAt = time.Time{}
	info := j.infoLocked()
	j.mu.Unlock()

	j.logger.Info("Simulation started")
	j.env.recordStarted(ctx)
	j.env.publish(EventTypeRunning, info, j.callback)
	return nil
}

// stop sends a termination signal and marks the job stopped without waiting
// for the exit. With a grace period configured, a kill follows if the
// process outlives it.
func (j *Job) stop(ctx context.Context) error {
	j.Reconcile(ctx)

	j.mu.Lock()
	if j.starting {
		j.mu.Unlock()
		return apperrors.Conflict("simulation", j.id, "simulation is starting")
	}
	if j.proc == nil {
		j.mu.Unlock()
		return apperrors.Conflict("simulation", j.id, "no process to stop")
	}
	proc := j.proc
	if err := proc.Terminate(ctx); err != nil {
		j.mu.Unlock()
		if errors.Is(err, launcher.ErrNotRunning) {
			// Exited on its own after the reconcile above; record that exit.
			j.Reconcile(ctx)
			return apperrors.Conflict("simulation", j.id, "no process to stop")
		}
		return apperrors.Internal("launcher.terminate", err)
	}
	j.proc = nil
	j.status = StatusStopped
	j.finishedAt = time.Now().UTC()
	duration := j.finishedAt.Sub(j.startedAt)
	info := j.infoLocked()
	j.mu.Unlock()

	j.logger.Info("Simulation stopped")
	j.env.escalate(j.logger, proc)
	j.env.recordFinished(ctx, StatusStopped, duration)
	j.env.publish(EventTypeStopped, info, j.callback)
	return nil
}

// halt is stop for shutdown: terminate, wait up to the grace period, kill.
// It blocks until the process is gone or ctx ends.
func (j *Job) halt(ctx context.Context) {
	j.mu.Lock()
	proc := j.proc
	if proc == nil {
		j.mu.Unlock()
		return
	}
	j.proc = nil
	j.status = StatusStopped
	j.finishedAt = time.Now().UTC()
	j.mu.Unlock()

	_ = proc.Terminate(ctx)
	if j.env.grace > 0 {
		timer := time.NewTimer(j.env.grace)
		defer timer.Stop()
		select {
		case <-proc.Done():
			j.logger.Info("Simulation halted")
			return
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	killCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := proc.Kill(killCtx); err != nil && !errors.Is(err, launcher.ErrNotRunning) {
		j.logger.Warn("Failed to kill simulation", "error", err)
	}
	j.logger.Info("Simulation killed on shutdown")
}

// Reconcile polls a running process and advances the state machine:
//   - still running: no change
//   - exit 0: OutputMissing -> OutputComputing, conversion, then OutputReady
//     (or OutputFailed) and StatusCompleted
//   - any other exit: StatusFailed, output stays missing
//
// Safe for concurrent use; at most one conversion happens per successful run.
func (j *Job) Reconcile(ctx context.Context) {
	j.mu.Lock()
	if j.status != StatusRunning || j.proc == nil {
		j.mu.Unlock()
		return
	}
	exit, done := j.proc.Poll()
	if !done {
		j.mu.Unlock()
		return
	}

	code := exit.Code
	j.proc = nil
	j.exitCode = &code
	j.finishedAt = time.Now().UTC()
	duration := j.finishedAt.Sub(j.startedAt)

	if !exit.Success() {
		j.status = StatusFailed
		if exit.Err != nil {
			j.lastErr = exit.Err
		} else {
			j.lastErr = fmt.Errorf("simulation exited with code %d", code)
		}
		info := j.infoLocked()
		j.mu.Unlock()

		j.logger.Warn("Simulation failed", "exitCode", code, "error", exit.Err)
		j.env.recordFinished(ctx, StatusFailed, duration)
		j.env.publish(EventTypeFailed, info, j.callback)
		return
	}

	if j.outputStatus != OutputMissing {
		j.status = StatusCompleted
		j.mu.Unlock()
		return
	}
	j.outputStatus = OutputComputing
	j.mu.Unlock()

	j.logger.Info("Simulation exited, preparing output")
	start := time.Now()
	result, err := j.prepareOutput(j.env.lifetime())

	j.mu.Lock()
	j.status = StatusCompleted
	if err != nil {
		j.outputStatus = OutputFailed
		j.lastErr = err
	} else {
		j.outputStatus = OutputReady
		j.result = result
	}
	info := j.infoLocked()
	j.mu.Unlock()

	j.env.recordFinished(ctx, StatusCompleted, duration)
	j.env.recordOutput(ctx, err == nil, time.Since(start))
	j.env.publish(EventTypeCompleted, info, j.callback)
	if err != nil {
		j.logger.Error("Output preparation failed", "error", err)
		j.env.publish(EventTypeOutputFailed, info, j.callback)
		return
	}
	j.logger.Info("Output ready", "channels", len(result.Channels))
	j.env.publish(EventTypeOutputReady, info, j.callback)
}

// prepareOutput converts raw output and persists it as ResultFile.
func (j *Job) prepareOutput(ctx context.Context) (*Result, error) {
	channels, err := j.env.converter.Convert(ctx, j.dir)
	if err != nil {
		return nil, apperrors.Preparation("output.convert", err)
	}
	result := &Result{ID: j.id, Channels: channels}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, apperrors.Internal("output.encode", err)
	}
	if err := os.WriteFile(filepath.Join(j.dir, ResultFile), data, 0o644); err != nil {
		return nil, apperrors.Internal("output.write", err)
	}
	return result, nil
}

// output returns the cached result. Conflict unless OutputReady.
func (j *Job) output() (*Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.outputStatus {
	case OutputReady:
		return j.result, nil
	case OutputFailed:
		return nil, apperrors.Conflict("simulation", j.id, fmt.Sprintf("output preparation failed: %v", j.lastErr))
	case OutputComputing:
		return nil, apperrors.Conflict("simulation", j.id, "output is being prepared")
	case OutputMissing:
	}
	return nil, apperrors.Conflict("simulation", j.id, "output not available")
}

// remove deletes the working directory. Conflict while running, which also
// covers output preparation in progress.
func (j *Job) remove() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status == StatusRunning || j.starting {
		return apperrors.Conflict("simulation", j.id, "simulation is running")
	}
	if err := os.RemoveAll(j.dir); err != nil {
		return apperrors.Internal("simulation.removeDir", err)
	}
	j.deleted = true
	return nil
}

// Info returns a point-in-time view without reconciling.
func (j *Job) Info() Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.infoLocked()
}

func (j *Job) infoLocked() Info {
	info := Info{
		ID:          j.id,
		Parameters:  j.params,
		State:       j.status,
		OutputState: j.outputStatus,
		CreatedAt:   j.createdAt,
	}
	if j.exitCode != nil {
		code := *j.exitCode
		info.ExitCode = &code
	}
	if j.lastErr != nil {
		info.Error = j.lastErr.Error()
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		info.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		info.FinishedAt = &t
	}
	return info
}
