// Package simulation manages the lifecycle of simulation jobs: identity,
// state transitions, the external process handle, post-run output
// preparation, and the background sweep that advances state without client
// polling.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"simcontroller/internal/apperrors"
	"simcontroller/internal/dispatcher"
	"simcontroller/internal/launcher"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by operations on a closed registry.
var ErrClosed = errors.New("registry is closed")

// Preparer generates the input artifacts of a job inside its working directory.
type Preparer interface {
	Prepare(ctx context.Context, dir string, params Parameters) error
}

// Converter turns the raw output in a working directory into channels.
type Converter interface {
	Convert(ctx context.Context, dir string) (map[string][]float64, error)
}

// Launcher starts the simulation executable.
type Launcher interface {
	Start(ctx context.Context, spec launcher.Spec) (launcher.Process, error)
}

// MetricsRecorder is an optional interface for recording simulation metrics.
type MetricsRecorder interface {
	RecordSimulationCreated(ctx context.Context)
	RecordSimulationStarted(ctx context.Context)
	RecordSimulationFinished(ctx context.Context, state string, durationSeconds float64)
	RecordOutputPrepared(ctx context.Context, success bool, durationSeconds float64)
}

// Config holds the collaborators and policies of a Registry.
type Config struct {
	Dir       string // parent of every job working directory
	Preparer  Preparer
	Converter Converter
	Launcher  Launcher

	MonitorInterval     time.Duration // default 10s
	StopGracePeriod     time.Duration // 0 disables kill escalation
	AllowRerunCompleted bool

	Dispatcher dispatcher.Dispatcher // lifecycle callbacks (optional)
	Metrics    MetricsRecorder       // optional
	NewID      func() string         // default uuid.NewString
}

// Registry is the exclusive owner of every Job.
type Registry struct {
	dir      string
	preparer Preparer
	newID    func() string
	store    *jobStore
	env      *env
	logger   *slog.Logger

	cancelMonitor context.CancelFunc
	closed        atomic.Bool
}

// NewRegistry creates the registry and starts its background monitor.
// Close must be called to stop the monitor.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Preparer == nil || cfg.Converter == nil || cfg.Launcher == nil {
		return nil, fmt.Errorf("preparer, converter and launcher are required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("simulations directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create simulations directory: %w", err)
	}

	interval := cfg.MonitorInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		dir:      cfg.Dir,
		preparer: cfg.Preparer,
		newID:    newID,
		store:    newJobStore(),
		env: &env{
			ctx:        ctx,
			launcher:   cfg.Launcher,
			converter:  cfg.Converter,
			grace:      cfg.StopGracePeriod,
			allowRerun: cfg.AllowRerunCompleted,
			dispatcher: cfg.Dispatcher,
			metrics:    cfg.Metrics,
		},
		logger:        slog.With("component", "registry"),
		cancelMonitor: cancel,
	}

	r.env.goTracked(func() { r.runMonitor(ctx, interval) })
	r.logger.Info("Registry started", "dir", cfg.Dir, "monitorInterval", interval)
	return r, nil
}

// Create validates params, prepares a working directory with input artifacts
// and registers a new job. On failure nothing is registered and the
// directory is removed.
func (r *Registry) Create(ctx context.Context, params Parameters, cb *Callback) (string, error) {
	if r.closed.Load() {
		return "", ErrClosed
	}
	if err := params.Validate(); err != nil {
		return "", err
	}
	if err := cb.Validate(); err != nil {
		return "", err
	}

	id := r.newID()
	if err := r.store.reserve(id); err != nil {
		return "", err
	}

	dir := filepath.Join(r.dir, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		r.store.release(id)
		return "", apperrors.Internal("simulation.createDir", err)
	}

	if err := r.preparer.Prepare(ctx, dir, params); err != nil {
		r.store.release(id)
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			r.logger.Warn("Failed to remove directory after preparation error", "jobId", id, "error", rmErr)
		}
		if !errors.Is(err, apperrors.ErrPreparation) && !errors.Is(err, apperrors.ErrValidation) {
			err = apperrors.Preparation("inputs.prepare", err)
		}
		r.logger.Warn("Input preparation failed", "jobId", id, "error", err)
		return "", err
	}

	j := newJob(id, dir, params, cb, r.env)
	r.store.commit(id, j)

	j.logger.Info("Simulation created")
	r.env.recordCreated(ctx)
	r.env.publish(EventTypeCreated, j.Info(), cb)
	return id, nil
}

// Run starts the job's executable.
func (r *Registry) Run(ctx context.Context, id string) error {
	j, err := r.lookup(id)
	if err != nil {
		return err
	}
	return j.run(ctx)
}

// Stop terminates the job's running process.
func (r *Registry) Stop(ctx context.Context, id string) error {
	j, err := r.lookup(id)
	if err != nil {
		return err
	}
	return j.stop(ctx)
}

// Delete removes a non-running job and its working directory.
func (r *Registry) Delete(ctx context.Context, id string) error {
	j, err := r.lookup(id)
	if err != nil {
		return err
	}
	// Reconcile outside the store lock: it may run output conversion.
	j.Reconcile(ctx)

	if err := r.store.remove(id, (*Job).remove); err != nil {
		return err
	}
	j.logger.Info("Simulation deleted")
	return nil
}

// State returns the freshly reconciled status of a job.
func (r *Registry) State(ctx context.Context, id string) (Status, error) {
	info, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return info.State, nil
}

// Get returns the freshly reconciled detailed view of a job.
func (r *Registry) Get(ctx context.Context, id string) (Info, error) {
	j, err := r.lookup(id)
	if err != nil {
		return Info{}, err
	}
	j.Reconcile(ctx)
	return j.Info(), nil
}

// Output returns the materialized result of the last successful run.
// Repeated calls return the same cached result.
func (r *Registry) Output(ctx context.Context, id string) (*Result, error) {
	j, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	j.Reconcile(ctx)
	return j.output()
}

// List returns every job in creation order. It does not reconcile; the
// background monitor keeps states current.
func (r *Registry) List(ctx context.Context) []Summary {
	jobs := r.store.snapshot()
	out := make([]Summary, 0, len(jobs))
	for _, j := range jobs {
		info := j.Info()
		out = append(out, Summary{ID: info.ID, Parameters: info.Parameters, State: info.State})
	}
	return out
}

// Ready reports whether the simulations directory is usable.
func (r *Registry) Ready(ctx context.Context) error {
	probe, err := os.CreateTemp(r.dir, ".ready-*")
	if err != nil {
		return fmt.Errorf("simulations directory not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// Close stops the monitor, halts running processes and waits for background
// goroutines. The context bounds how long to wait.
func (r *Registry) Close(ctx context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}
	r.logger.Info("Registry shutting down")

	// Halt running processes before cancelling the lifetime context so
	// they get their grace period.
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range r.store.snapshot() {
		g.Go(func() error {
			j.halt(gctx)
			return nil
		})
	}
	_ = g.Wait()

	r.cancelMonitor()
	if err := r.env.wait(ctx); err != nil {
		r.logger.Warn("Registry shutdown timed out", "error", err)
		return err
	}
	r.logger.Info("Registry shutdown complete")
	return nil
}

func (r *Registry) lookup(id string) (*Job, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	j, ok := r.store.get(id)
	if !ok {
		return nil, apperrors.NotFound("simulation", id)
	}
	return j, nil
}

// env is the registry-wide context shared by every job.
type env struct {
	ctx        context.Context // cancelled on Close
	launcher   Launcher
	converter  Converter
	grace      time.Duration
	allowRerun bool
	dispatcher dispatcher.Dispatcher
	metrics    MetricsRecorder

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// lifetime is the context for work that must not be tied to a request.
func (e *env) lifetime() context.Context {
	return e.ctx
}

// goTracked runs fn in a goroutine that wait will wait for. Returns false
// once wait has begun.
func (e *env) goTracked(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

func (e *env) wait(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// escalate kills proc if it is still alive after the grace period.
func (e *env) escalate(logger *slog.Logger, proc launcher.Process) {
	if e.grace <= 0 {
		return
	}
	kill := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := proc.Kill(ctx); err != nil && !errors.Is(err, launcher.ErrNotRunning) {
			logger.Warn("Failed to kill simulation", "error", err)
			return
		}
		logger.Warn("Simulation killed after grace period")
	}
	started := e.goTracked(func() {
		timer := time.NewTimer(e.grace)
		defer timer.Stop()
		select {
		case <-proc.Done():
			return
		case <-timer.C:
		case <-e.ctx.Done():
		}
		kill()
	})
	if !started {
		kill()
	}
}

func (e *env) publish(eventType string, info Info, cb *Callback) {
	if e.dispatcher == nil || cb == nil || !FilteredEvents(eventType, cb.Events) {
		return
	}
	err := e.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     buildEvent(eventType, info),
		Destination: cb.URL,
		SigningKey:  cb.Key,
	})
	if err != nil {
		slog.Warn("Failed to dispatch lifecycle event", "jobId", info.ID, "type", eventType, "error", err)
	}
}

func (e *env) recordCreated(ctx context.Context) {
	if e.metrics != nil {
		e.metrics.RecordSimulationCreated(ctx)
	}
}

func (e *env) recordStarted(ctx context.Context) {
	if e.metrics != nil {
		e.metrics.RecordSimulationStarted(ctx)
	}
}

func (e *env) recordFinished(ctx context.Context, s Status, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordSimulationFinished(ctx, s.String(), d.Seconds())
	}
}

func (e *env) recordOutput(ctx context.Context, success bool, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordOutputPrepared(ctx, success, d.Seconds())
	}
}
