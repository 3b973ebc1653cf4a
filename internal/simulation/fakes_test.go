package simulation

import (
	"context"
	"errors"
	"os"
	"simcontroller/internal/dispatcher"
	"simcontroller/internal/launcher"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProcess is a launcher.Process whose exit is driven by the test.
type fakeProcess struct {
	done       chan struct{}
	once       sync.Once
	exit       launcher.Exit
	ignoreTerm bool
	exitOnTerm bool // exits 0 just before the termination signal lands

	terminations atomic.Int64
	kills        atomic.Int64
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) finish(code int) {
	p.once.Do(func() {
		p.exit = launcher.Exit{Code: code}
		close(p.done)
	})
}

func (p *fakeProcess) Poll() (launcher.Exit, bool) {
	select {
	case <-p.done:
		return p.exit, true
	default:
		return launcher.Exit{}, false
	}
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Terminate(ctx context.Context) error {
	p.terminations.Add(1)
	if p.exitOnTerm {
		p.finish(0)
	}
	if _, exited := p.Poll(); exited {
		return launcher.ErrNotRunning
	}
	if !p.ignoreTerm {
		p.finish(-1)
	}
	return nil
}

func (p *fakeProcess) Kill(ctx context.Context) error {
	p.kills.Add(1)
	if _, exited := p.Poll(); exited {
		return launcher.ErrNotRunning
	}
	p.finish(-1)
	return nil
}

// fakeLauncher hands out fakeProcesses and remembers them in start order.
type fakeLauncher struct {
	mu         sync.Mutex
	procs      []*fakeProcess
	specs      []launcher.Spec
	err        error
	ignoreTerm bool
	exitOnTerm bool

	entered chan struct{} // receives once per Start when non-nil
	release chan struct{} // blocks each Start until closed when non-nil
}

func (l *fakeLauncher) Start(ctx context.Context, spec launcher.Spec) (launcher.Process, error) {
	if l.entered != nil {
		l.entered <- struct{}{}
	}
	if l.release != nil {
		<-l.release
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProcess()
	p.ignoreTerm = l.ignoreTerm
	p.exitOnTerm = l.exitOnTerm
	l.procs = append(l.procs, p)
	l.specs = append(l.specs, spec)
	return p, nil
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}

func (l *fakeLauncher) started() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

// fakePreparer records the directories it prepared.
type fakePreparer struct {
	err   error
	calls atomic.Int64
}

func (p *fakePreparer) Prepare(ctx context.Context, dir string, params Parameters) error {
	p.calls.Add(1)
	if p.err != nil {
		return p.err
	}
	return os.MkdirAll(dir+"/"+InputDir, 0o755)
}

// fakeConverter counts conversions and can block until released.
type fakeConverter struct {
	calls   atomic.Int64
	entered chan struct{} // receives once per call when non-nil
	release chan struct{} // blocks each call until closed when non-nil
	err     error
}

func (c *fakeConverter) Convert(ctx context.Context, dir string) (map[string][]float64, error) {
	c.calls.Add(1)
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return map[string][]float64{
		"elapsed_time": {0, 0.5, 1},
		"temperature":  {300, 1200, 1800},
	}, nil
}

// fakeDispatcher records dispatched event types.
type fakeDispatcher struct {
	mu     sync.Mutex
	events []*dispatcher.Event
}

func (d *fakeDispatcher) Dispatch(event *dispatcher.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *fakeDispatcher) Stats() dispatcher.Stats { return dispatcher.Stats{} }

func (d *fakeDispatcher) Close(ctx context.Context) error { return nil }

func (d *fakeDispatcher) types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Payload.Type)
	}
	return out
}

// fakeMetrics counts recorded lifecycle metrics.
type fakeMetrics struct {
	created, started atomic.Int64
	mu               sync.Mutex
	finished         []string
	outputs          []bool
}

func (m *fakeMetrics) RecordSimulationCreated(ctx context.Context) { m.created.Add(1) }
func (m *fakeMetrics) RecordSimulationStarted(ctx context.Context) { m.started.Add(1) }

func (m *fakeMetrics) RecordSimulationFinished(ctx context.Context, state string, durationSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, state)
}

func (m *fakeMetrics) RecordOutputPrepared(ctx context.Context, success bool, durationSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, success)
}

type harness struct {
	reg       *Registry
	dir       string
	launcher  *fakeLauncher
	preparer  *fakePreparer
	converter *fakeConverter
}

// newHarness builds a registry over fakes. mutate may adjust the config
// before the registry is created. The registry is closed on cleanup.
func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		dir:       t.TempDir(),
		launcher:  &fakeLauncher{},
		preparer:  &fakePreparer{},
		converter: &fakeConverter{},
	}
	cfg := Config{
		Dir:             h.dir,
		Preparer:        h.preparer,
		Converter:       h.converter,
		MonitorInterval: time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if cfg.Launcher == nil {
		cfg.Launcher = h.launcher
	}
	if fc, ok := cfg.Converter.(*fakeConverter); ok {
		h.converter = fc
	}

	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	h.reg = reg
	t.Cleanup(func() {
		if h.launcher.release != nil {
			select {
			case <-h.launcher.release:
			default:
				close(h.launcher.release)
			}
		}
		if h.converter.release != nil {
			select {
			case <-h.converter.release:
			default:
				close(h.converter.release)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reg.Close(ctx); err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("Close failed: %v", err)
		}
	})
	return h
}

// createRunning creates a job with default parameters and starts it.
func (h *harness) createRunning(t *testing.T) (string, *fakeProcess) {
	t.Helper()
	ctx := context.Background()
	id, err := h.reg.Create(ctx, DefaultParameters(), nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := h.reg.Run(ctx, id); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return id, h.launcher.last()
}

func mustState(t *testing.T, reg *Registry, id string, want Status) {
	t.Helper()
	got, err := reg.State(context.Background(), id)
	if err != nil {
		t.Fatalf("State(%s) failed: %v", id, err)
	}
	if got != want {
		t.Fatalf("State(%s) = %s, want %s", id, got, want)
	}
}
