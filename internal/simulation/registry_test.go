package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"simcontroller/internal/apperrors"
	"simcontroller/internal/testutil"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestRegistry_CreateAssignsUniqueIDs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	seen := make(map[string]bool)
	for range 5 {
		id, err := h.reg.Create(ctx, DefaultParameters(), nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		mustState(t, h.reg, id, StatusCreated)

		if fi, err := os.Stat(filepath.Join(h.dir, id, InputDir)); err != nil || !fi.IsDir() {
			t.Errorf("input directory for %s not prepared: %v", id, err)
		}
	}
	if got := h.launcher.started(); got != 0 {
		t.Errorf("Create must not start a process, started %d", got)
	}
}

func TestRegistry_CreateRejectsInvalidParameters(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	params := DefaultParameters()
	params.Phi = 1

	_, err := h.reg.Create(context.Background(), params, nil)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := h.preparer.calls.Load(); got != 0 {
		t.Errorf("preparer called %d times for invalid parameters", got)
	}
	if n := len(h.reg.List(context.Background())); n != 0 {
		t.Errorf("List() has %d entries after rejected create", n)
	}
}

func TestRegistry_CreatePreparationFailureLeavesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) {
		c.Preparer = &fakePreparer{err: errors.New("template missing")}
	})

	_, err := h.reg.Create(context.Background(), DefaultParameters(), nil)
	if !errors.Is(err, apperrors.ErrPreparation) {
		t.Fatalf("expected preparation error, got %v", err)
	}

	if n := len(h.reg.List(context.Background())); n != 0 {
		t.Errorf("List() has %d entries after failed preparation", n)
	}
	entries, _ := os.ReadDir(h.dir)
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("working directory %s left behind", e.Name())
		}
	}
}

func TestRegistry_CreateDuplicateID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) {
		c.NewID = func() string { return "fixed" }
	})
	ctx := context.Background()

	if _, err := h.reg.Create(ctx, DefaultParameters(), nil); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := h.reg.Create(ctx, DefaultParameters(), nil)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict for reused id, got %v", err)
	}
	mustState(t, h.reg, "fixed", StatusCreated)
}

func TestRegistry_UnknownID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	ops := map[string]func() error{
		"Run":    func() error { return h.reg.Run(ctx, "missing") },
		"Stop":   func() error { return h.reg.Stop(ctx, "missing") },
		"Delete": func() error { return h.reg.Delete(ctx, "missing") },
		"State":  func() error { _, err := h.reg.State(ctx, "missing"); return err },
		"Output": func() error { _, err := h.reg.Output(ctx, "missing"); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("%s on unknown id: got %v, want not found", name, err)
		}
	}
}

func TestRegistry_RunTwiceConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	id, _ := h.createRunning(t)

	err := h.reg.Run(context.Background(), id)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := h.launcher.started(); got != 1 {
		t.Errorf("started %d processes, want 1", got)
	}
	mustState(t, h.reg, id, StatusRunning)
}

func TestRegistry_RunPassesWorkingDirectory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	id, _ := h.createRunning(t)

	h.launcher.mu.Lock()
	spec := h.launcher.specs[0]
	h.launcher.mu.Unlock()

	if spec.ID != id || spec.Dir != filepath.Join(h.dir, id) {
		t.Errorf("unexpected spec: %+v", spec)
	}
	if spec.LogPath != filepath.Join(h.dir, id, OutputDir, LogFile) {
		t.Errorf("LogPath = %s", spec.LogPath)
	}
	if _, err := os.Stat(filepath.Join(h.dir, id, OutputDir)); err != nil {
		t.Errorf("output directory not created: %v", err)
	}
}

func TestRegistry_LaunchFailureKeepsState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.launcher.err = errors.New("exec format error")
	ctx := context.Background()

	id, err := h.reg.Create(ctx, DefaultParameters(), nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := h.reg.Run(ctx, id); !errors.Is(err, apperrors.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	mustState(t, h.reg, id, StatusCreated)
}

func TestRegistry_SuccessfulRunPreparesOutputOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	id, proc := h.createRunning(t)

	if _, err := h.reg.Output(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("Output while running: got %v, want conflict", err)
	}

	proc.finish(0)
	mustState(t, h.reg, id, StatusCompleted)

	first, err := h.reg.Output(ctx, id)
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	second, err := h.reg.Output(ctx, id)
	if err != nil {
		t.Fatalf("second Output failed: %v", err)
	}
	if first != second {
		t.Error("Output should return the cached result")
	}
	if first.ID != id || len(first.Channels["temperature"]) != 3 {
		t.Errorf("unexpected result: %+v", first)
	}
	if got := h.converter.calls.Load(); got != 1 {
		t.Errorf("converter called %d times, want 1", got)
	}

	data, err := os.ReadFile(filepath.Join(h.dir, id, ResultFile))
	if err != nil {
		t.Fatalf("result file not written: %v", err)
	}
	var persisted Result
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("result file is not JSON: %v", err)
	}
	if persisted.ID != id || !slices.Equal(persisted.Channels["elapsed_time"], []float64{0, 0.5, 1}) {
		t.Errorf("unexpected persisted result: %+v", persisted)
	}

	info, _ := h.reg.Get(ctx, id)
	if info.OutputState != OutputReady || info.ExitCode == nil || *info.ExitCode != 0 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestRegistry_NonZeroExitFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	id, proc := h.createRunning(t)

	proc.finish(2)
	mustState(t, h.reg, id, StatusFailed)

	if _, err := h.reg.Output(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Output after failure: got %v, want conflict", err)
	}
	if got := h.converter.calls.Load(); got != 0 {
		t.Errorf("converter called %d times after failed run", got)
	}
	info, _ := h.reg.Get(ctx, id)
	if info.ExitCode == nil || *info.ExitCode != 2 || info.Error == "" {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestRegistry_ConversionFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) {
		c.Converter = &fakeConverter{err: os.ErrNotExist}
	})
	ctx := context.Background()
	id, proc := h.createRunning(t)

	proc.finish(0)
	mustState(t, h.reg, id, StatusCompleted)

	_, err := h.reg.Output(ctx, id)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("Output after conversion failure: got %v, want conflict", err)
	}
	info, _ := h.reg.Get(ctx, id)
	if info.OutputState != OutputFailed || info.Error == "" {
		t.Errorf("unexpected info: %+v", info)
	}

	// Failure is terminal for the run: no second attempt.
	_, _ = h.reg.Output(ctx, id)
	if got := h.converter.calls.Load(); got != 1 {
		t.Errorf("converter called %d times, want 1", got)
	}
}

func TestRegistry_ExactlyOneConversionUnderConcurrency(t *testing.T) {
	t.Parallel()
	conv := &fakeConverter{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	h := newHarness(t, func(c *Config) { c.Converter = conv })
	ctx := context.Background()
	id, proc := h.createRunning(t)

	proc.finish(0)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = h.reg.State(ctx, id)
			} else {
				h.reg.sweep(ctx)
			}
		}()
	}

	select {
	case <-conv.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("conversion never started")
	}

	// While converting the job still reads as running and cannot be deleted.
	mustState(t, h.reg, id, StatusRunning)
	if err := h.reg.Delete(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Delete during conversion: got %v, want conflict", err)
	}
	if err := h.reg.Stop(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Stop during conversion: got %v, want conflict", err)
	}
	info, _ := h.reg.Get(ctx, id)
	if info.OutputState != OutputComputing {
		t.Errorf("OutputState = %s, want COMPUTING", info.OutputState)
	}

	close(conv.release)
	wg.Wait()

	testutil.MustWaitFor(t, func() bool {
		s, _ := h.reg.State(ctx, id)
		return s == StatusCompleted
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(5*time.Millisecond))

	if got := conv.calls.Load(); got != 1 {
		t.Errorf("converter called %d times, want exactly 1", got)
	}
}

func TestRegistry_StopRunning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	id, proc := h.createRunning(t)

	if err := h.reg.Stop(ctx, id); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := proc.terminations.Load(); got != 1 {
		t.Errorf("terminations = %d, want 1", got)
	}
	mustState(t, h.reg, id, StatusStopped)

	if err := h.reg.Stop(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("second Stop: got %v, want conflict", err)
	}
	if got := h.converter.calls.Load(); got != 0 {
		t.Errorf("stopped run must not be converted, calls = %d", got)
	}
}

func TestRegistry_StopWithoutProcessConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	id, _ := h.reg.Create(ctx, DefaultParameters(), nil)
	if err := h.reg.Stop(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Stop on created job: got %v, want conflict", err)
	}
}

func TestRegistry_StopAfterExitObservesExit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	id, proc := h.createRunning(t)

	proc.finish(0)
	if err := h.reg.Stop(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("Stop after exit: got %v, want conflict", err)
	}
	mustState(t, h.reg, id, StatusCompleted)
}

func TestRegistry_StopRacingNaturalExitKeepsRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.launcher.exitOnTerm = true
	ctx := context.Background()
	id, _ := h.createRunning(t)

	if err := h.reg.Stop(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("Stop racing exit: got %v, want conflict", err)
	}
	mustState(t, h.reg, id, StatusCompleted)
	if got := h.converter.calls.Load(); got != 1 {
		t.Errorf("converter called %d times, want 1", got)
	}
	if _, err := h.reg.Output(ctx, id); err != nil {
		t.Errorf("Output after racing stop: %v", err)
	}
}

func TestRegistry_LaunchDoesNotBlockOtherOperations(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.launcher.entered = make(chan struct{}, 1)
	h.launcher.release = make(chan struct{})
	ctx := context.Background()

	id, err := h.reg.Create(ctx, DefaultParameters(), nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	other, err := h.reg.Create(ctx, DefaultParameters(), nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- h.reg.Run(ctx, id) }()

	select {
	case <-h.launcher.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("launch never started")
	}

	var otherState Status
	var otherErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.reg.List(ctx)
		h.reg.sweep(ctx)
		otherState, otherErr = h.reg.State(ctx, other)
	}()
	testutil.MustWaitForClosed(t, done, testutil.WithTimeout(2*time.Second))
	if otherErr != nil || otherState != StatusCreated {
		t.Errorf("State(other) = %s, %v; want CREATED", otherState, otherErr)
	}

	if err := h.reg.Run(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Run while starting: got %v, want conflict", err)
	}
	if err := h.reg.Stop(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Stop while starting: got %v, want conflict", err)
	}
	if err := h.reg.Delete(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Delete while starting: got %v, want conflict", err)
	}

	close(h.launcher.release)
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the launch was released")
	}
	mustState(t, h.reg, id, StatusRunning)
}

func TestRegistry_StopEscalatesToKill(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.StopGracePeriod = 20 * time.Millisecond })
	h.launcher.ignoreTerm = true
	id, proc := h.createRunning(t)

	if err := h.reg.Stop(context.Background(), id); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	mustState(t, h.reg, id, StatusStopped)

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process was not killed after the grace period")
	}
	if got := proc.kills.Load(); got != 1 {
		t.Errorf("kills = %d, want 1", got)
	}
}

func TestRegistry_RerunPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("after stop", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		id, _ := h.createRunning(t)
		_ = h.reg.Stop(ctx, id)

		if err := h.reg.Run(ctx, id); err != nil {
			t.Fatalf("Run after stop failed: %v", err)
		}
		mustState(t, h.reg, id, StatusRunning)
	})

	t.Run("after failure", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		id, proc := h.createRunning(t)
		proc.finish(1)

		if err := h.reg.Run(ctx, id); err != nil {
			t.Fatalf("Run after failure failed: %v", err)
		}
		info, _ := h.reg.Get(ctx, id)
		if info.State != StatusRunning || info.ExitCode != nil || info.Error != "" {
			t.Errorf("re-run should reset the previous outcome: %+v", info)
		}
	})

	t.Run("after completion rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		id, proc := h.createRunning(t)
		proc.finish(0)

		if err := h.reg.Run(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
			t.Fatalf("Run after completion: got %v, want conflict", err)
		}
		if _, err := h.reg.Output(ctx, id); err != nil {
			t.Errorf("rejected re-run must keep the result: %v", err)
		}
	})

	t.Run("after completion allowed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, func(c *Config) { c.AllowRerunCompleted = true })
		id, proc := h.createRunning(t)
		proc.finish(0)
		mustState(t, h.reg, id, StatusCompleted)

		if err := h.reg.Run(ctx, id); err != nil {
			t.Fatalf("Run after completion failed: %v", err)
		}
		if _, err := h.reg.Output(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
			t.Errorf("Output of a new run: got %v, want conflict", err)
		}
		if _, err := os.Stat(filepath.Join(h.dir, id, ResultFile)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("stale result file should be removed, stat err = %v", err)
		}

		h.launcher.last().finish(0)
		mustState(t, h.reg, id, StatusCompleted)
		if got := h.converter.calls.Load(); got != 2 {
			t.Errorf("converter calls = %d, want one per run", got)
		}
	})
}

func TestRegistry_Delete(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	id, _ := h.reg.Create(ctx, DefaultParameters(), nil)
	if err := h.reg.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.dir, id)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("working directory still exists: %v", err)
	}
	if _, err := h.reg.State(ctx, id); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("State after delete: got %v, want not found", err)
	}
	if err := h.reg.Delete(ctx, id); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("second Delete: got %v, want not found", err)
	}
}

func TestRegistry_DeleteRunningConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	id, proc := h.createRunning(t)

	if err := h.reg.Delete(ctx, id); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("Delete while running: got %v, want conflict", err)
	}
	if _, err := os.Stat(filepath.Join(h.dir, id)); err != nil {
		t.Errorf("working directory removed for running job: %v", err)
	}

	proc.finish(0)
	if err := h.reg.Delete(ctx, id); err != nil {
		t.Fatalf("Delete after exit failed: %v", err)
	}
	if got := h.converter.calls.Load(); got != 1 {
		t.Errorf("exit observed by Delete should still be converted, calls = %d", got)
	}
}

func TestRegistry_ListInCreationOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	var ids []string
	for i := range 3 {
		p := DefaultParameters()
		p.LaserPower = float64(100 + i)
		id, err := h.reg.Create(ctx, p, nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, id)
	}
	_ = h.reg.Delete(ctx, ids[1])

	list := h.reg.List(ctx)
	if len(list) != 2 || list[0].ID != ids[0] || list[1].ID != ids[2] {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[1].Parameters.LaserPower != 102 || list[1].State != StatusCreated {
		t.Errorf("unexpected summary: %+v", list[1])
	}
}

func TestRegistry_MonitorAdvancesWithoutPolling(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.MonitorInterval = 10 * time.Millisecond })
	ctx := context.Background()
	id, proc := h.createRunning(t)

	proc.finish(0)

	// List does not reconcile, so only the monitor can move the job on.
	testutil.MustWaitFor(t, func() bool {
		list := h.reg.List(ctx)
		return len(list) == 1 && list[0].State == StatusCompleted
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(5*time.Millisecond))

	if got := h.converter.calls.Load(); got != 1 {
		t.Errorf("converter calls = %d, want 1", got)
	}
	if _, err := h.reg.Output(ctx, id); err != nil {
		t.Errorf("Output failed: %v", err)
	}
}

func TestRegistry_CallbacksAndMetrics(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := &fakeMetrics{}
	h := newHarness(t, func(c *Config) {
		c.Dispatcher = d
		c.Metrics = m
	})
	ctx := context.Background()

	all := &Callback{URL: "http://hooks.local/sim"}
	id, err := h.reg.Create(ctx, DefaultParameters(), all)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_ = h.reg.Run(ctx, id)
	h.launcher.last().finish(0)
	mustState(t, h.reg, id, StatusCompleted)

	want := []string{EventTypeCreated, EventTypeRunning, EventTypeCompleted, EventTypeOutputReady}
	if got := d.types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	filtered := &Callback{URL: "http://hooks.local/sim", Events: []string{EventTypeStopped}}
	id2, _ := h.reg.Create(ctx, DefaultParameters(), filtered)
	_ = h.reg.Run(ctx, id2)
	_ = h.reg.Stop(ctx, id2)
	if got := d.types(); len(got) != len(want)+1 || got[len(got)-1] != EventTypeStopped {
		t.Errorf("filtered events = %v", got)
	}

	if m.created.Load() != 2 || m.started.Load() != 2 {
		t.Errorf("created=%d started=%d, want 2 and 2", m.created.Load(), m.started.Load())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Equal(m.finished, []string{"COMPLETED", "STOPPED"}) || !slices.Equal(m.outputs, []bool{true}) {
		t.Errorf("finished=%v outputs=%v", m.finished, m.outputs)
	}
}

func TestRegistry_CreateRejectsInvalidCallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	_, err := h.reg.Create(context.Background(), DefaultParameters(), &Callback{URL: "ftp://example.com"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRegistry_CloseHaltsRunningProcesses(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.StopGracePeriod = 20 * time.Millisecond })
	h.launcher.ignoreTerm = true
	_, proc := h.createRunning(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.reg.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-proc.Done():
	default:
		t.Fatal("Close returned with the process still alive")
	}
	if proc.terminations.Load() != 1 || proc.kills.Load() != 1 {
		t.Errorf("terminations=%d kills=%d, want 1 and 1", proc.terminations.Load(), proc.kills.Load())
	}

	if _, err := h.reg.Create(ctx, DefaultParameters(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Create after Close: got %v, want ErrClosed", err)
	}
	if err := h.reg.Close(ctx); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestRegistry_Ready(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	if err := h.reg.Ready(context.Background()); err != nil {
		t.Errorf("Ready failed: %v", err)
	}
}

func TestNewRegistry_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := NewRegistry(Config{Dir: t.TempDir()}); err == nil {
		t.Error("expected error without collaborators")
	}
	if _, err := NewRegistry(Config{Preparer: &fakePreparer{}, Converter: &fakeConverter{}, Launcher: &fakeLauncher{}}); err == nil {
		t.Error("expected error without directory")
	}
}
