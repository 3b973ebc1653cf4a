package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// ExecConfig holds configuration for the child-process runtime.
type ExecConfig struct {
	Binary string   // executable name or path, resolved through PATH
	Args   []string // extra arguments appended to every launch
}

// Exec runs the simulation executable as a child process of the service.
type Exec struct {
	binary string
	args   []string
}

// NewExec creates a child-process launcher.
func NewExec(cfg ExecConfig) (*Exec, error) {
	if cfg.Binary == "" {
		return nil, errors.New("launcher: binary is required")
	}
	return &Exec{binary: cfg.Binary, args: cfg.Args}, nil
}

// Start launches the executable in spec.Dir with output appended to spec.LogPath.
// The process is not bound to ctx: it outlives the request that started it.
func (e *Exec) Start(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	cmd := exec.Command(e.binary, e.args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start %s: %w", e.binary, err)
	}

	p := &execProcess{
		exitLatch: newExitLatch(),
		cmd:       cmd,
	}
	slog.Debug("Process started", "jobId", spec.ID, "pid", cmd.Process.Pid, "binary", e.binary)

	go p.wait(logFile)
	return p, nil
}

// Ready reports whether the executable can be found.
func (e *Exec) Ready(ctx context.Context) error {
	_, err := exec.LookPath(e.binary)
	return err
}

type execProcess struct {
	*exitLatch
	cmd *exec.Cmd
}

func (p *execProcess) wait(logFile *os.File) {
	err := p.cmd.Wait()
	_ = logFile.Close()

	exit := Exit{Code: p.cmd.ProcessState.ExitCode()}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}
	p.set(exit)
}

func (p *execProcess) Terminate(ctx context.Context) error {
	return p.signal(syscall.SIGTERM)
}

func (p *execProcess) Kill(ctx context.Context) error {
	return p.signal(syscall.SIGKILL)
}

func (p *execProcess) signal(sig os.Signal) error {
	if _, exited := p.Poll(); exited {
		return ErrNotRunning
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrNotRunning
		}
		return err
	}
	return nil
}
