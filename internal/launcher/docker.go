package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerWorkspace is where the job directory is mounted inside the container.
const ContainerWorkspace = "/workspace"

// DockerConfig holds configuration for the container runtime.
type DockerConfig struct {
	Image string   // simulation image (required)
	Cmd   []string // overrides the image's default command when set
}

// Docker runs the simulation executable in a container on the host daemon.
type Docker struct {
	client *client.Client
	image  string
	cmd    []string

	// ctx outlives requests; watchers stop when Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDocker connects to the Docker daemon from the environment.
func NewDocker(ctx context.Context, cfg DockerConfig) (*Docker, error) {
	if cfg.Image == "" {
		return nil, errors.New("launcher: image is required")
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if _, err := dockerClient.Ping(ctx); err != nil {
		_ = dockerClient.Close()
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &Docker{
		client: dockerClient,
		image:  cfg.Image,
		cmd:    cfg.Cmd,
		ctx:    lifetime,
		cancel: cancel,
	}, nil
}

// Start creates and starts a container for spec with spec.Dir bind-mounted
// as its working directory. Container output is appended to spec.LogPath.
func (d *Docker) Start(ctx context.Context, spec Spec) (Process, error) {
	dir, err := filepath.Abs(spec.Dir)
	if err != nil {
		return nil, err
	}

	if err := d.pullImageIfNeeded(ctx); err != nil {
		return nil, fmt.Errorf("pull image %s: %w", d.image, err)
	}

	containerConfig := &container.Config{
		Image:      d.image,
		Cmd:        d.cmd,
		WorkingDir: ContainerWorkspace,
		Labels: map[string]string{
			"simulation.id": spec.ID,
			"managed-by":    "simulation-service",
		},
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: dir,
				Target: ContainerWorkspace,
			},
		},
	}

	name := fmt.Sprintf("simulation-%s-%d", spec.ID, time.Now().UnixNano())
	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.remove(resp.ID)
		return nil, fmt.Errorf("start container: %w", err)
	}

	p := &containerProcess{
		exitLatch:   newExitLatch(),
		client:      d.client,
		containerID: resp.ID,
	}
	logger := slog.With("jobId", spec.ID, "containerId", resp.ID[:min(12, len(resp.ID))])
	logger.Debug("Container started", "image", d.image)

	go d.watch(logger, p, spec.LogPath)
	return p, nil
}

// Ready pings the Docker daemon.
func (d *Docker) Ready(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

// Close stops all watchers and closes the client.
func (d *Docker) Close() error {
	d.cancel()
	return d.client.Close()
}

// watch copies the container's output into the log file until it exits,
// then publishes the exit and removes the container.
func (d *Docker) watch(logger *slog.Logger, p *containerProcess, logPath string) {
	defer d.remove(p.containerID)

	statusCh, errCh := d.client.ContainerWait(d.ctx, p.containerID, container.WaitConditionNotRunning)

	if err := d.copyLogs(p.containerID, logPath); err != nil {
		logger.Warn("Failed to capture container output", "error", err)
	}

	var exit Exit
	select {
	case <-d.ctx.Done():
		exit = Exit{Code: -1, Err: d.ctx.Err()}
	case err := <-errCh:
		exit = Exit{Code: -1, Err: err}
	case status := <-statusCh:
		exit.Code = int(status.StatusCode)
		if status.Error != nil {
			exit.Err = errors.New(status.Error.Message)
		}
	}
	logger.Debug("Container exited", "exitCode", exit.Code)
	p.set(exit)
}

func (d *Docker) copyLogs(containerID, logPath string) error {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()

	logs, err := d.client.ContainerLogs(d.ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return err
	}
	defer logs.Close()

	_, err = stdcopy.StdCopy(logFile, logFile, logs)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (d *Docker) pullImageIfNeeded(ctx context.Context) error {
	if _, err := d.client.ImageInspect(ctx, d.image); err == nil {
		return nil
	}

	reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *Docker) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

type containerProcess struct {
	*exitLatch
	client      *client.Client
	containerID string
}

func (p *containerProcess) Terminate(ctx context.Context) error {
	return p.signal(ctx, "SIGTERM")
}

func (p *containerProcess) Kill(ctx context.Context) error {
	return p.signal(ctx, "SIGKILL")
}

func (p *containerProcess) signal(ctx context.Context, sig string) error {
	if _, exited := p.Poll(); exited {
		return ErrNotRunning
	}
	if err := p.client.ContainerKill(ctx, p.containerID, sig); err != nil {
		if _, exited := p.Poll(); exited {
			return ErrNotRunning
		}
		return err
	}
	return nil
}
