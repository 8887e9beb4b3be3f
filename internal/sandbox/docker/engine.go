package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerKill(ctx context.Context, containerID string, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// EngineConfig is the configuration for the Docker engine.
type EngineConfig struct {
	Client DockerClient
	Logger log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Docker"})
	return nil
}

// Engine is the Docker implementation of the sandbox.Engine interface. Each
// sandbox instance is one container kept alive until removed.
type Engine struct {
	client DockerClient
	logger log.Logger
}

// NewEngine creates a new Docker engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		client: cfg.Client,
		logger: cfg.Logger,
	}, nil
}

// Check performs preflight checks against the Docker daemon.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	_, err := e.client.Ping(ctx)
	if err != nil {
		return []model.CheckResult{{
			ID:      "docker_available",
			Message: fmt.Sprintf("Docker daemon not reachable: %v", err),
			Status:  model.CheckStatusError,
		}}
	}

	return []model.CheckResult{{
		ID:      "docker_available",
		Message: "Docker daemon reachable",
		Status:  model.CheckStatusOK,
	}}
}

// Create pulls the image, creates the container with the sandbox mounts and
// starts it.
func (e *Engine) Create(ctx context.Context, spec sandbox.Spec) (string, error) {
	if spec.SandboxID == "" {
		return "", fmt.Errorf("sandbox ID is required: %w", model.ErrNotValid)
	}
	if spec.Image == "" {
		return "", fmt.Errorf("image is required: %w", model.ErrNotValid)
	}

	containerName := fmt.Sprintf("agentbox-%s", strings.ToLower(spec.SandboxID))

	e.logger.Debugf("pulling image %s", spec.Image)
	pullResp, err := e.client.ImagePull(ctx, spec.Image, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("could not pull image %s: %w", spec.Image, err)
	}
	// Consume the pull response to ensure it completes.
	_, _ = io.Copy(io.Discard, pullResp)
	pullResp.Close()

	var envVars []string
	for k, v := range spec.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	var binds []string
	for host, dst := range spec.Mounts {
		binds = append(binds, fmt.Sprintf("%s:%s", host, dst))
	}

	containerConfig := &container.Config{
		Image: spec.Image,
		Env:   envVars,
		Cmd:   []string{"tail", "-f", "/dev/null"}, // Keep container running.
	}
	hostConfig := &container.HostConfig{
		Binds: binds,
	}

	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("could not create container: %w", err)
	}

	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = e.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("could not start container: %w", err)
	}

	e.logger.Infof("created container %s for sandbox %s", containerName, spec.SandboxID)

	return resp.ID, nil
}

// ExecStream starts a streaming exec inside the container.
func (e *Engine) ExecStream(ctx context.Context, runtimeID string, spec sandbox.ExecSpec) (sandbox.Session, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("command cannot be empty: %w", model.ErrNotValid)
	}

	var envVars []string
	for k, v := range spec.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	execResp, err := e.client.ContainerExecCreate(ctx, runtimeID, container.ExecOptions{
		Cmd:          spec.Command,
		WorkingDir:   spec.WorkingDir,
		Env:          envVars,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true, // TTY merges stdout/stderr into a single stream.
	})
	if err != nil {
		return nil, fmt.Errorf("could not create exec: %w", err)
	}

	attachResp, err := e.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("could not attach exec: %w", err)
	}

	return &execSession{
		client:    e.client,
		runtimeID: runtimeID,
		execID:    execResp.ID,
		hijacked:  attachResp,
		pollEvery: 500 * time.Millisecond,
	}, nil
}

// Remove force-removes the container. Idempotent.
func (e *Engine) Remove(ctx context.Context, runtimeID string) error {
	err := e.client.ContainerRemove(ctx, runtimeID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("could not remove container: %w", err)
	}
	return nil
}

// execSession adapts a hijacked Docker exec connection to sandbox.Session.
type execSession struct {
	client    DockerClient
	runtimeID string
	execID    string
	hijacked  types.HijackedResponse
	pollEvery time.Duration
}

func (s *execSession) Stdin() io.WriteCloser { return &hijackedWriter{conn: s.hijacked} }

func (s *execSession) Stdout() io.Reader { return s.hijacked.Reader }

// Wait polls the exec until it finishes and returns the exit code.
func (s *execSession) Wait(ctx context.Context) (int, error) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		inspect, err := s.client.ContainerExecInspect(ctx, s.execID)
		if err != nil {
			return 0, fmt.Errorf("could not inspect exec: %w", err)
		}
		if !inspect.Running {
			s.hijacked.Close()
			return inspect.ExitCode, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Signal kills the container. Docker cannot signal a single exec, and a
// sandbox hosts at most one agent run, so killing the container is the
// faithful best-effort termination.
func (s *execSession) Signal(ctx context.Context) error {
	s.hijacked.Close()
	if err := s.client.ContainerKill(ctx, s.runtimeID, "SIGKILL"); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("could not kill container: %w", err)
	}
	return nil
}

// hijackedWriter exposes the hijacked connection's write side as a WriteCloser.
type hijackedWriter struct {
	conn types.HijackedResponse
}

func (w *hijackedWriter) Write(p []byte) (int, error) { return w.conn.Conn.Write(p) }

func (w *hijackedWriter) Close() error { return w.conn.CloseWrite() }
