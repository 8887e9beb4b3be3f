package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/slok/agentbox/internal/collector"
	"github.com/slok/agentbox/internal/conventions"
	"github.com/slok/agentbox/internal/credential/tlsca"
	"github.com/slok/agentbox/internal/dbclone/localfile"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/orchestrator"
	"github.com/slok/agentbox/internal/provision"
	"github.com/slok/agentbox/internal/repofetch/gitcli"
	"github.com/slok/agentbox/internal/runner"
	"github.com/slok/agentbox/internal/runner/claude"
	"github.com/slok/agentbox/internal/runner/codex"
	"github.com/slok/agentbox/internal/runner/gemini"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/sandbox/docker"
	"github.com/slok/agentbox/internal/sandbox/fake"
	"github.com/slok/agentbox/internal/storage/sqlite"
)

// Config configures the SDK client.
//
// All fields are optional and have sensible defaults. At minimum, an empty
// Config{} will use ~/.agentbox for data and the Docker engine.
type Config struct {
	// DataDir is the base directory for agentbox data (task database, output
	// logs, sandbox resources).
	// Default: ~/.agentbox.
	DataDir string

	// DBPath is the SQLite task database path.
	// Default: <DataDir>/agentbox.db.
	DBPath string

	// Engine selects the sandbox isolation engine.
	// Default: [EngineDocker]. Set [EngineFake] for testing without real
	// infrastructure.
	Engine EngineType

	// SandboxImage is the container image used for task sandboxes.
	// Default: "ubuntu:24.04". Only used with [EngineDocker].
	SandboxImage string

	// MaxConcurrent bounds how many tasks provision or run at once.
	// Default: 4.
	MaxConcurrent int

	// DefaultIdleWindow ends a task as timed out when its agent produces no
	// output for this long, unless the task spec overrides it.
	// Default: 5 minutes.
	DefaultIdleWindow time.Duration

	// DefaultMaxDuration is the wall-clock limit for tasks that do not set
	// one. Default: 30 minutes.
	DefaultMaxDuration time.Duration

	// PublishOnSuccess pushes the agent's working branch upstream after a
	// successful run. Default: off.
	PublishOnSuccess bool

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the internal log package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, conventions.DefaultDataDir)
	}
	if c.DBPath == "" {
		c.DBPath = conventions.DBPath(c.DataDir)
	}
	if c.Engine == "" {
		c.Engine = EngineDocker
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// Client is the main SDK entry point for running agentbox tasks
// programmatically.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	orch   *orchestrator.Orchestrator
	engine sandbox.Engine
	repo   *sqlite.Repository
	logger log.Logger
}

// New creates a new SDK client with a full orchestrator stack: SQLite task
// storage, the selected sandbox engine, the TLS credential issuer, the
// database cloner, the git fetcher and the three agent runners.
//
// The caller must call [Client.Close] when done. Close waits for in-flight
// tasks before releasing the database connection.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: cfg.DBPath,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	engine, err := newEngine(cfg.Engine, cfg.Logger)
	if err != nil {
		repo.Close()
		return nil, err
	}

	orch, err := newOrchestrator(cfg, engine, repo)
	if err != nil {
		repo.Close()
		return nil, err
	}

	return &Client{
		orch:   orch,
		engine: engine,
		repo:   repo,
		logger: cfg.Logger,
	}, nil
}

func newEngine(engineType EngineType, logger log.Logger) (sandbox.Engine, error) {
	switch engineType {
	case EngineDocker:
		engine, err := docker.NewEngine(docker.EngineConfig{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not create docker engine: %w", err)
		}
		return engine, nil
	case EngineFake:
		engine, err := fake.NewEngine(fake.EngineConfig{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not create fake engine: %w", err)
		}
		return engine, nil
	}
	return nil, fmt.Errorf("unsupported engine type %q: %w", engineType, ErrNotValid)
}

func newOrchestrator(cfg Config, engine sandbox.Engine, repo *sqlite.Repository) (*orchestrator.Orchestrator, error) {
	issuer, err := tlsca.NewIssuer(tlsca.IssuerConfig{
		DataDir: cfg.DataDir,
		MaxTTL:  cfg.DefaultMaxDuration,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create credential issuer: %w", err)
	}

	cloner, err := localfile.NewCloner(localfile.ClonerConfig{DataDir: cfg.DataDir, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create cloner: %w", err)
	}

	fetcher, err := gitcli.NewFetcher(gitcli.FetcherConfig{DataDir: cfg.DataDir, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create fetcher: %w", err)
	}

	provisioner, err := provision.NewProvisioner(provision.ProvisionerConfig{
		Credentials: issuer,
		Cloner:      cloner,
		Fetcher:     fetcher,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create provisioner: %w", err)
	}

	coll, err := collector.NewCollector(collector.CollectorConfig{DataDir: cfg.DataDir, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create collector: %w", err)
	}

	claudeRunner, err := claude.NewRunner(claude.RunnerConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create claude runner: %w", err)
	}
	geminiRunner, err := gemini.NewRunner(gemini.RunnerConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create gemini runner: %w", err)
	}
	codexRunner, err := codex.NewRunner(codex.RunnerConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create codex runner: %w", err)
	}

	return orchestrator.NewOrchestrator(orchestrator.Config{
		Provisioner: provisioner,
		Engine:      engine,
		Runners: runner.Registry{
			claudeRunner.Backend(): claudeRunner,
			geminiRunner.Backend(): geminiRunner,
			codexRunner.Backend():  codexRunner,
		},
		Collector:          coll,
		Repository:         repo,
		Publisher:          fetcher,
		Logger:             cfg.Logger,
		MaxConcurrent:      cfg.MaxConcurrent,
		DefaultIdleWindow:  cfg.DefaultIdleWindow,
		DefaultMaxDuration: cfg.DefaultMaxDuration,
		SandboxImage:       cfg.SandboxImage,
		PublishOnSuccess:   cfg.PublishOnSuccess,
	})
}

// Close waits for in-flight tasks to finish and releases the database
// connection. After Close returns, the client must not be used.
func (c *Client) Close() error {
	if err := c.orch.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("could not shut down orchestrator: %w", err)
	}
	return c.repo.Close()
}

// SubmitTask validates the task and enqueues it, returning the task ID.
// No sandbox resource is touched before validation passes.
func (c *Client) SubmitTask(ctx context.Context, spec TaskSpec) (string, error) {
	taskID, err := c.orch.Submit(ctx, spec.toDescriptor())
	if err != nil {
		return "", mapError(err)
	}
	return taskID, nil
}

// GetTask returns a snapshot of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	internal, err := c.orch.Status(ctx, taskID)
	if err != nil {
		return nil, mapError(err)
	}
	task := fromInternalTask(*internal)
	return &task, nil
}

// ListTasks returns all tasks ordered by creation time.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	internal, err := c.orch.List(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	tasks := make([]Task, 0, len(internal))
	for _, t := range internal {
		tasks = append(tasks, fromInternalTask(t))
	}
	return tasks, nil
}

// CancelTask requests cooperative cancellation of a task. Cancelling an
// already terminal task is an idempotent no-op.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return mapError(c.orch.Cancel(ctx, taskID))
}

// WaitTask blocks until the task reaches a terminal state and returns it.
func (c *Client) WaitTask(ctx context.Context, taskID string) (*Task, error) {
	internal, err := c.orch.Wait(ctx, taskID)
	if err != nil {
		return nil, mapError(err)
	}
	task := fromInternalTask(*internal)
	return &task, nil
}

// StreamOutput returns the task's output, replayed from the start and then
// followed live. The channel closes when the task's stream is finite and
// drained, or when ctx ends.
func (c *Client) StreamOutput(ctx context.Context, taskID string) (<-chan OutputChunk, error) {
	internal, err := c.orch.Stream(ctx, taskID)
	if err != nil {
		return nil, mapError(err)
	}

	out := make(chan OutputChunk)
	go func() {
		defer close(out)
		for chunk := range internal {
			out <- OutputChunk{Seq: chunk.Seq, Data: chunk.Data, At: chunk.At}
		}
	}()
	return out, nil
}

// Doctor runs the engine's preflight checks.
func (c *Client) Doctor(ctx context.Context) ([]CheckResult, error) {
	return fromInternalCheckResults(c.engine.Check(ctx)), nil
}
