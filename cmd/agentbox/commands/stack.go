package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/collector"
	"github.com/slok/agentbox/internal/credential/tlsca"
	"github.com/slok/agentbox/internal/dbclone/localfile"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
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
	"github.com/slok/agentbox/internal/storage"
	"github.com/slok/agentbox/internal/storage/sqlite"
)

// StackOptions tune the orchestrator stack built for a command run.
type StackOptions struct {
	Engine           string // "docker" or "fake".
	SandboxImage     string
	MaxConcurrent    int
	IdleWindow       time.Duration
	MaxDuration      time.Duration
	PublishOnSuccess bool
}

// register adds the stack flags to a command.
func (s *StackOptions) register(cmd *kingpin.CmdClause) {
	cmd.Flag("engine", "Sandbox engine type.").Default("docker").EnumVar(&s.Engine, "docker", "fake")
	cmd.Flag("sandbox-image", "Container image used for task sandboxes.").Default("ubuntu:24.04").StringVar(&s.SandboxImage)
	cmd.Flag("max-concurrent", "Maximum number of tasks running at once.").Default("4").IntVar(&s.MaxConcurrent)
	cmd.Flag("default-idle-window", "Default idle window for tasks that do not set one.").Default("5m").DurationVar(&s.IdleWindow)
	cmd.Flag("default-max-duration", "Default wall clock limit for tasks that do not set one.").Default("30m").DurationVar(&s.MaxDuration)
	cmd.Flag("publish-on-success", "Push the agent branch when a task succeeds.").BoolVar(&s.PublishOnSuccess)
}

// newRepository opens the task repository on the configured SQLite database.
func newRepository(ctx context.Context, rootCmd *RootCommand) (*sqlite.Repository, error) {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: rootCmd.DBFilePath(),
		Logger: rootCmd.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open task repository: %w", err)
	}
	return repo, nil
}

// newEngine creates the sandbox engine for the requested type.
func newEngine(engineType string, logger log.Logger) (sandbox.Engine, error) {
	switch engineType {
	case "docker":
		return docker.NewEngine(docker.EngineConfig{Logger: logger})
	case "fake":
		return fake.NewEngine(fake.EngineConfig{Logger: logger})
	}
	return nil, fmt.Errorf("unknown engine type %q: %w", engineType, model.ErrNotValid)
}

// newOrchestrator wires the leaf services, provisioner, runners and collector
// into a ready orchestrator.
func newOrchestrator(rootCmd *RootCommand, repo storage.Repository, opts StackOptions) (*orchestrator.Orchestrator, error) {
	logger := rootCmd.Logger

	engine, err := newEngine(opts.Engine, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create engine: %w", err)
	}

	issuer, err := tlsca.NewIssuer(tlsca.IssuerConfig{
		DataDir: rootCmd.DataDir,
		MaxTTL:  opts.MaxDuration,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create credential issuer: %w", err)
	}

	cloner, err := localfile.NewCloner(localfile.ClonerConfig{
		DataDir: rootCmd.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create cloner: %w", err)
	}

	fetcher, err := gitcli.NewFetcher(gitcli.FetcherConfig{
		DataDir: rootCmd.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create fetcher: %w", err)
	}

	provisioner, err := provision.NewProvisioner(provision.ProvisionerConfig{
		Credentials: issuer,
		Cloner:      cloner,
		Fetcher:     fetcher,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create provisioner: %w", err)
	}

	coll, err := collector.NewCollector(collector.CollectorConfig{
		DataDir: rootCmd.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create collector: %w", err)
	}

	claudeRunner, err := claude.NewRunner(claude.RunnerConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create claude runner: %w", err)
	}
	geminiRunner, err := gemini.NewRunner(gemini.RunnerConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create gemini runner: %w", err)
	}
	codexRunner, err := codex.NewRunner(codex.RunnerConfig{Logger: logger})
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
		Logger:             logger,
		MaxConcurrent:      opts.MaxConcurrent,
		DefaultIdleWindow:  opts.IdleWindow,
		DefaultMaxDuration: opts.MaxDuration,
		SandboxImage:       opts.SandboxImage,
		PublishOnSuccess:   opts.PublishOnSuccess,
	})
}
