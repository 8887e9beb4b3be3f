package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage/io"
	"github.com/slok/agentbox/internal/utils/env"
)

type SubmitCommand struct {
	cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	descriptorFile string
	backend        string
	repo           string
	dbTemplate     string
	instructions   string
	envSpecs       []string
	maxDuration    time.Duration
	idleWindow     time.Duration
	noFollow       bool
	stack          StackOptions
}

// NewSubmitCommand returns the submit command.
func NewSubmitCommand(rootCmd *RootCommand, app *kingpin.Application) *SubmitCommand {
	c := &SubmitCommand{rootCmd: rootCmd}
	c.cmd = app.Command("submit", "Submits a new agent task and follows its output.")
	c.cmd.Flag("file", "YAML file with the task descriptor (flags override its fields).").Short('f').StringVar(&c.descriptorFile)
	c.cmd.Flag("backend", "Agent backend to run (claude, gemini or codex).").StringVar(&c.backend)
	c.cmd.Flag("repo", "Repository reference to check out for the task.").StringVar(&c.repo)
	c.cmd.Flag("db-template", "Database template file to clone for the task.").StringVar(&c.dbTemplate)
	c.cmd.Flag("instructions", "Instructions handed to the agent.").Short('i').StringVar(&c.instructions)
	c.cmd.Flag("env", "Extra environment variable for the agent (KEY=VALUE or KEY to inherit). Repeatable.").Short('e').StringsVar(&c.envSpecs)
	c.cmd.Flag("max-duration", "Wall clock limit for the agent run.").DurationVar(&c.maxDuration)
	c.cmd.Flag("idle-window", "Maximum silence allowed before the run is timed out.").DurationVar(&c.idleWindow)
	c.cmd.Flag("no-follow", "Do not stream the task output after submitting.").BoolVar(&c.noFollow)
	c.stack.register(c.cmd)

	return c
}

func (c SubmitCommand) Name() string { return c.cmd.FullCommand() }

func (c SubmitCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	descriptor, err := c.descriptor(ctx)
	if err != nil {
		return err
	}

	repo, err := newRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	orch, err := newOrchestrator(c.rootCmd, repo, c.stack)
	if err != nil {
		return err
	}

	taskID, err := orch.Submit(ctx, descriptor)
	if err != nil {
		return fmt.Errorf("could not submit task: %w", err)
	}

	logger.WithValues(log.Kv{"task-id": taskID, "backend": descriptor.Backend}).Infof("Task submitted")
	fmt.Fprintln(c.rootCmd.Stdout, taskID)

	if c.noFollow {
		// Detached submissions still need the task to finish before the
		// process exits, the sandbox lives in this process.
		logger.Infof("Waiting for task to finish (output streaming disabled)")
	} else {
		chunks, err := orch.Stream(ctx, taskID)
		if err != nil {
			return fmt.Errorf("could not stream task output: %w", err)
		}
		for chunk := range chunks {
			fmt.Fprint(c.rootCmd.Stdout, chunk.Data)
		}
	}

	final, err := orch.Wait(ctx, taskID)
	if err != nil {
		return fmt.Errorf("could not wait for task: %w", err)
	}
	if err := orch.Shutdown(ctx); err != nil {
		logger.Warningf("Orchestrator shutdown: %s", err)
	}

	for _, w := range final.Warnings {
		logger.Warningf("Teardown warning: %s", w)
	}

	switch final.Status {
	case model.TaskStatusSucceeded:
		logger.Infof("Task succeeded")
		return nil
	case model.TaskStatusCancelled:
		return fmt.Errorf("task was cancelled")
	default:
		return fmt.Errorf("task failed: %s", final.ErrorMessage)
	}
}

func (c SubmitCommand) descriptor(ctx context.Context) (model.TaskDescriptor, error) {
	var descriptor model.TaskDescriptor

	if c.descriptorFile != "" {
		abs, err := filepath.Abs(c.descriptorFile)
		if err != nil {
			return descriptor, fmt.Errorf("invalid descriptor path: %w", err)
		}
		repo := io.NewDescriptorYAMLRepository(os.DirFS(filepath.Dir(abs)))
		descriptor, err = repo.GetDescriptor(ctx, filepath.Base(abs))
		if err != nil {
			return descriptor, err
		}
	}

	if c.backend != "" {
		descriptor.Backend = model.AgentBackend(c.backend)
	}
	if c.repo != "" {
		descriptor.RepoRef = c.repo
	}
	if c.dbTemplate != "" {
		descriptor.DBTemplateRef = c.dbTemplate
	}
	if c.instructions != "" {
		descriptor.Instructions = c.instructions
	}
	if len(c.envSpecs) > 0 {
		flagEnv, err := env.ParseSpecs(c.envSpecs)
		if err != nil {
			return descriptor, fmt.Errorf("invalid env flag: %w", err)
		}
		descriptor.Env = env.MergeMaps(descriptor.Env, flagEnv)
	}
	if c.maxDuration != 0 {
		descriptor.MaxDuration = c.maxDuration
	}
	if c.idleWindow != 0 {
		descriptor.IdleWindow = c.idleWindow
	}

	if err := descriptor.Validate(); err != nil {
		return descriptor, fmt.Errorf("invalid task descriptor: %w", err)
	}

	return descriptor, nil
}
