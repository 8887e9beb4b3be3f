package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/docker"
)

type DoctorCommand struct {
	cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	output string
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}
	c.cmd = app.Command("doctor", "Runs preflight checks for the host environment.")
	registerOutputFlag(c.cmd, &c.output)

	return c
}

func (c DoctorCommand) Name() string { return c.cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	var results []model.CheckResult

	results = append(results, c.checkDocker(ctx)...)
	results = append(results, c.checkGit())
	results = append(results, c.checkDataDir())
	results = append(results, c.checkDatabase(ctx))

	if err := newPrinter(c.output, c.rootCmd.Stdout).PrintChecks(results); err != nil {
		return err
	}

	if model.HasErrors(results) {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}

func (c DoctorCommand) checkDocker(ctx context.Context) []model.CheckResult {
	engine, err := docker.NewEngine(docker.EngineConfig{Logger: c.rootCmd.Logger})
	if err != nil {
		return []model.CheckResult{{
			ID:      "docker_available",
			Message: fmt.Sprintf("Could not create Docker client: %v", err),
			Status:  model.CheckStatusError,
		}}
	}
	return engine.Check(ctx)
}

func (c DoctorCommand) checkGit() model.CheckResult {
	path, err := exec.LookPath("git")
	if err != nil {
		return model.CheckResult{
			ID:      "git_available",
			Message: "git binary not found in PATH",
			Status:  model.CheckStatusError,
		}
	}
	return model.CheckResult{
		ID:      "git_available",
		Message: fmt.Sprintf("git found at %s", path),
		Status:  model.CheckStatusOK,
	}
}

func (c DoctorCommand) checkDataDir() model.CheckResult {
	dir := c.rootCmd.DataDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return model.CheckResult{
			ID:      "data_dir_writable",
			Message: fmt.Sprintf("Could not create data directory %s: %v", dir, err),
			Status:  model.CheckStatusError,
		}
	}

	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return model.CheckResult{
			ID:      "data_dir_writable",
			Message: fmt.Sprintf("Data directory %s is not writable: %v", dir, err),
			Status:  model.CheckStatusError,
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	return model.CheckResult{
		ID:      "data_dir_writable",
		Message: fmt.Sprintf("Data directory %s is writable", dir),
		Status:  model.CheckStatusOK,
	}
}

func (c DoctorCommand) checkDatabase(ctx context.Context) model.CheckResult {
	dbPath := c.rootCmd.DBFilePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return model.CheckResult{
			ID:      "database_accessible",
			Message: fmt.Sprintf("Could not create database directory: %v", err),
			Status:  model.CheckStatusError,
		}
	}

	repo, err := newRepository(ctx, c.rootCmd)
	if err != nil {
		return model.CheckResult{
			ID:      "database_accessible",
			Message: fmt.Sprintf("Could not open task database %s: %v", dbPath, err),
			Status:  model.CheckStatusError,
		}
	}
	repo.Close()

	return model.CheckResult{
		ID:      "database_accessible",
		Message: fmt.Sprintf("Task database %s is accessible", dbPath),
		Status:  model.CheckStatusOK,
	}
}
