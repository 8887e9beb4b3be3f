package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/agentbox/internal/model"
)

// DescriptorYAMLRepository loads task descriptors from YAML files.
type DescriptorYAMLRepository struct {
	fs fs.FS
}

// NewDescriptorYAMLRepository creates a new YAML descriptor repository.
func NewDescriptorYAMLRepository(filesystem fs.FS) *DescriptorYAMLRepository {
	return &DescriptorYAMLRepository{fs: filesystem}
}

// GetDescriptor loads a task descriptor from a YAML file and returns a
// validated domain model.
func (r *DescriptorYAMLRepository) GetDescriptor(ctx context.Context, path string) (model.TaskDescriptor, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.TaskDescriptor{}, fmt.Errorf("reading descriptor file: %w", err)
	}

	if ctx.Err() != nil {
		return model.TaskDescriptor{}, ctx.Err()
	}

	var d TaskDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return model.TaskDescriptor{}, fmt.Errorf("parsing YAML: %w", err)
	}

	descriptor, err := d.toModel()
	if err != nil {
		return model.TaskDescriptor{}, fmt.Errorf("invalid descriptor: %w", err)
	}
	if err := descriptor.Validate(); err != nil {
		return model.TaskDescriptor{}, fmt.Errorf("invalid descriptor: %w", err)
	}

	return descriptor, nil
}

// TaskDescriptor represents the YAML structure for a task descriptor.
// Durations are Go duration strings (e.g. "30m").
type TaskDescriptor struct {
	Backend      string            `yaml:"backend"`
	Repo         string            `yaml:"repo"`
	DBTemplate   string            `yaml:"db_template"`
	Instructions string            `yaml:"instructions"`
	Env          map[string]string `yaml:"env"`
	MaxDuration  string            `yaml:"max_duration"`
	IdleWindow   string            `yaml:"idle_window"`
}

func (d TaskDescriptor) toModel() (model.TaskDescriptor, error) {
	maxDuration, err := parseDuration(d.MaxDuration)
	if err != nil {
		return model.TaskDescriptor{}, fmt.Errorf("max_duration: %w", err)
	}
	idleWindow, err := parseDuration(d.IdleWindow)
	if err != nil {
		return model.TaskDescriptor{}, fmt.Errorf("idle_window: %w", err)
	}

	return model.TaskDescriptor{
		Backend:       model.AgentBackend(d.Backend),
		RepoRef:       d.Repo,
		DBTemplateRef: d.DBTemplate,
		Instructions:  d.Instructions,
		Env:           d.Env,
		MaxDuration:   maxDuration,
		IdleWindow:    idleWindow,
	}, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
