package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
)

// ProvisionError is returned when sandbox provisioning fails. It records which
// resource acquisition failed and any rollback failures of the resources that
// had already been acquired, so orphaned resources are never silently swallowed.
type ProvisionError struct {
	// Resource is the resource kind whose acquisition failed.
	Resource ResourceKind
	// Err is the underlying acquisition error.
	Err error
	// RollbackErrs holds per-resource rollback failures (may be empty).
	RollbackErrs map[ResourceKind]error
}

func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("could not provision %s: %v", e.Resource, e.Err)
	if len(e.RollbackErrs) > 0 {
		parts := make([]string, 0, len(e.RollbackErrs))
		for k, err := range e.RollbackErrs {
			parts = append(parts, fmt.Sprintf("%s: %v", k, err))
		}
		msg += fmt.Sprintf(" (rollback failures: %s)", strings.Join(parts, ", "))
	}
	return msg
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// TeardownReport enumerates the outcome of releasing each of a sandbox's
// resources. Teardown is best-effort: failures are recorded, not fatal.
type TeardownReport struct {
	// Released lists the resource kinds confirmed released.
	Released []ResourceKind
	// Failed maps each resource kind that could not be confirmed released to
	// the error that prevented it.
	Failed map[ResourceKind]error
}

// Clean returns true when every resource was confirmed released.
func (r TeardownReport) Clean() bool { return len(r.Failed) == 0 }

// Warnings renders the failed releases as task warning strings.
func (r TeardownReport) Warnings() []string {
	warnings := make([]string, 0, len(r.Failed))
	for k, err := range r.Failed {
		warnings = append(warnings, fmt.Sprintf("teardown: could not release %s: %v", k, err))
	}
	return warnings
}
