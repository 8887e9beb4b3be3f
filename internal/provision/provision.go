package provision

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/agentbox/internal/credential"
	"github.com/slok/agentbox/internal/dbclone"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/repofetch"
)

// ProvisionerConfig is the configuration for the sandbox provisioner.
type ProvisionerConfig struct {
	Credentials credential.Issuer
	Cloner      dbclone.Cloner
	Fetcher     repofetch.Fetcher
	Logger      log.Logger
}

func (c *ProvisionerConfig) defaults() error {
	if c.Credentials == nil {
		return fmt.Errorf("credential issuer is required")
	}
	if c.Cloner == nil {
		return fmt.Errorf("cloner is required")
	}
	if c.Fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "provision.Provisioner"})
	return nil
}

// Provisioner composes the three leaf services into a single atomic prepare/
// teardown operation for one sandbox. Resources are acquired cheapest-first
// (credential, then database clone, then repository checkout) so rollback
// wastes as little work as possible; release always runs in reverse order.
type Provisioner struct {
	credentials credential.Issuer
	cloner      dbclone.Cloner
	fetcher     repofetch.Fetcher
	logger      log.Logger
}

// NewProvisioner creates a new provisioner.
func NewProvisioner(cfg ProvisionerConfig) (*Provisioner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Provisioner{
		credentials: cfg.Credentials,
		cloner:      cfg.Cloner,
		fetcher:     cfg.Fetcher,
		logger:      cfg.Logger,
	}, nil
}

// Provision acquires the three sandbox resources for a task. Either all three
// are acquired and the returned sandbox is ready, or every already-acquired
// resource is rolled back (best-effort, in reverse order) and a
// *model.ProvisionError is returned. The acquisition calls are never
// interrupted mid-flight: a cancelled context is only observed between steps,
// so a resource creation can't race its own deletion.
func (p *Provisioner) Provision(ctx context.Context, task model.Task) (*model.Sandbox, error) {
	sb := &model.Sandbox{
		ID:     ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		TaskID: task.ID,
		Status: model.ProvisionStatusUnprovisioned,
	}

	logger := p.logger.WithValues(log.Kv{"task": task.ID, "sandbox": sb.ID})

	// Leaf calls get a context detached from cancellation so an in-flight
	// acquisition always runs to completion before rollback is issued.
	leafCtx := context.WithoutCancel(ctx)

	steps := []struct {
		kind    model.ResourceKind
		acquire func() error
	}{
		{
			kind: model.ResourceCredential,
			acquire: func() error {
				cred, err := p.credentials.Issue(leafCtx, sb.ID)
				if err != nil {
					return err
				}
				sb.Credential = cred
				return nil
			},
		},
		{
			kind: model.ResourceDBClone,
			acquire: func() error {
				clone, err := p.cloner.Clone(leafCtx, task.Descriptor.DBTemplateRef, sb.ID)
				if err != nil {
					return err
				}
				sb.DBClone = clone
				return nil
			},
		},
		{
			kind: model.ResourceRepoCheckout,
			acquire: func() error {
				checkout, err := p.fetcher.Checkout(leafCtx, task.Descriptor.RepoRef, sb.ID)
				if err != nil {
					return err
				}
				sb.RepoCheckout = checkout
				return nil
			},
		},
	}

	for _, step := range steps {
		// Cancellation is observed between steps only.
		if err := ctx.Err(); err != nil {
			report := p.rollback(leafCtx, sb)
			return nil, &model.ProvisionError{Resource: step.kind, Err: err, RollbackErrs: report.Failed}
		}

		if err := step.acquire(); err != nil {
			logger.Warningf("acquisition of %s failed, rolling back: %v", step.kind, err)
			report := p.rollback(leafCtx, sb)
			return nil, &model.ProvisionError{Resource: step.kind, Err: err, RollbackErrs: report.Failed}
		}

		sb.Status = model.ProvisionStatusPartial
		logger.Debugf("acquired %s", step.kind)
	}

	sb.Status = model.ProvisionStatusReady
	logger.Infof("sandbox provisioned")

	return sb, nil
}

// Teardown releases every resource the sandbox holds, in reverse acquisition
// order. Release failures are recorded in the report and never halt the
// remaining releases.
func (p *Provisioner) Teardown(ctx context.Context, sb *model.Sandbox) model.TeardownReport {
	report := p.rollback(context.WithoutCancel(ctx), sb)
	sb.Status = model.ProvisionStatusTornDown

	if report.Clean() {
		p.logger.WithValues(log.Kv{"sandbox": sb.ID}).Infof("sandbox torn down")
	} else {
		p.logger.WithValues(log.Kv{"sandbox": sb.ID}).Warningf("sandbox teardown left orphaned resources: %v", report.Failed)
	}

	return report
}

// rollback releases acquired resources in reverse order, best-effort.
func (p *Provisioner) rollback(ctx context.Context, sb *model.Sandbox) model.TeardownReport {
	report := model.TeardownReport{Failed: map[model.ResourceKind]error{}}

	if sb.RepoCheckout != nil {
		if err := p.fetcher.Release(ctx, *sb.RepoCheckout); err != nil {
			report.Failed[model.ResourceRepoCheckout] = err
		} else {
			sb.RepoCheckout = nil
			report.Released = append(report.Released, model.ResourceRepoCheckout)
		}
	}

	if sb.DBClone != nil {
		if err := p.cloner.Destroy(ctx, *sb.DBClone); err != nil {
			report.Failed[model.ResourceDBClone] = err
		} else {
			sb.DBClone = nil
			report.Released = append(report.Released, model.ResourceDBClone)
		}
	}

	if sb.Credential != nil {
		if err := p.credentials.Revoke(ctx, *sb.Credential); err != nil {
			report.Failed[model.ResourceCredential] = err
		} else {
			sb.Credential = nil
			report.Released = append(report.Released, model.ResourceCredential)
		}
	}

	return report
}
