package gitcli

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/agentbox/internal/conventions"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
)

// FetcherConfig is the configuration for the git CLI fetcher.
type FetcherConfig struct {
	// DataDir is the agentbox data directory where checkouts are created.
	DataDir string
	// GitBin is the git binary to use. Defaults to "git".
	GitBin string
	// CommandTimeout bounds individual git invocations. Defaults to 1 minute.
	CommandTimeout time.Duration
	Logger         log.Logger
}

func (c *FetcherConfig) defaults() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.GitBin == "" {
		c.GitBin = "git"
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 1 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "repofetch.GitCLI"})
	return nil
}

// Fetcher is a repofetch.Fetcher that shells out to the git CLI.
type Fetcher struct {
	dataDir        string
	gitBin         string
	commandTimeout time.Duration
	logger         log.Logger

	mu        sync.Mutex
	checkouts map[string]model.RepoCheckout // By checkout ID.
}

// NewFetcher creates a new git CLI fetcher.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Fetcher{
		dataDir:        cfg.DataDir,
		gitBin:         cfg.GitBin,
		commandTimeout: cfg.CommandTimeout,
		logger:         cfg.Logger,
		checkouts:      map[string]model.RepoCheckout{},
	}, nil
}

// git runs a git command in the given directory and returns its combined output.
func (f *Fetcher) git(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.gitBin, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

// Checkout clones the repository into the sandbox directory on a fresh
// working branch.
func (f *Fetcher) Checkout(ctx context.Context, repoRef string, sandboxID string) (*model.RepoCheckout, error) {
	if repoRef == "" {
		return nil, fmt.Errorf("repository reference is required: %w", model.ErrNotValid)
	}
	if sandboxID == "" {
		return nil, fmt.Errorf("sandbox ID is required: %w", model.ErrNotValid)
	}

	dstPath := conventions.CheckoutPath(f.dataDir, sandboxID)
	if err := os.MkdirAll(conventions.SandboxDir(f.dataDir, sandboxID), 0700); err != nil {
		return nil, fmt.Errorf("could not create sandbox directory: %w", err)
	}

	if _, err := f.git(ctx, "", "clone", "--depth", "1", repoRef, dstPath); err != nil {
		return nil, fmt.Errorf("could not clone repository: %w", err)
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	branch := fmt.Sprintf("agentbox/%s", strings.ToLower(id))

	if _, err := f.git(ctx, dstPath, "checkout", "-b", branch); err != nil {
		_ = os.RemoveAll(dstPath)
		return nil, fmt.Errorf("could not create working branch: %w", err)
	}

	checkout := model.RepoCheckout{
		ID:        id,
		SandboxID: sandboxID,
		RepoRef:   repoRef,
		Path:      dstPath,
		Branch:    branch,
	}

	f.mu.Lock()
	f.checkouts[checkout.ID] = checkout
	f.mu.Unlock()

	f.logger.Debugf("checked out %q for sandbox %s on branch %s", repoRef, sandboxID, branch)

	return &checkout, nil
}

// Release removes a checkout directory. Idempotent.
func (f *Fetcher) Release(ctx context.Context, checkout model.RepoCheckout) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if checkout.Path != "" {
		if err := os.RemoveAll(checkout.Path); err != nil {
			return fmt.Errorf("could not remove checkout: %w", err)
		}
	}

	f.mu.Lock()
	delete(f.checkouts, checkout.ID)
	f.mu.Unlock()

	f.logger.Debugf("released checkout %s for sandbox %s", checkout.ID, checkout.SandboxID)

	return nil
}

// Publish commits any outstanding changes on the working branch and pushes it
// upstream. Returns Pushed=false when the working tree is clean and the branch
// has no commits over its base.
func (f *Fetcher) Publish(ctx context.Context, checkout model.RepoCheckout) (*model.PublishResult, error) {
	if checkout.Path == "" {
		return nil, fmt.Errorf("checkout path is required: %w", model.ErrNotValid)
	}

	status, err := f.git(ctx, checkout.Path, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("could not get checkout status: %w", err)
	}

	if strings.TrimSpace(status) != "" {
		if _, err := f.git(ctx, checkout.Path, "add", "-A"); err != nil {
			return nil, fmt.Errorf("could not stage changes: %w", err)
		}
		if _, err := f.git(ctx, checkout.Path, "commit", "-m", "agentbox: task changes"); err != nil {
			return nil, fmt.Errorf("could not commit changes: %w", err)
		}
	}

	// Nothing to push when the branch has no commits of its own.
	out, err := f.git(ctx, checkout.Path, "rev-list", "--count", "HEAD", "--not", "--remotes")
	if err != nil {
		return nil, fmt.Errorf("could not count branch commits: %w", err)
	}
	if strings.TrimSpace(out) == "0" {
		return &model.PublishResult{Branch: checkout.Branch, Pushed: false}, nil
	}

	if _, err := f.git(ctx, checkout.Path, "push", "-u", "origin", checkout.Branch); err != nil {
		return nil, fmt.Errorf("could not push branch: %w", err)
	}

	f.logger.Infof("published branch %s for checkout %s", checkout.Branch, checkout.ID)

	return &model.PublishResult{Branch: checkout.Branch, Pushed: true}, nil
}

// LiveCheckouts returns the checkouts not yet released.
func (f *Fetcher) LiveCheckouts(ctx context.Context) ([]model.RepoCheckout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	checkouts := make([]model.RepoCheckout, 0, len(f.checkouts))
	for _, c := range f.checkouts {
		checkouts = append(checkouts, c)
	}
	return checkouts, nil
}
