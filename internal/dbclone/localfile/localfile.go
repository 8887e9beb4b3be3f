package localfile

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/slok/agentbox/internal/conventions"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/utils/file"
)

// ClonerConfig is the configuration for the local file cloner.
type ClonerConfig struct {
	// DataDir is the agentbox data directory. Template references resolve
	// relative to its templates subdirectory unless they are absolute paths.
	DataDir string
	Logger  log.Logger
}

func (c *ClonerConfig) defaults() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "dbclone.LocalFile"})
	return nil
}

// Cloner is a dbclone.Cloner that copies SQLite template database files into
// per-sandbox directories. Each clone is a fully independent file, so writes
// in one sandbox are never visible to another.
type Cloner struct {
	dataDir string
	logger  log.Logger

	mu     sync.Mutex
	clones map[string]model.DatabaseClone // By clone ID.
}

// NewCloner creates a new local file cloner.
func NewCloner(cfg ClonerConfig) (*Cloner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Cloner{
		dataDir: cfg.DataDir,
		logger:  cfg.Logger,
		clones:  map[string]model.DatabaseClone{},
	}, nil
}

// templatePath resolves a template reference to a file path.
func (c *Cloner) templatePath(templateRef string) string {
	if filepath.IsAbs(templateRef) {
		return templateRef
	}
	return filepath.Join(c.dataDir, conventions.TemplatesDir, templateRef)
}

// Clone copies the template database into the sandbox directory and verifies
// the copy opens as a valid SQLite database.
func (c *Cloner) Clone(ctx context.Context, templateRef string, sandboxID string) (*model.DatabaseClone, error) {
	if templateRef == "" {
		return nil, fmt.Errorf("template reference is required: %w", model.ErrNotValid)
	}
	if sandboxID == "" {
		return nil, fmt.Errorf("sandbox ID is required: %w", model.ErrNotValid)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	srcPath := c.templatePath(templateRef)
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("could not open template %q: %w", templateRef, err)
	}
	defer src.Close()

	sandboxDir := conventions.SandboxDir(c.dataDir, sandboxID)
	if err := os.MkdirAll(sandboxDir, 0700); err != nil {
		return nil, fmt.Errorf("could not create sandbox directory: %w", err)
	}

	dstPath := conventions.ClonePath(c.dataDir, sandboxID)
	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("could not create clone file: %w", err)
	}

	// Sparse-aware copy keeps large mostly-empty templates cheap; fall back
	// to a plain copy where the filesystem doesn't support it.
	if err := file.CopyFileSparse(ctx, src, dst); err != nil {
		if !errors.Is(err, file.ErrSparseUnsupported) {
			dst.Close()
			_ = os.Remove(dstPath)
			return nil, fmt.Errorf("could not copy template: %w", err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			_ = os.Remove(dstPath)
			return nil, fmt.Errorf("could not copy template: %w", err)
		}
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dstPath)
		return nil, fmt.Errorf("could not close clone file: %w", err)
	}

	if err := verifyClone(ctx, dstPath); err != nil {
		_ = os.Remove(dstPath)
		return nil, fmt.Errorf("clone verification failed: %w", err)
	}

	clone := model.DatabaseClone{
		ID:          ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		SandboxID:   sandboxID,
		TemplateRef: templateRef,
		Path:        dstPath,
	}

	c.mu.Lock()
	c.clones[clone.ID] = clone
	c.mu.Unlock()

	if virt, alloc, err := file.SizeStats(dstPath); err == nil {
		c.logger.Debugf("cloned template %q for sandbox %s (virtual=%d allocated=%d)", templateRef, sandboxID, virt, alloc)
	} else {
		c.logger.Debugf("cloned template %q for sandbox %s", templateRef, sandboxID)
	}

	return &clone, nil
}

// verifyClone opens the copied file as SQLite and runs a quick integrity check.
func verifyClone(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("could not open clone: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check(1)").Scan(&result); err != nil {
		return fmt.Errorf("could not run quick check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("clone is corrupt: %s: %w", result, model.ErrNotValid)
	}
	return nil
}

// Destroy removes a clone file. Idempotent.
func (c *Cloner) Destroy(ctx context.Context, clone model.DatabaseClone) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if clone.Path != "" {
		if err := os.Remove(clone.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("could not remove clone: %w", err)
		}
	}

	c.mu.Lock()
	delete(c.clones, clone.ID)
	c.mu.Unlock()

	c.logger.Debugf("destroyed clone %s for sandbox %s", clone.ID, clone.SandboxID)

	return nil
}

// LiveClones returns the clones not yet destroyed.
func (c *Cloner) LiveClones(ctx context.Context) ([]model.DatabaseClone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	clones := make([]model.DatabaseClone, 0, len(c.clones))
	for _, cl := range c.clones {
		clones = append(clones, cl)
	}
	return clones, nil
}
