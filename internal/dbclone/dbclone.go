package dbclone

import (
	"context"

	"github.com/slok/agentbox/internal/model"
)

// Cloner produces isolated writable copies of a reference database, one per
// sandbox, and destroys them on teardown.
type Cloner interface {
	// Clone copies the template referenced by templateRef into the sandbox.
	// Writes to the clone are never visible to the template or to another
	// sandbox's clone.
	Clone(ctx context.Context, templateRef string, sandboxID string) (*model.DatabaseClone, error)
	// Destroy removes a clone. Destroying an already destroyed clone is not
	// an error.
	Destroy(ctx context.Context, clone model.DatabaseClone) error
	// LiveClones returns the clones that exist and have not been destroyed,
	// for leak audits.
	LiveClones(ctx context.Context) ([]model.DatabaseClone, error)
}
