package repofetch

import (
	"context"

	"github.com/slok/agentbox/internal/model"
)

// Fetcher checks out source repositories on behalf of sandboxes and publishes
// their changes after a successful run.
type Fetcher interface {
	// Checkout clones repoRef into the sandbox on a per-task working branch.
	Checkout(ctx context.Context, repoRef string, sandboxID string) (*model.RepoCheckout, error)
	// Release removes a checkout. Releasing an already released checkout is
	// not an error.
	Release(ctx context.Context, checkout model.RepoCheckout) error
	// Publish pushes the checkout's working branch upstream. Only invoked
	// after a successful agent run, and only when publishing is enabled.
	Publish(ctx context.Context, checkout model.RepoCheckout) (*model.PublishResult, error)
	// LiveCheckouts returns the checkouts not yet released, for leak audits.
	LiveCheckouts(ctx context.Context) ([]model.RepoCheckout, error)
}
