package credential

import (
	"context"

	"github.com/slok/agentbox/internal/model"
)

// Issuer issues and revokes short-lived TLS client credentials scoped to a
// single sandbox.
type Issuer interface {
	// Issue creates a credential for the given sandbox. The credential carries
	// an expiry no longer than the maximum allowed task duration.
	Issue(ctx context.Context, sandboxID string) (*model.Credential, error)
	// Revoke invalidates a previously issued credential. Revoking an already
	// revoked credential is not an error.
	Revoke(ctx context.Context, cred model.Credential) error
	// LiveCredentials returns the credentials that have been issued and not
	// revoked, for leak audits.
	LiveCredentials(ctx context.Context) ([]model.Credential, error)
}
