package model

import "time"

// ResourceKind identifies one of the three sandbox resources.
type ResourceKind string

const (
	// ResourceCredential is the short-lived TLS client credential.
	ResourceCredential ResourceKind = "credential"
	// ResourceDBClone is the per-sandbox database clone.
	ResourceDBClone ResourceKind = "db_clone"
	// ResourceRepoCheckout is the per-sandbox repository checkout.
	ResourceRepoCheckout ResourceKind = "repo_checkout"
)

// ProvisionStatus represents the provisioning state of a sandbox.
type ProvisionStatus string

const (
	// ProvisionStatusUnprovisioned indicates no resource has been acquired yet.
	ProvisionStatusUnprovisioned ProvisionStatus = "unprovisioned"
	// ProvisionStatusPartial indicates some resources are acquired. A sandbox
	// in this state is never usable, it either progresses to ready or is
	// rolled back.
	ProvisionStatusPartial ProvisionStatus = "partial"
	// ProvisionStatusReady indicates all three resources are acquired.
	ProvisionStatusReady ProvisionStatus = "ready"
	// ProvisionStatusTornDown indicates teardown has completed.
	ProvisionStatusTornDown ProvisionStatus = "torn_down"
)

// Sandbox is the isolated execution context for exactly one task. Its three
// resource handles are created and destroyed as a unit.
type Sandbox struct {
	ID     string
	TaskID string
	Status ProvisionStatus

	// RuntimeID addresses the isolation primitive instance (e.g. the
	// container ID) that executes the agent.
	RuntimeID string

	Credential   *Credential
	DBClone      *DatabaseClone
	RepoCheckout *RepoCheckout
}

// LiveResources returns the kinds of resources the sandbox currently holds.
func (s *Sandbox) LiveResources() []ResourceKind {
	var live []ResourceKind
	if s.Credential != nil {
		live = append(live, ResourceCredential)
	}
	if s.DBClone != nil {
		live = append(live, ResourceDBClone)
	}
	if s.RepoCheckout != nil {
		live = append(live, ResourceRepoCheckout)
	}
	return live
}

// Credential is a short-lived TLS client credential scoped to one sandbox.
type Credential struct {
	ID        string
	SandboxID string
	// CertPath and KeyPath point at the PEM-encoded certificate and key.
	CertPath string
	KeyPath  string
	// ExpiresAt is the certificate expiry, capped at the maximum task
	// duration as a backstop against missed revocation.
	ExpiresAt time.Time
}

// DatabaseClone is an isolated writable copy of a database template.
type DatabaseClone struct {
	ID          string
	SandboxID   string
	TemplateRef string
	// Path is the location of the cloned database.
	Path string
}

// RepoCheckout is a per-sandbox source repository checkout.
type RepoCheckout struct {
	ID        string
	SandboxID string
	RepoRef   string
	// Path is the local checkout directory.
	Path string
	// Branch is the per-task working branch.
	Branch string
}

// PublishResult is the outcome of publishing a checkout's changes upstream.
type PublishResult struct {
	Branch string
	// Pushed is false when there were no changes to publish.
	Pushed bool
}
