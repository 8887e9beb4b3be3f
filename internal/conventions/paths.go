package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default agentbox data directory name (relative to home).
	DefaultDataDir = ".agentbox"
	// DBFile is the filename of the SQLite task database.
	DBFile = "agentbox.db"
	// SandboxesDir is the subdirectory for per-sandbox data.
	SandboxesDir = "sandboxes"
	// OutputDir is the subdirectory for per-task agent output logs.
	OutputDir = "output"
	// TemplatesDir is the subdirectory for database templates.
	TemplatesDir = "templates"

	// Sandbox-level files.

	// CredentialCertFile is the filename of the sandbox TLS client certificate.
	CredentialCertFile = "client.crt"
	// CredentialKeyFile is the filename of the sandbox TLS client key.
	CredentialKeyFile = "client.key"
	// CloneDBFile is the filename of the sandbox database clone.
	CloneDBFile = "clone.db"
	// CheckoutDir is the directory name of the sandbox repository checkout.
	CheckoutDir = "checkout"
)

// DBPath returns the path to the task database.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// SandboxDir returns the directory for a specific sandbox.
func SandboxDir(dataDir, sandboxID string) string {
	return filepath.Join(dataDir, SandboxesDir, sandboxID)
}

// CredentialCertPath returns the path to a sandbox's TLS client certificate.
func CredentialCertPath(dataDir, sandboxID string) string {
	return filepath.Join(SandboxDir(dataDir, sandboxID), CredentialCertFile)
}

// CredentialKeyPath returns the path to a sandbox's TLS client key.
func CredentialKeyPath(dataDir, sandboxID string) string {
	return filepath.Join(SandboxDir(dataDir, sandboxID), CredentialKeyFile)
}

// ClonePath returns the path to a sandbox's database clone.
func ClonePath(dataDir, sandboxID string) string {
	return filepath.Join(SandboxDir(dataDir, sandboxID), CloneDBFile)
}

// CheckoutPath returns the directory of a sandbox's repository checkout.
func CheckoutPath(dataDir, sandboxID string) string {
	return filepath.Join(SandboxDir(dataDir, sandboxID), CheckoutDir)
}

// TaskOutputPath returns the path to a task's durable output log.
func TaskOutputPath(dataDir, taskID string) string {
	return filepath.Join(dataDir, OutputDir, taskID+".ndjson")
}
