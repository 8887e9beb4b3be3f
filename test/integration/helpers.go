package integration

import (
	"context"
	"database/sql"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/slok/agentbox/internal/collector"
	"github.com/slok/agentbox/internal/conventions"
	"github.com/slok/agentbox/internal/credential/tlsca"
	"github.com/slok/agentbox/internal/dbclone/localfile"
	"github.com/slok/agentbox/internal/orchestrator"
	"github.com/slok/agentbox/internal/provision"
	"github.com/slok/agentbox/internal/repofetch/gitcli"
	"github.com/slok/agentbox/internal/runner"
	"github.com/slok/agentbox/internal/runner/claude"
	"github.com/slok/agentbox/internal/sandbox/fake"
	"github.com/slok/agentbox/internal/storage/sqlite"
)

const envActivation = "AGENTBOX_INTEGRATION"

// requireIntegration skips the test unless integration tests are enabled and
// a git binary is available.
func requireIntegration(t *testing.T) {
	t.Helper()

	if os.Getenv(envActivation) == "" {
		t.Skipf("integration tests disabled, set %s to enable", envActivation)
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// newTemplateDB creates a valid SQLite template database under the data dir
// and returns its reference.
func newTemplateDB(t *testing.T, dataDir string) string {
	t.Helper()

	templatesDir := filepath.Join(dataDir, conventions.TemplatesDir)
	require.NoError(t, os.MkdirAll(templatesDir, 0700))

	path := filepath.Join(templatesDir, "orders.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, item TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO orders (item) VALUES ('widget')`)
	require.NoError(t, err)

	return "orders.db"
}

// newSourceRepo creates a local git repository with one commit and returns
// its path.
func newSourceRepo(t *testing.T, dir string) string {
	t.Helper()

	repoDir := filepath.Join(dir, "source-repo")
	require.NoError(t, os.MkdirAll(repoDir, 0755))

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoDir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}

	run("init")
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "README.md"), []byte("test repo\n"), 0644))
	run("add", ".")
	run("commit", "-m", "initial commit")

	return repoDir
}

// newStack wires a full orchestrator against the fake sandbox engine and the
// real leaf services in a temporary data directory.
func newStack(t *testing.T, script fake.SessionScript) (*orchestrator.Orchestrator, *fake.Engine, string) {
	t.Helper()

	dataDir := t.TempDir()

	engine, err := fake.NewEngine(fake.EngineConfig{Script: script})
	require.NoError(t, err)

	issuer, err := tlsca.NewIssuer(tlsca.IssuerConfig{DataDir: dataDir})
	require.NoError(t, err)
	cloner, err := localfile.NewCloner(localfile.ClonerConfig{DataDir: dataDir})
	require.NoError(t, err)
	fetcher, err := gitcli.NewFetcher(gitcli.FetcherConfig{DataDir: dataDir})
	require.NoError(t, err)

	provisioner, err := provision.NewProvisioner(provision.ProvisionerConfig{
		Credentials: issuer,
		Cloner:      cloner,
		Fetcher:     fetcher,
	})
	require.NoError(t, err)

	coll, err := collector.NewCollector(collector.CollectorConfig{DataDir: dataDir})
	require.NoError(t, err)

	claudeRunner, err := claude.NewRunner(claude.RunnerConfig{})
	require.NoError(t, err)

	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(dataDir, "agentbox.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	orch, err := orchestrator.NewOrchestrator(orchestrator.Config{
		Provisioner: provisioner,
		Engine:      engine,
		Runners:     runner.Registry{claudeRunner.Backend(): claudeRunner},
		Collector:   coll,
		Repository:  repo,
		Publisher:   fetcher,
	})
	require.NoError(t, err)

	return orch, engine, dataDir
}
