package gitcli_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/repofetch/gitcli"
)

func requireGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=agentbox-test",
		"GIT_AUTHOR_EMAIL=agentbox-test@localhost",
		"GIT_COMMITTER_NAME=agentbox-test",
		"GIT_COMMITTER_EMAIL=agentbox-test@localhost",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

// newSourceRepo creates a local git repository with one commit on main.
func newSourceRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	runGit(t, dir, "init", "--initial-branch", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("orders service\n"), 0600))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial commit")
	return dir
}

func newFetcher(t *testing.T) (*gitcli.Fetcher, string) {
	t.Helper()

	dataDir := t.TempDir()
	fetcher, err := gitcli.NewFetcher(gitcli.FetcherConfig{DataDir: dataDir})
	require.NoError(t, err)
	return fetcher, dataDir
}

func TestFetcherCheckout(t *testing.T) {
	requireGit(t)
	assert := assert.New(t)
	require := require.New(t)

	repo := newSourceRepo(t)
	fetcher, _ := newFetcher(t)

	checkout, err := fetcher.Checkout(context.Background(), repo, "sbx-1")
	require.NoError(err)

	assert.NotEmpty(checkout.ID)
	assert.Equal("sbx-1", checkout.SandboxID)
	assert.Equal(repo, checkout.RepoRef)
	assert.True(strings.HasPrefix(checkout.Branch, "agentbox/"))

	// The checkout holds the repository content on its own working branch.
	_, err = os.Stat(filepath.Join(checkout.Path, "README.md"))
	assert.NoError(err)
	current := runGit(t, checkout.Path, "branch", "--show-current")
	assert.Equal(checkout.Branch, current)
}

func TestFetcherCheckoutInvalid(t *testing.T) {
	requireGit(t)
	assert := assert.New(t)

	fetcher, _ := newFetcher(t)
	ctx := context.Background()

	_, err := fetcher.Checkout(ctx, "", "sbx-1")
	assert.ErrorIs(err, model.ErrNotValid)

	_, err = fetcher.Checkout(ctx, "/srv/repos/orders.git", "")
	assert.ErrorIs(err, model.ErrNotValid)

	_, err = fetcher.Checkout(ctx, filepath.Join(t.TempDir(), "does-not-exist"), "sbx-1")
	assert.Error(err)
}

func TestFetcherRelease(t *testing.T) {
	requireGit(t)
	assert := assert.New(t)
	require := require.New(t)

	repo := newSourceRepo(t)
	fetcher, _ := newFetcher(t)

	ctx := context.Background()
	checkout, err := fetcher.Checkout(ctx, repo, "sbx-1")
	require.NoError(err)

	require.NoError(fetcher.Release(ctx, *checkout))
	_, err = os.Stat(checkout.Path)
	assert.True(os.IsNotExist(err))

	// Releasing again is a no-op.
	assert.NoError(fetcher.Release(ctx, *checkout))
}

func TestFetcherPublish(t *testing.T) {
	requireGit(t)
	assert := assert.New(t)
	require := require.New(t)

	repo := newSourceRepo(t)
	fetcher, _ := newFetcher(t)

	ctx := context.Background()
	checkout, err := fetcher.Checkout(ctx, repo, "sbx-1")
	require.NoError(err)

	// Publishing commits shell out to git, which needs an identity in the
	// checkout.
	runGit(t, checkout.Path, "config", "user.name", "agentbox-test")
	runGit(t, checkout.Path, "config", "user.email", "agentbox-test@localhost")

	// A clean checkout with no own commits pushes nothing.
	res, err := fetcher.Publish(ctx, *checkout)
	require.NoError(err)
	assert.False(res.Pushed)
	assert.Equal(checkout.Branch, res.Branch)

	// After the agent changes files, publish commits and pushes the working
	// branch upstream.
	require.NoError(os.WriteFile(filepath.Join(checkout.Path, "fix.txt"), []byte("patched\n"), 0600))
	res, err = fetcher.Publish(ctx, *checkout)
	require.NoError(err)
	assert.True(res.Pushed)

	got := runGit(t, repo, "rev-parse", "--verify", checkout.Branch)
	assert.NotEmpty(got)
}

func TestFetcherPublishInvalid(t *testing.T) {
	requireGit(t)
	assert := assert.New(t)
	require := require.New(t)

	fetcher, _ := newFetcher(t)
	_, err := fetcher.Publish(context.Background(), model.RepoCheckout{})
	require.Error(err)
	assert.ErrorIs(err, model.ErrNotValid)
}

func TestFetcherLiveCheckouts(t *testing.T) {
	requireGit(t)
	assert := assert.New(t)
	require := require.New(t)

	repo := newSourceRepo(t)
	fetcher, _ := newFetcher(t)

	ctx := context.Background()
	live, err := fetcher.LiveCheckouts(ctx)
	require.NoError(err)
	assert.Empty(live)

	first, err := fetcher.Checkout(ctx, repo, "sbx-1")
	require.NoError(err)
	second, err := fetcher.Checkout(ctx, repo, "sbx-2")
	require.NoError(err)

	live, err = fetcher.LiveCheckouts(ctx)
	require.NoError(err)
	assert.Len(live, 2)

	require.NoError(fetcher.Release(ctx, *first))
	live, err = fetcher.LiveCheckouts(ctx)
	require.NoError(err)
	require.Len(live, 1)
	assert.Equal(second.ID, live[0].ID)
}
