package workingcopy_test

import (
	"context"
	"os"
	oe "os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inventivepotter/promptrepo/gitflow/credurl"
	"github.com/inventivepotter/promptrepo/gitflow/workingcopy"
)

func TestIsRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.False(t, workingcopy.IsRepository(dir))

	initGitRepo(t, dir)
	assert.True(t, workingcopy.IsRepository(dir))
}

func TestOpen_not_a_repository(t *testing.T) {
	t.Parallel()

	wc, err := workingcopy.Open(t.TempDir())

	assert.Nil(t, wc)
	assert.ErrorIs(
		t, err, workingcopy.ErrNotARepository,
	)
}

func TestOpen_existing_clone(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc, err := workingcopy.Open(dir)

	require.NoError(t, err)
	assert.Equal(t, dir, wc.Dir)
	assert.Equal(t, "origin", wc.RemoteName)
}

func TestClone_local_remote(t *testing.T) {
	t.Parallel()

	bare := seedBareRepo(t)
	dir := filepath.Join(t.TempDir(), "clone")

	wc, err := workingcopy.Clone(
		context.Background(),
		bare, dir, "main", "",
		credurl.HostingGeneric,
	)

	require.NoError(t, err)

	branch, err := wc.CurrentBranch(
		context.Background(),
	)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestClone_replaces_partial_directory(
	t *testing.T,
) {
	t.Parallel()

	bare := seedBareRepo(t)
	dir := filepath.Join(t.TempDir(), "clone")

	// Leftovers of an interrupted earlier attempt:
	// a directory without git metadata.
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "partial.txt"),
		[]byte("half\n"), 0o600,
	))

	wc, err := workingcopy.Clone(
		context.Background(),
		bare, dir, "main", "",
		credurl.HostingGeneric,
	)

	require.NoError(t, err)
	assert.True(t, workingcopy.IsRepository(wc.Dir))
	assert.NoFileExists(
		t, filepath.Join(dir, "partial.txt"),
	)
}

func TestCurrentBranch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc := open(t, dir)

	branch, err := wc.CurrentBranch(
		context.Background(),
	)

	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestCheckoutNewBranch_creates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc := open(t, dir)
	ctx := context.Background()

	err := wc.CheckoutNewBranch(
		ctx, "update-greet-1", "main", "",
		credurl.HostingGeneric,
	)
	require.NoError(t, err)

	branch, err := wc.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "update-greet-1", branch)
}

func TestCheckoutNewBranch_reuses_existing(
	t *testing.T,
) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc := open(t, dir)
	ctx := context.Background()

	require.NoError(t, wc.CheckoutNewBranch(
		ctx, "update-x", "main", "",
		credurl.HostingGeneric,
	))

	// A second checkout of the same name must reuse
	// the branch instead of failing.
	require.NoError(t, wc.CheckoutNewBranch(
		ctx, "update-x", "main", "",
		credurl.HostingGeneric,
	))

	branch, err := wc.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "update-x", branch)
}

func TestWriteFiles_stages_content(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc := open(t, dir)
	ctx := context.Background()

	err := wc.WriteFiles(ctx, map[string]string{
		"prompts/greet.yaml": "greeting: hello\n",
	})
	require.NoError(t, err)

	st, err := wc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Contains(
		t, st.Staged, "prompts/greet.yaml",
	)
}

func TestCommitChanges_returns_hash(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc := open(t, dir)
	ctx := context.Background()

	require.NoError(t, wc.WriteFiles(
		ctx,
		map[string]string{"a.yaml": "v: 1\n"},
	))

	hash, err := wc.CommitChanges(
		ctx, "Update a.yaml",
		"Jane Doe", "jane@example.com",
	)

	require.NoError(t, err)
	assert.Len(t, hash, 40)

	hist, err := wc.FileHistory(ctx, "a.yaml", 5)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, hash, hist[0].Hash)
	assert.Equal(t, "Jane Doe", hist[0].AuthorName)
}

func TestCommitChanges_clean_tree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc := open(t, dir)

	_, err := wc.CommitChanges(
		context.Background(), "noop", "", "",
	)

	assert.ErrorIs(
		t, err, workingcopy.ErrNothingToCommit,
	)
}

func TestCommitChanges_automation_fallback(
	t *testing.T,
) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepoNoIdentity(t, dir)

	wc := open(t, dir)
	ctx := context.Background()

	require.NoError(t, wc.WriteFiles(
		ctx,
		map[string]string{"b.yaml": "v: 2\n"},
	))

	_, err := wc.CommitChanges(
		ctx, "Update b.yaml", "", "",
	)
	require.NoError(t, err)

	hist, err := wc.FileHistory(ctx, "b.yaml", 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(
		t,
		workingcopy.AutomationName,
		hist[0].AuthorName,
	)
	assert.Equal(
		t,
		workingcopy.AutomationEmail,
		hist[0].AuthorEmail,
	)
}

func TestPushBranch_local_remote(t *testing.T) {
	t.Parallel()

	bare := seedBareRepo(t)
	dir := filepath.Join(t.TempDir(), "clone")

	wc, err := workingcopy.Clone(
		context.Background(),
		bare, dir, "main", "",
		credurl.HostingGeneric,
	)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, wc.CheckoutNewBranch(
		ctx, "update-c", "main", "",
		credurl.HostingGeneric,
	))
	require.NoError(t, wc.WriteFiles(
		ctx,
		map[string]string{"c.yaml": "v: 3\n"},
	))

	_, err = wc.CommitChanges(
		ctx, "Update c.yaml", "", "",
	)
	require.NoError(t, err)

	err = wc.PushBranch(
		ctx, "", "update-c", bare,
		credurl.HostingGeneric,
	)
	require.NoError(t, err)

	// The branch must now exist on the remote.
	out := gitOut(
		t, bare,
		"branch", "--list", "update-c",
	)
	assert.Contains(t, out, "update-c")
}

func TestPushBranch_failure_keeps_commit(
	t *testing.T,
) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc := open(t, dir)
	ctx := context.Background()

	require.NoError(t, wc.WriteFiles(
		ctx,
		map[string]string{"d.yaml": "v: 4\n"},
	))

	hash, err := wc.CommitChanges(
		ctx, "Update d.yaml", "", "",
	)
	require.NoError(t, err)

	err = wc.PushBranch(
		ctx, "", "main",
		filepath.Join(t.TempDir(), "missing.git"),
		credurl.HostingGeneric,
	)
	require.Error(t, err)

	// The failed push must not disturb the local
	// commit.
	hist, herr := wc.FileHistory(ctx, "d.yaml", 1)
	require.NoError(t, herr)
	require.Len(t, hist, 1)
	assert.Equal(t, hash, hist[0].Hash)
}

func TestPullLatest_restores_remote_url(
	t *testing.T,
) {
	t.Parallel()

	bare := seedBareRepo(t)
	dir := filepath.Join(t.TempDir(), "clone")

	ctx := context.Background()

	wc, err := workingcopy.Clone(
		ctx, bare, dir, "main", "",
		credurl.HostingGeneric,
	)
	require.NoError(t, err)

	// Point the remote at an https URL so credential
	// injection actually happens; the pull fails, but
	// the configured URL must come back clean.
	clean := "https://host.invalid/org/repo.git"
	gitCmd(
		t, dir,
		"remote", "set-url", "origin", clean,
	)

	err = wc.PullLatest(
		ctx, "s3cret", "", false,
		credurl.HostingGitHub,
	)
	require.Error(t, err)

	got := strings.TrimSpace(gitOut(
		t, dir, "remote", "get-url", "origin",
	))
	assert.Equal(t, clean, got)
	assert.NotContains(t, got, "s3cret")
}

func TestPullLatest_force_stashes(t *testing.T) {
	t.Parallel()

	bare := seedBareRepo(t)
	dir := filepath.Join(t.TempDir(), "clone")

	ctx := context.Background()

	wc, err := workingcopy.Clone(
		ctx, bare, dir, "main", "",
		credurl.HostingGeneric,
	)
	require.NoError(t, err)

	// Dirty the tree with an uncommitted change.
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "seed.txt"),
		[]byte("local edit\n"),
		0o600,
	))

	err = wc.PullLatest(
		ctx, "", "main", true,
		credurl.HostingGeneric,
	)
	require.NoError(t, err)

	st, err := wc.GetStatus(ctx)
	require.NoError(t, err)
	assert.False(t, st.Dirty)
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	bare := seedBareRepo(t)
	dir := filepath.Join(t.TempDir(), "clone")

	ctx := context.Background()

	wc, err := workingcopy.Clone(
		ctx, bare, dir, "main", "",
		credurl.HostingGeneric,
	)
	require.NoError(t, err)

	st, err := wc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", st.Branch)
	assert.False(t, st.Dirty)
	assert.Zero(t, st.CommitsAhead)
	assert.Contains(t, st.LastCommit, "seed")

	// Untracked file.
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "new.yaml"),
		[]byte("v: 1\n"),
		0o600,
	))

	st, err = wc.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.Dirty)
	assert.Contains(t, st.Untracked, "new.yaml")

	// Commit locally: one ahead of upstream.
	require.NoError(
		t, wc.AddFiles(ctx, "new.yaml"),
	)

	_, err = wc.CommitChanges(
		ctx, "add new.yaml", "", "",
	)
	require.NoError(t, err)

	st, err = wc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CommitsAhead)
}

func TestGetStatus_no_upstream(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc := open(t, dir)

	st, err := wc.GetStatus(context.Background())

	require.NoError(t, err)
	assert.Zero(t, st.CommitsAhead)
}

func TestFileHistory_limit_and_order(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc := open(t, dir)
	ctx := context.Background()

	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, wc.WriteFiles(
			ctx,
			map[string]string{
				"e.yaml": "v: " + v + "\n",
			},
		))

		_, err := wc.CommitChanges(
			ctx, "update e.yaml v"+v, "", "",
		)
		require.NoError(t, err)
	}

	hist, err := wc.FileHistory(ctx, "e.yaml", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)

	// Newest first.
	assert.Contains(t, hist[0].Message, "v3")
	assert.Contains(t, hist[1].Message, "v2")
}

func TestFileHistory_untouched_path(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	wc := open(t, dir)

	hist, err := wc.FileHistory(
		context.Background(), "absent.yaml", 5,
	)

	require.NoError(t, err)
	assert.Empty(t, hist)
}

// open wraps workingcopy.Open with a require.
func open(
	tb testing.TB,
	dir string,
) *workingcopy.WorkingCopy {
	tb.Helper()

	wc, err := workingcopy.Open(dir)
	require.NoError(tb, err)

	return wc
}

// seedBareRepo creates a bare repository containing one
// commit on main and returns its path.
func seedBareRepo(tb testing.TB) string {
	tb.Helper()

	src := tb.TempDir()
	initGitRepo(tb, src)

	err := os.WriteFile(
		filepath.Join(src, "seed.txt"),
		[]byte("seed\n"),
		0o600,
	)
	require.NoError(tb, err)

	gitCmd(tb, src, "add", "seed.txt")
	gitCmd(tb, src, "commit", "-m", "seed")

	bare := filepath.Join(tb.TempDir(), "origin.git")
	gitCmd(tb, src, "clone", "--bare", src, bare)

	return bare
}

// initGitRepo creates a git repository with one initial
// commit and a configured identity. Hooks are disabled
// so pre-commit scanners do not interfere.
func initGitRepo(tb testing.TB, dir string) {
	tb.Helper()

	initGitRepoNoIdentity(tb, dir)

	gitCmd(
		tb, dir,
		"config", "user.email", "test@test.com",
	)
	gitCmd(tb, dir, "config", "user.name", "Test")
}

// initGitRepoNoIdentity creates a repository with one
// initial commit but no repo-local user identity, so
// the automation fallback can be observed.
func initGitRepoNoIdentity(
	tb testing.TB,
	dir string,
) {
	tb.Helper()

	gitCmd(tb, dir, "init", "-b", "main")
	gitCmd(
		tb, dir,
		"config", "core.hooksPath", "/dev/null",
	)
	gitCmd(
		tb, dir,
		"-c", "user.name=Init",
		"-c", "user.email=init@test.com",
		"commit", "--allow-empty", "-m", "initial",
	)
}

// gitCmd runs a git command in the given directory.
func gitCmd(
	tb testing.TB,
	dir string,
	args ...string,
) {
	tb.Helper()

	_ = gitOut(tb, dir, args...)
}

// gitOut runs a git command and returns its combined
// output.
func gitOut(
	tb testing.TB,
	dir string,
	args ...string,
) string {
	tb.Helper()

	//nolint:gosec // test helper
	cmd := oe.CommandContext(
		context.Background(), "git", args...,
	)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf(
			"git %v failed: %s: %v",
			args, string(out), err,
		)
	}

	return string(out)
}
