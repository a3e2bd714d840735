package lifecycle_test

import (
	"context"
	"os"
	oe "os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inventivepotter/promptrepo/gitflow/credurl"
	"github.com/inventivepotter/promptrepo/gitflow/lifecycle"
	"github.com/inventivepotter/promptrepo/gitflow/workingcopy"
)

func TestEnsureAvailable_clones_and_is_idempotent(
	t *testing.T,
) {
	t.Parallel()

	bare := seedBareRepo(t)
	store := lifecycle.NewMemoryStore()
	mgr := lifecycle.NewManager(store, t.TempDir())

	cfgs := []lifecycle.RepoConfig{{
		Name:     "prompts",
		CloneURL: bare,
		Branch:   "main",
		Hosting:  credurl.HostingGeneric,
	}}

	ctx := context.Background()

	got := mgr.EnsureAvailable(
		ctx, "alice", cfgs, "",
	)
	require.Equal(t, []string{"prompts"}, got)

	rec, err := store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	assert.Equal(
		t, lifecycle.StatusCloned, rec.Status,
	)
	assert.Equal(
		t,
		mgr.LocalPath("alice", "prompts"),
		rec.LocalPath,
	)
	assert.Empty(t, rec.CloneErrorMsg)

	// Drop a marker in the clone; a second call must
	// not re-clone and wipe it.
	marker := filepath.Join(
		rec.LocalPath, "marker.txt",
	)
	require.NoError(t, os.WriteFile(
		marker, []byte("keep\n"), 0o600,
	))

	got = mgr.EnsureAvailable(ctx, "alice", cfgs, "")
	require.Equal(t, []string{"prompts"}, got)
	assert.FileExists(t, marker)
}

func TestEnsureAvailable_records_clone_failure(
	t *testing.T,
) {
	t.Parallel()

	store := lifecycle.NewMemoryStore()
	mgr := lifecycle.NewManager(store, t.TempDir())

	badURL := filepath.Join(
		t.TempDir(), "no-such-repo.git",
	)

	cfgs := []lifecycle.RepoConfig{{
		Name:     "prompts",
		CloneURL: badURL,
		Branch:   "main",
	}}

	ctx := context.Background()

	got := mgr.EnsureAvailable(
		ctx, "alice", cfgs, "",
	)
	assert.Empty(t, got)

	rec, err := store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	assert.Equal(
		t, lifecycle.StatusFailed, rec.Status,
	)
	assert.NotEmpty(t, rec.CloneErrorMsg)
	assert.Empty(t, rec.LocalPath)
	require.NotNil(t, rec.LastCloneAttempt)
}

func TestEnsureAvailable_retries_failed_record(
	t *testing.T,
) {
	t.Parallel()

	bare := seedBareRepo(t)
	store := lifecycle.NewMemoryStore()
	mgr := lifecycle.NewManager(store, t.TempDir())

	ctx := context.Background()

	// First attempt against a missing remote fails.
	got := mgr.EnsureAvailable(
		ctx, "alice",
		[]lifecycle.RepoConfig{{
			Name: "prompts",
			CloneURL: filepath.Join(
				t.TempDir(), "gone.git",
			),
			Branch: "main",
		}},
		"",
	)
	assert.Empty(t, got)

	// The remote is fixed in configuration; the next
	// call retries and succeeds.
	got = mgr.EnsureAvailable(
		ctx, "alice",
		[]lifecycle.RepoConfig{{
			Name:     "prompts",
			CloneURL: bare,
			Branch:   "main",
		}},
		"",
	)
	require.Equal(t, []string{"prompts"}, got)

	rec, err := store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	assert.Equal(
		t, lifecycle.StatusCloned, rec.Status,
	)
	assert.Empty(t, rec.CloneErrorMsg)
	assert.NotEmpty(t, rec.LocalPath)
}

func TestEnsureAvailable_recovers_deleted_clone(
	t *testing.T,
) {
	t.Parallel()

	bare := seedBareRepo(t)
	store := lifecycle.NewMemoryStore()
	mgr := lifecycle.NewManager(store, t.TempDir())

	cfgs := []lifecycle.RepoConfig{{
		Name:     "prompts",
		CloneURL: bare,
		Branch:   "main",
	}}

	ctx := context.Background()

	got := mgr.EnsureAvailable(
		ctx, "alice", cfgs, "",
	)
	require.Equal(t, []string{"prompts"}, got)

	// Wipe local storage behind the manager's back.
	path := mgr.LocalPath("alice", "prompts")
	require.NoError(t, os.RemoveAll(path))

	got = mgr.EnsureAvailable(ctx, "alice", cfgs, "")
	require.Equal(t, []string{"prompts"}, got)

	assert.True(t, workingcopy.IsRepository(path))

	rec, err := store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	assert.Equal(
		t, lifecycle.StatusCloned, rec.Status,
	)
}

func TestEnsureAvailable_skips_fresh_cloning(
	t *testing.T,
) {
	t.Parallel()

	bare := seedBareRepo(t)
	store := lifecycle.NewMemoryStore()
	mgr := lifecycle.NewManager(store, t.TempDir())

	ctx := context.Background()

	now := time.Now().UTC()
	_, err := store.Insert(ctx, &lifecycle.Record{
		UserID:           "alice",
		CloneURL:         bare,
		RepoName:         "prompts",
		Status:           lifecycle.StatusCloning,
		Branch:           "main",
		LastCloneAttempt: &now,
	})
	require.NoError(t, err)

	got := mgr.EnsureAvailable(
		ctx, "alice",
		[]lifecycle.RepoConfig{{
			Name:     "prompts",
			CloneURL: bare,
			Branch:   "main",
		}},
		"",
	)

	// Assumed in progress elsewhere.
	assert.Empty(t, got)
}

func TestEnsureAvailable_reconciles_stale_cloning(
	t *testing.T,
) {
	t.Parallel()

	bare := seedBareRepo(t)
	store := lifecycle.NewMemoryStore()
	mgr := lifecycle.NewManager(store, t.TempDir())

	ctx := context.Background()

	// A process died mid-clone an hour ago.
	stale := time.Now().UTC().Add(-time.Hour)
	_, err := store.Insert(ctx, &lifecycle.Record{
		UserID:           "alice",
		CloneURL:         bare,
		RepoName:         "prompts",
		Status:           lifecycle.StatusCloning,
		Branch:           "main",
		LastCloneAttempt: &stale,
	})
	require.NoError(t, err)

	got := mgr.EnsureAvailable(
		ctx, "alice",
		[]lifecycle.RepoConfig{{
			Name:     "prompts",
			CloneURL: bare,
			Branch:   "main",
		}},
		"",
	)

	require.Equal(t, []string{"prompts"}, got)

	rec, err := store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	assert.Equal(
		t, lifecycle.StatusCloned, rec.Status,
	)
}

func TestEnsureAvailable_heals_missing_record(
	t *testing.T,
) {
	t.Parallel()

	bare := seedBareRepo(t)
	store := lifecycle.NewMemoryStore()
	mgr := lifecycle.NewManager(store, t.TempDir())

	ctx := context.Background()

	// Materialize the clone without any record, as a
	// previous deployment would have left it.
	path := mgr.LocalPath("alice", "prompts")
	require.NoError(t, os.MkdirAll(
		filepath.Dir(path), 0o750,
	))
	gitCmd(t, "", "clone", bare, path)

	got := mgr.EnsureAvailable(
		ctx, "alice",
		[]lifecycle.RepoConfig{{
			Name:     "prompts",
			CloneURL: bare,
			Branch:   "main",
		}},
		"",
	)

	require.Equal(t, []string{"prompts"}, got)

	rec, err := store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	assert.Equal(
		t, lifecycle.StatusCloned, rec.Status,
	)
	assert.Equal(t, path, rec.LocalPath)
}

func TestLock_serializes_pair(t *testing.T) {
	t.Parallel()

	mgr := lifecycle.NewManager(
		lifecycle.NewMemoryStore(), t.TempDir(),
	)

	unlock := mgr.Lock("alice", "prompts")

	acquired := make(chan struct{})

	go func() {
		u := mgr.Lock("alice", "prompts")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock never released")
	}
}

func TestLock_independent_pairs(t *testing.T) {
	t.Parallel()

	mgr := lifecycle.NewManager(
		lifecycle.NewMemoryStore(), t.TempDir(),
	)

	unlockA := mgr.Lock("alice", "prompts")
	defer unlockA()

	// A different repository must not block.
	done := make(chan struct{})

	go func() {
		u := mgr.Lock("alice", "evals")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated pair blocked")
	}
}

func TestEnsureAvailable_replaces_partial_clone(
	t *testing.T,
) {
	t.Parallel()

	bare := seedBareRepo(t)
	store := lifecycle.NewMemoryStore()
	mgr := lifecycle.NewManager(store, t.TempDir())

	ctx := context.Background()

	// A process died mid-clone an hour ago, leaving a
	// partial directory without git metadata.
	path := mgr.LocalPath("alice", "prompts")
	require.NoError(t, os.MkdirAll(path, 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(path, "partial.txt"),
		[]byte("half\n"), 0o600,
	))

	stale := time.Now().UTC().Add(-time.Hour)
	_, err := store.Insert(ctx, &lifecycle.Record{
		UserID:           "alice",
		CloneURL:         bare,
		RepoName:         "prompts",
		Status:           lifecycle.StatusCloning,
		Branch:           "main",
		LastCloneAttempt: &stale,
	})
	require.NoError(t, err)

	got := mgr.EnsureAvailable(
		ctx, "alice",
		[]lifecycle.RepoConfig{{
			Name:     "prompts",
			CloneURL: bare,
			Branch:   "main",
		}},
		"",
	)

	require.Equal(t, []string{"prompts"}, got)
	assert.True(t, workingcopy.IsRepository(path))
	assert.NoFileExists(
		t, filepath.Join(path, "partial.txt"),
	)

	rec, err := store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	assert.Equal(
		t, lifecycle.StatusCloned, rec.Status,
	)
}

func TestEnsureAvailable_reclones_outdated(
	t *testing.T,
) {
	t.Parallel()

	oldBare := seedBareRepo(t)
	newBare := seedBareRepo(t)
	store := lifecycle.NewMemoryStore()
	mgr := lifecycle.NewManager(store, t.TempDir())

	ctx := context.Background()

	got := mgr.EnsureAvailable(
		ctx, "alice",
		[]lifecycle.RepoConfig{{
			Name:     "prompts",
			CloneURL: oldBare,
			Branch:   "main",
		}},
		"",
	)
	require.Equal(t, []string{"prompts"}, got)

	// The remote moved; a caller marks the clone
	// outdated.
	rec, err := store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	rec.Status = lifecycle.StatusOutdated
	require.NoError(t, store.Update(ctx, rec))

	got = mgr.EnsureAvailable(
		ctx, "alice",
		[]lifecycle.RepoConfig{{
			Name:     "prompts",
			CloneURL: newBare,
			Branch:   "main",
		}},
		"",
	)
	require.Equal(t, []string{"prompts"}, got)

	rec, err = store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	assert.Equal(
		t, lifecycle.StatusCloned, rec.Status,
	)
	assert.Equal(t, newBare, rec.CloneURL)

	// The clone itself must track the new remote.
	origin := gitOut(
		t, mgr.LocalPath("alice", "prompts"),
		"remote", "get-url", "origin",
	)
	assert.Equal(t, newBare, origin)
}

func TestSetStatus_persists_moves(t *testing.T) {
	t.Parallel()

	store := lifecycle.NewMemoryStore()
	mgr := lifecycle.NewManager(store, t.TempDir())

	ctx := context.Background()

	rec, err := store.Insert(ctx, &lifecycle.Record{
		UserID:   "alice",
		CloneURL: "https://github.com/o/r.git",
		RepoName: "prompts",
		Status:   lifecycle.StatusPending,
		Branch:   "main",
	})
	require.NoError(t, err)

	require.NoError(t, lifecycle.SetStatusForTest(
		mgr, ctx, rec, lifecycle.StatusCloning,
	))

	got, err := store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	assert.Equal(
		t, lifecycle.StatusCloning, got.Status,
	)

	// Moves outside the transition table are logged
	// but still written: reconciliation against the
	// filesystem is allowed to force them.
	require.NoError(t, lifecycle.SetStatusForTest(
		mgr, ctx, rec, lifecycle.StatusPending,
	))

	got, err = store.Get(ctx, "alice", "prompts")
	require.NoError(t, err)
	assert.Equal(
		t, lifecycle.StatusPending, got.Status,
	)
}

func TestValidTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from lifecycle.Status
		to   lifecycle.Status
		want bool
	}{
		{
			from: lifecycle.StatusPending,
			to:   lifecycle.StatusCloning,
			want: true,
		},
		{
			from: lifecycle.StatusCloning,
			to:   lifecycle.StatusCloned,
			want: true,
		},
		{
			from: lifecycle.StatusCloning,
			to:   lifecycle.StatusFailed,
			want: true,
		},
		{
			from: lifecycle.StatusFailed,
			to:   lifecycle.StatusCloning,
			want: true,
		},
		{
			from: lifecycle.StatusCloned,
			to:   lifecycle.StatusCloning,
			want: true,
		},
		{
			from: lifecycle.StatusPending,
			to:   lifecycle.StatusCloned,
			want: false,
		},
		{
			from: lifecycle.StatusCloned,
			to:   lifecycle.StatusPending,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(
			string(tt.from)+"->"+string(tt.to),
			func(t *testing.T) {
				t.Parallel()

				got := lifecycle.ValidTransition(
					tt.from, tt.to,
				)
				assert.Equal(t, tt.want, got)
			},
		)
	}
}

// seedBareRepo creates a bare repository with one
// commit on main and returns its path.
func seedBareRepo(tb testing.TB) string {
	tb.Helper()

	src := tb.TempDir()

	gitCmd(tb, src, "init", "-b", "main")
	gitCmd(
		tb, src,
		"config", "user.email", "test@test.com",
	)
	gitCmd(tb, src, "config", "user.name", "Test")
	gitCmd(
		tb, src,
		"config", "core.hooksPath", "/dev/null",
	)

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

// gitOut runs a git command in the given directory and
// returns its trimmed output.
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

	return strings.TrimSpace(string(out))
}

// gitCmd runs a git command in the given directory.
func gitCmd(
	tb testing.TB,
	dir string,
	args ...string,
) {
	tb.Helper()

	//nolint:gosec // test helper
	cmd := oe.CommandContext(
		context.Background(), "git", args...,
	)
	if dir != "" {
		cmd.Dir = dir
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf(
			"git %v failed: %s: %v",
			args, string(out), err,
		)
	}
}
