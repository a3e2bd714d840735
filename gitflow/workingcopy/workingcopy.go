package workingcopy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/inventivepotter/promptrepo/gitflow/credurl"
	"github.com/inventivepotter/promptrepo/gitflow/exec"
)

// Fallback commit identity used when the caller
// supplies no author and the clone has none configured.
// The silent substitution mirrors the original save
// behavior; callers that require a real identity must
// pass one explicitly.
const (
	AutomationName  = "PromptRepo Bot"
	AutomationEmail = "bot@promptrepo.local"
)

// WorkingCopy is a local clone of a remote repository.
// Operations on the same directory are not safe to run
// concurrently; callers serialize per repository.
type WorkingCopy struct {
	// Dir is the filesystem location of the clone.
	Dir string
	// RemoteName is the name of the upstream remote.
	RemoteName string
}

// IsRepository reports whether dir contains git
// metadata. The filesystem check is authoritative over
// any persisted clone status.
func IsRepository(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, ".git"))

	return err == nil && fi.IsDir()
}

// Open returns a WorkingCopy for an existing clone.
// Returns ErrNotARepository when dir holds no git
// metadata.
func Open(dir string) (*WorkingCopy, error) {
	const errCtx = "opening working copy"

	if !IsRepository(dir) {
		return nil, fmt.Errorf(
			"%s: %s: %w", errCtx, dir, ErrNotARepository,
		)
	}

	return &WorkingCopy{
		Dir:        dir,
		RemoteName: "origin",
	}, nil
}

// Clone clones remoteURL into dir, checking out branch.
// Whatever occupies dir beforehand is replaced.
// The credential is embedded in the URL for the network
// call only; the configured remote is rewritten to the
// credential-free URL before Clone returns.
func Clone(
	ctx context.Context,
	remoteURL string,
	dir string,
	branch string,
	credential string,
	hosting credurl.Hosting,
) (*WorkingCopy, error) {
	const errCtx = "cloning repository"

	cleanURL, err := credurl.Normalize(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	authURL := cleanURL
	if credential != "" {
		authURL, err = credurl.Inject(
			cleanURL, credential, hosting,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	if err := os.MkdirAll(
		filepath.Dir(dir), 0o750,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: create parent dir: %w", errCtx, err,
		)
	}

	// A crashed attempt may have left a partial
	// directory behind; git refuses a non-empty
	// target, so stale content is discarded first.
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf(
			"%s: clear target dir: %w", errCtx, err,
		)
	}

	remoteName := "origin"

	args := []string{
		"clone",
		"--origin", remoteName,
	}
	if branch != "" {
		args = append(args, "--branch", branch)
	}

	args = append(args, authURL, dir)

	out, err := exec.Ex(ctx, "", "git", args...)
	if err != nil {
		return nil, classifyRemoteError(
			errCtx, out, err,
		)
	}

	wc := &WorkingCopy{
		Dir:        dir,
		RemoteName: remoteName,
	}

	// The clone recorded the authenticated URL;
	// replace it with the shareable one.
	if credential != "" {
		if err := wc.setRemoteURL(
			ctx, cleanURL,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	return wc, nil
}

// CurrentBranch returns the checked-out branch name.
// Fails on a detached HEAD.
func (w *WorkingCopy) CurrentBranch(
	ctx context.Context,
) (string, error) {
	const errCtx = "resolving current branch"

	out, err := exec.Ex(
		ctx, w.Dir, "git",
		"rev-parse", "--abbrev-ref", "HEAD",
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	branch := strings.TrimSpace(out)
	if branch == "" || branch == "HEAD" {
		return "", fmt.Errorf(
			"%s: detached HEAD", errCtx,
		)
	}

	return branch, nil
}

// branchExists probes for a local branch. An explicit
// probe keeps control flow out of error handling.
func (w *WorkingCopy) branchExists(
	ctx context.Context,
	name string,
) bool {
	_, err := exec.Ex(
		ctx, w.Dir, "git",
		"rev-parse", "--verify", "--quiet",
		"refs/heads/"+name,
	)

	return err == nil
}

// CheckoutNewBranch switches to base, pulls the latest
// changes when a credential is supplied, then creates
// and checks out name. An already existing local branch
// is checked out instead, so retried saves are
// idempotent.
func (w *WorkingCopy) CheckoutNewBranch(
	ctx context.Context,
	name string,
	base string,
	credential string,
	hosting credurl.Hosting,
) error {
	const errCtx = "checking out branch"

	if out, err := exec.Ex(
		ctx, w.Dir, "git", "checkout", base,
	); err != nil {
		return fmt.Errorf(
			"%s: switch to %s: %w: %s",
			errCtx, base, err, firstLine(out),
		)
	}

	if credential != "" {
		if err := w.PullLatest(
			ctx, credential, "", false, hosting,
		); err != nil {
			// A stale base is tolerable; the save
			// still lands on a valid commit.
			slog.Warn(
				"could not refresh base branch",
				"base", base,
				"error", err,
			)
		}
	}

	if w.branchExists(ctx, name) {
		slog.Info(
			"reusing existing branch",
			"branch", name,
		)

		if out, err := exec.Ex(
			ctx, w.Dir, "git", "checkout", name,
		); err != nil {
			return fmt.Errorf(
				"%s: reuse %s: %w: %s",
				errCtx, name, err, firstLine(out),
			)
		}

		return nil
	}

	if out, err := exec.Ex(
		ctx, w.Dir, "git", "checkout", "-b", name,
	); err != nil {
		return fmt.Errorf(
			"%s: create %s: %w: %s",
			errCtx, name, err, firstLine(out),
		)
	}

	return nil
}

// AddFiles stages the given paths, relative to the
// clone root.
func (w *WorkingCopy) AddFiles(
	ctx context.Context,
	paths ...string,
) error {
	const errCtx = "staging files"

	if len(paths) == 0 {
		return nil
	}

	args := append([]string{"add", "--"}, paths...)

	if out, err := exec.Ex(
		ctx, w.Dir, "git", args...,
	); err != nil {
		return fmt.Errorf(
			"%s: %w: %s", errCtx, err, firstLine(out),
		)
	}

	return nil
}

// WriteFiles materializes path→content pairs inside the
// clone, creating parent directories, and stages them
// in the same call.
func (w *WorkingCopy) WriteFiles(
	ctx context.Context,
	files map[string]string,
) error {
	const errCtx = "writing files"

	paths := make([]string, 0, len(files))

	for rel, content := range files {
		abs := filepath.Join(w.Dir, rel)

		if err := os.MkdirAll(
			filepath.Dir(abs), 0o750,
		); err != nil {
			return fmt.Errorf(
				"%s: mkdir for %s: %w",
				errCtx, rel, err,
			)
		}

		//nolint:gosec // artifact files are shareable
		if err := os.WriteFile(
			abs, []byte(content), 0o644,
		); err != nil {
			return fmt.Errorf(
				"%s: write %s: %w", errCtx, rel, err,
			)
		}

		paths = append(paths, rel)
	}

	return w.AddFiles(ctx, paths...)
}

// hasChanges reports whether the working tree has any
// tracked or untracked modifications.
func (w *WorkingCopy) hasChanges(
	ctx context.Context,
) (bool, error) {
	out, err := exec.Ex(
		ctx, w.Dir, "git", "status", "--porcelain",
	)
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(out) != "", nil
}

// CommitChanges commits the staged and tracked changes
// and returns the new commit hash. When the caller
// supplies no author and the clone has none configured,
// the automation identity is used. Returns
// ErrNothingToCommit when the tree is clean.
func (w *WorkingCopy) CommitChanges(
	ctx context.Context,
	message string,
	authorName string,
	authorEmail string,
) (string, error) {
	const errCtx = "committing changes"

	changed, err := w.hasChanges(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	if !changed {
		return "", fmt.Errorf(
			"%s: %w", errCtx, ErrNothingToCommit,
		)
	}

	if err := w.configureAuthor(
		ctx, authorName, authorEmail,
	); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	if out, err := exec.Ex(
		ctx, w.Dir, "git", "commit", "-m", message,
	); err != nil {
		return "", fmt.Errorf(
			"%s: %w: %s", errCtx, err, firstLine(out),
		)
	}

	hash, err := exec.Ex(
		ctx, w.Dir, "git", "rev-parse", "HEAD",
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: resolve hash: %w", errCtx, err,
		)
	}

	return strings.TrimSpace(hash), nil
}

// configureAuthor sets the repo-local commit identity.
// Explicit arguments win; otherwise an existing
// configured identity is kept; otherwise the automation
// identity is written.
func (w *WorkingCopy) configureAuthor(
	ctx context.Context,
	name string,
	email string,
) error {
	configured := func(key string) bool {
		out, err := exec.Ex(
			ctx, w.Dir, "git", "config", "--get", key,
		)

		return err == nil &&
			strings.TrimSpace(out) != ""
	}

	if name == "" && !configured("user.name") {
		name = AutomationName
	}

	if email == "" && !configured("user.email") {
		email = AutomationEmail
	}

	if name != "" {
		if _, err := exec.Ex(
			ctx, w.Dir, "git",
			"config", "user.name", name,
		); err != nil {
			return err
		}
	}

	if email != "" {
		if _, err := exec.Ex(
			ctx, w.Dir, "git",
			"config", "user.email", email,
		); err != nil {
			return err
		}
	}

	return nil
}

// PushBranch pushes branch directly to the
// authenticated form of remoteURL. Pushing to an
// explicit URL instead of a configured remote keeps the
// credential out of the repository configuration. The
// local commit survives a failed push, so retries are
// cheap.
func (w *WorkingCopy) PushBranch(
	ctx context.Context,
	credential string,
	branch string,
	remoteURL string,
	hosting credurl.Hosting,
) error {
	const errCtx = "pushing branch"

	pushURL, err := credurl.Normalize(remoteURL)
	if err != nil {
		// Non-URL remotes (local paths in tests and
		// mirrors) are pushed to as-is.
		pushURL = remoteURL
	} else if credential != "" {
		pushURL, err = credurl.Inject(
			pushURL, credential, hosting,
		)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	out, err := exec.Ex(
		ctx, w.Dir, "git",
		"push", pushURL,
		branch+":"+branch,
	)
	if err != nil {
		return classifyRemoteError(errCtx, out, err)
	}

	slog.Info(
		"pushed branch",
		"branch", branch,
		"remote", exec.Redact(pushURL),
	)

	return nil
}

// remoteURL returns the configured URL of the upstream
// remote.
func (w *WorkingCopy) remoteURL(
	ctx context.Context,
) (string, error) {
	out, err := exec.Ex(
		ctx, w.Dir, "git",
		"remote", "get-url", w.RemoteName,
	)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(out), nil
}

// setRemoteURL rewrites the upstream remote URL.
func (w *WorkingCopy) setRemoteURL(
	ctx context.Context,
	url string,
) error {
	_, err := exec.Ex(
		ctx, w.Dir, "git",
		"remote", "set-url", w.RemoteName, url,
	)

	return err
}

// PullLatest pulls the upstream state of the current
// branch, optionally switching to branch first. When
// force is set, local changes are stashed beforehand so
// the tree is guaranteed clean afterwards. Whatever the
// outcome of the network call, the configured remote is
// restored to its credential-free URL.
func (w *WorkingCopy) PullLatest(
	ctx context.Context,
	credential string,
	branch string,
	force bool,
	hosting credurl.Hosting,
) error {
	const errCtx = "pulling latest"

	if branch != "" {
		if out, err := exec.Ex(
			ctx, w.Dir, "git", "checkout", branch,
		); err != nil {
			return fmt.Errorf(
				"%s: switch to %s: %w: %s",
				errCtx, branch, err, firstLine(out),
			)
		}
	}

	if force {
		changed, err := w.hasChanges(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		if changed {
			if out, err := exec.Ex(
				ctx, w.Dir, "git",
				"stash", "--include-untracked",
			); err != nil {
				return fmt.Errorf(
					"%s: stash: %w: %s",
					errCtx, err, firstLine(out),
				)
			}
		}
	}

	origURL, err := w.remoteURL(ctx)
	if err != nil {
		return fmt.Errorf(
			"%s: read remote url: %w", errCtx, err,
		)
	}

	cleanURL := origURL
	if norm, nerr := credurl.Strip(
		origURL,
	); nerr == nil {
		cleanURL = norm
	}

	if credential != "" {
		authURL, ierr := credurl.Inject(
			cleanURL, credential, hosting,
		)
		if ierr != nil {
			return fmt.Errorf(
				"%s: %w", errCtx, ierr,
			)
		}

		if serr := w.setRemoteURL(
			ctx, authURL,
		); serr != nil {
			return fmt.Errorf(
				"%s: set remote url: %w",
				errCtx, serr,
			)
		}

		// Restore runs on success and failure alike;
		// the credential must never outlive the call.
		defer func() {
			if rerr := w.setRemoteURL(
				context.WithoutCancel(ctx), cleanURL,
			); rerr != nil {
				slog.Error(
					"failed to restore remote url",
					"error", rerr,
				)
			}
		}()
	}

	pullArgs := []string{
		"pull", "--ff-only", w.RemoteName,
	}
	if branch != "" {
		pullArgs = append(pullArgs, branch)
	}

	out, err := exec.Ex(
		ctx, w.Dir, "git", pullArgs...,
	)
	if err != nil {
		return classifyRemoteError(errCtx, out, err)
	}

	return nil
}
