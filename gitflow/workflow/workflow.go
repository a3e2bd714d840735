package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasttemplate"

	"github.com/inventivepotter/promptrepo/gitflow/credurl"
	"github.com/inventivepotter/promptrepo/gitflow/lifecycle"
	"github.com/inventivepotter/promptrepo/gitflow/workingcopy"
)

// ErrConfiguration means a save cannot proceed because
// the repository configuration or credential is
// incomplete. Fatal for the current save; nothing was
// pushed.
var ErrConfiguration = errors.New(
	"incomplete save configuration",
)

// ErrRepoUnavailable means the repository has no
// healthy local clone and one could not be created.
var ErrRepoUnavailable = errors.New(
	"repository clone unavailable",
)

// ConfigProvider resolves per-(user, repository)
// settings. It is an external collaborator; this
// subsystem only consumes it.
type ConfigProvider interface {
	// BaseBranchForRepo returns the canonical branch
	// saves branch from and PRs target.
	BaseBranchForRepo(
		ctx context.Context,
		userID string,
		repoName string,
	) (string, error)

	// RepoURLForRepo returns the remote URL.
	RepoURLForRepo(
		ctx context.Context,
		userID string,
		repoName string,
	) (string, error)

	// HostingForRepo returns the hosting platform of
	// the repository's remote.
	HostingForRepo(
		ctx context.Context,
		userID string,
		repoName string,
	) (credurl.Hosting, error)
}

// Message templates rendered per save.
const (
	commitMessageTpl = "Update {{file}}"
	prTitleTpl       = "Update {{file}}"
	prBodyTpl        = "Automated update of " +
		"`{{file}}`.\n\nBranch `{{branch}}` " +
		"targets `{{base}}`."
)

// SaveRequest describes one artifact save to publish.
type SaveRequest struct {
	// UserID owns the repository clone.
	UserID string
	// RepoName is the configured repository name.
	RepoName string
	// FilePath is the artifact path relative to the
	// repository root.
	FilePath string
	// Content, when non-empty, is materialized at
	// FilePath before staging. When empty the file is
	// assumed to exist in the working copy already.
	Content string
	// Credential authenticates push and PR calls.
	Credential string
	// AuthorName and AuthorEmail set the commit
	// identity; both may be empty.
	AuthorName  string
	AuthorEmail string
	// Draft requests a draft pull request.
	Draft bool
}

// Orchestrator drives a saved artifact through
// branch→stage→commit→push and optionally a pull
// request.
type Orchestrator struct {
	config  ConfigProvider
	manager *lifecycle.Manager
	gateway PRGateway

	// now is the clock used for branch names.
	now func() time.Time
}

// NewOrchestrator wires the orchestrator. gateway may
// be nil; saves then never request pull requests.
func NewOrchestrator(
	config ConfigProvider,
	manager *lifecycle.Manager,
	gateway PRGateway,
) *Orchestrator {
	return &Orchestrator{
		config:  config,
		manager: manager,
		gateway: gateway,
		now:     time.Now,
	}
}

// HandleSave publishes one saved artifact as a change
// set. It returns the created or reused pull request,
// or nil when no PR was attempted. Push failures are
// returned as errors; the local commit survives them,
// so an identical retry resumes with a cheap re-push.
// PR failures are logged, never returned.
func (o *Orchestrator) HandleSave(
	ctx context.Context,
	req SaveRequest,
) (*PRInfo, error) {
	const errCtx = "handling artifact save"

	base, remoteURL, hosting, err :=
		o.resolveRepoConfig(ctx, req)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	// Credential and remote URL are mandatory for
	// the push; fail before touching the tree.
	if req.Credential == "" {
		return nil, fmt.Errorf(
			"%s: missing credential: %w",
			errCtx, ErrConfiguration,
		)
	}

	// Heal the clone before entering the critical
	// section; EnsureAvailable takes the same lock.
	available := o.manager.EnsureAvailable(
		ctx,
		req.UserID,
		[]lifecycle.RepoConfig{{
			Name:     req.RepoName,
			CloneURL: remoteURL,
			Branch:   base,
			Hosting:  hosting,
		}},
		req.Credential,
	)
	if len(available) == 0 {
		return nil, fmt.Errorf(
			"%s: %s/%s: %w",
			errCtx, req.UserID, req.RepoName,
			ErrRepoUnavailable,
		)
	}

	unlock := o.manager.Lock(
		req.UserID, req.RepoName,
	)
	defer unlock()

	wc, err := workingcopy.Open(
		o.manager.LocalPath(
			req.UserID, req.RepoName,
		),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	current, err := wc.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	// Branch strategy: cut a fresh update branch
	// when sitting on the base branch; otherwise the
	// save lands on the current feature branch.
	branch := current
	createdBranch := false

	if current == base {
		branch = newBranchName(
			req.FilePath, o.now(),
		)

		if err := wc.CheckoutNewBranch(
			ctx, branch, base,
			req.Credential, hosting,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		createdBranch = true
	}

	if err := o.stageAndCommit(
		ctx, wc, req,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if err := wc.PushBranch(
		ctx, req.Credential,
		branch, remoteURL, hosting,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if !createdBranch || o.gateway == nil {
		return nil, nil
	}

	return o.requestPullRequest(
		ctx, req, branch, base,
	), nil
}

// resolveRepoConfig reads base branch, remote URL, and
// hosting platform, mapping failures to configuration
// errors.
func (o *Orchestrator) resolveRepoConfig(
	ctx context.Context,
	req SaveRequest,
) (string, string, credurl.Hosting, error) {
	base, err := o.config.BaseBranchForRepo(
		ctx, req.UserID, req.RepoName,
	)
	if err != nil || base == "" {
		return "", "", 0, fmt.Errorf(
			"base branch for %s: %w",
			req.RepoName, ErrConfiguration,
		)
	}

	remoteURL, err := o.config.RepoURLForRepo(
		ctx, req.UserID, req.RepoName,
	)
	if err != nil || remoteURL == "" {
		return "", "", 0, fmt.Errorf(
			"remote url for %s: %w",
			req.RepoName, ErrConfiguration,
		)
	}

	hosting, err := o.config.HostingForRepo(
		ctx, req.UserID, req.RepoName,
	)
	if err != nil {
		hosting = credurl.Detect(remoteURL)
	}

	return base, remoteURL, hosting, nil
}

// stageAndCommit stages the saved file and commits it.
// A clean tree is not an error here: a retried save
// whose commit already exists proceeds straight to the
// push.
func (o *Orchestrator) stageAndCommit(
	ctx context.Context,
	wc *workingcopy.WorkingCopy,
	req SaveRequest,
) error {
	if req.Content != "" {
		if err := wc.WriteFiles(
			ctx,
			map[string]string{
				req.FilePath: req.Content,
			},
		); err != nil {
			return err
		}
	} else if err := wc.AddFiles(
		ctx, req.FilePath,
	); err != nil {
		return err
	}

	message := renderTemplate(
		commitMessageTpl,
		map[string]any{"file": req.FilePath},
	)

	hash, err := wc.CommitChanges(
		ctx, message,
		req.AuthorName, req.AuthorEmail,
	)

	if errors.Is(
		err, workingcopy.ErrNothingToCommit,
	) {
		slog.Info(
			"no new changes, reusing last commit",
			"file", req.FilePath,
		)

		return nil
	}

	if err != nil {
		return err
	}

	slog.Info(
		"committed artifact",
		"file", req.FilePath,
		"commit", hash,
	)

	return nil
}

// requestPullRequest asks the gateway for a PR on the
// branch pair. Best-effort: any failure is logged and
// the save still reports success without PR info.
func (o *Orchestrator) requestPullRequest(
	ctx context.Context,
	req SaveRequest,
	head string,
	base string,
) *PRInfo {
	vars := map[string]any{
		"file":   req.FilePath,
		"branch": head,
		"base":   base,
	}

	info, err :=
		o.gateway.CreatePullRequestIfNotExists(
			ctx,
			head,
			base,
			renderTemplate(prTitleTpl, vars),
			renderTemplate(prBodyTpl, vars),
			req.Draft,
		)
	if err != nil {
		slog.Warn(
			"pull request creation failed",
			"head", head,
			"base", base,
			"error", err,
		)

		return nil
	}

	if info != nil {
		slog.Info(
			"pull request ready",
			"number", info.Number,
			"url", info.URL,
		)
	}

	return info
}

// renderTemplate expands {{var}} placeholders.
func renderTemplate(
	tpl string,
	vars map[string]any,
) string {
	return fasttemplate.New(
		tpl, "{{", "}}",
	).ExecuteString(vars)
}
