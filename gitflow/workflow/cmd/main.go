// Command save_artifact publishes a saved artifact file
// as a git change set. It heals the user's repository
// clone, commits the artifact on an update branch,
// pushes it, and opens a pull request on the configured
// git hosting platform. It can also report working copy
// status and per-file commit history.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/inventivepotter/promptrepo/gitflow/config"
	"github.com/inventivepotter/promptrepo/gitflow/credurl"
	"github.com/inventivepotter/promptrepo/gitflow/gateway/bitbucket"
	"github.com/inventivepotter/promptrepo/gitflow/gateway/github"
	"github.com/inventivepotter/promptrepo/gitflow/gateway/gitlab"
	"github.com/inventivepotter/promptrepo/gitflow/lifecycle"
	"github.com/inventivepotter/promptrepo/gitflow/workflow"
	"github.com/inventivepotter/promptrepo/gitflow/workingcopy"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // CLI flag setup is inherently long
func run() error {
	const errCtx = "running save_artifact"

	mode := flag.String(
		"mode", "save",
		"Operation: save, status, or history",
	)

	// Repository flags.
	configPath := flag.String(
		"config", "repos.yaml",
		"Path to the repository configuration file",
	)
	reposRoot := flag.String(
		"repos_root", "",
		"Root directory for repository clones",
	)
	storeDSN := flag.String(
		"store_dsn", "",
		"Postgres DSN for clone records "+
			"(empty: in-memory)",
	)

	// Save flags.
	user := flag.String(
		"user", "",
		"User owning the repository clone",
	)
	repo := flag.String(
		"repo", "",
		"Configured repository name",
	)
	file := flag.String(
		"file", "",
		"Artifact path relative to the repo root",
	)
	contentFile := flag.String(
		"content_file", "",
		"Local file holding the artifact content "+
			"(empty: file already in working copy)",
	)
	token := flag.String(
		"access_token", "",
		"Credential for clone, push, and PR calls",
	)
	authorName := flag.String(
		"author_name", "",
		"Commit author name",
	)
	authorEmail := flag.String(
		"author_email", "",
		"Commit author email",
	)
	draft := flag.Bool(
		"draft", false,
		"Open the pull request as a draft",
	)
	hostingName := flag.String(
		"hosting", "",
		"Hosting platform override: github, "+
			"gitlab, or bitbucket "+
			"(empty: from configuration)",
	)

	// History flags.
	historyLimit := flag.Int(
		"history_limit", 10,
		"Maximum commits to list in history mode",
	)

	// GitHub-specific flags.
	ghRepoOwner := flag.String(
		"github_repo_owner", "",
		"GitHub repository owner",
	)
	ghRepo := flag.String(
		"github_repo", "",
		"GitHub repository name",
	)
	ghEnterprise := flag.String(
		"github_enterprise_host", "",
		"GitHub Enterprise hostname",
	)

	// GitLab-specific flags.
	glHost := flag.String(
		"gitlab_host", "",
		"GitLab instance URL",
	)
	glRepo := flag.String(
		"gitlab_repo", "",
		"GitLab project path (org/project)",
	)

	// Bitbucket-specific flags.
	bbEndpoint := flag.String(
		"bitbucket_api_endpoint", "",
		"Bitbucket Server REST API URL",
	)
	bbProjectKey := flag.String(
		"bitbucket_project_key", "",
		"Bitbucket project key",
	)
	bbRepoSlug := flag.String(
		"bitbucket_repo_slug", "",
		"Bitbucket repository slug",
	)
	bbUser := flag.String(
		"bitbucket_user", "",
		"Bitbucket API username",
	)
	bbPassword := flag.String(
		"bitbucket_password", "",
		"Bitbucket API password or token",
	)

	flag.Parse()

	if *user == "" || *repo == "" {
		return fmt.Errorf(
			"%s: -user and -repo must be set",
			errCtx,
		)
	}

	provider, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	store, err := newStore(*storeDSN)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	manager := lifecycle.NewManager(store, *reposRoot)
	ctx := context.Background()

	switch *mode {
	case "save":
		hosting, err := provider.HostingForRepo(
			ctx, *user, *repo,
		)
		if err != nil {
			return fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		if *hostingName != "" {
			hosting = credurl.ParseHosting(
				*hostingName,
			)
		}

		gateway, err := newPRGateway(
			hosting,
			gatewayFlags{
				ghRepoOwner:  *ghRepoOwner,
				ghRepo:       *ghRepo,
				ghEnterprise: *ghEnterprise,
				glHost:       *glHost,
				glRepo:       *glRepo,
				bbEndpoint:   *bbEndpoint,
				bbProjectKey: *bbProjectKey,
				bbRepoSlug:   *bbRepoSlug,
				bbUser:       *bbUser,
				bbPassword:   *bbPassword,
				token:        *token,
			},
		)
		if err != nil {
			return fmt.Errorf(
				"%s: create gateway: %w",
				errCtx, err,
			)
		}

		return runSave(ctx, saveParams{
			provider:    provider,
			manager:     manager,
			gateway:     gateway,
			user:        *user,
			repo:        *repo,
			file:        *file,
			contentFile: *contentFile,
			token:       *token,
			authorName:  *authorName,
			authorEmail: *authorEmail,
			draft:       *draft,
		})

	case "status":
		return runStatus(
			ctx, manager, *user, *repo,
		)

	case "history":
		return runHistory(
			ctx, manager,
			*user, *repo, *file, *historyLimit,
		)

	default:
		return fmt.Errorf(
			"%s: unknown mode %q", errCtx, *mode,
		)
	}
}

// newStore selects the record store. An empty DSN keeps
// records in process memory.
func newStore(dsn string) (lifecycle.Store, error) {
	if dsn == "" {
		return lifecycle.NewMemoryStore(), nil
	}

	store, err := lifecycle.NewPostgresStore(dsn)
	if err != nil {
		return nil, err
	}

	if err := store.EnsureSchema(
		context.Background(),
	); err != nil {
		return nil, err
	}

	return store, nil
}

// saveParams bundles save-mode inputs to keep runSave
// under the 4-argument limit.
type saveParams struct {
	provider    *config.Provider
	manager     *lifecycle.Manager
	gateway     workflow.PRGateway
	user        string
	repo        string
	file        string
	contentFile string
	token       string
	authorName  string
	authorEmail string
	draft       bool
}

func runSave(
	ctx context.Context,
	p saveParams,
) error {
	const errCtx = "saving artifact"

	if p.file == "" {
		return fmt.Errorf(
			"%s: -file must be set", errCtx,
		)
	}

	var content string

	if p.contentFile != "" {
		raw, err := os.ReadFile(p.contentFile)
		if err != nil {
			return fmt.Errorf(
				"%s: reading content: %w",
				errCtx, err,
			)
		}

		content = string(raw)
	}

	orch := workflow.NewOrchestrator(
		p.provider, p.manager, p.gateway,
	)

	pr, err := orch.HandleSave(
		ctx, workflow.SaveRequest{
			UserID:      p.user,
			RepoName:    p.repo,
			FilePath:    p.file,
			Content:     content,
			Credential:  p.token,
			AuthorName:  p.authorName,
			AuthorEmail: p.authorEmail,
			Draft:       p.draft,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if pr != nil {
		fmt.Printf(
			"pull request #%d %s\n",
			pr.Number, pr.URL,
		)
	}

	return nil
}

func runStatus(
	ctx context.Context,
	manager *lifecycle.Manager,
	user string,
	repo string,
) error {
	const errCtx = "reading status"

	wc, err := workingcopy.Open(
		manager.LocalPath(user, repo),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	st, err := wc.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	fmt.Printf("branch: %s\n", st.Branch)
	fmt.Printf("dirty: %v\n", st.Dirty)
	fmt.Printf("ahead: %d\n", st.CommitsAhead)
	fmt.Printf("last commit: %s\n", st.LastCommit)

	for _, f := range st.Staged {
		fmt.Printf("staged: %s\n", f)
	}

	for _, f := range st.Modified {
		fmt.Printf("modified: %s\n", f)
	}

	for _, f := range st.Untracked {
		fmt.Printf("untracked: %s\n", f)
	}

	return nil
}

func runHistory(
	ctx context.Context,
	manager *lifecycle.Manager,
	user string,
	repo string,
	file string,
	limit int,
) error {
	const errCtx = "reading history"

	if file == "" {
		return fmt.Errorf(
			"%s: -file must be set", errCtx,
		)
	}

	wc, err := workingcopy.Open(
		manager.LocalPath(user, repo),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	commits, err := wc.FileHistory(ctx, file, limit)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	for _, c := range commits {
		fmt.Printf(
			"%s %s %s <%s> %s\n",
			c.Hash[:8],
			c.Timestamp.Format("2006-01-02"),
			c.AuthorName,
			c.AuthorEmail,
			c.Message,
		)
	}

	return nil
}

// gatewayFlags bundles platform-specific flag values to
// keep newPRGateway under the 4-argument limit.
type gatewayFlags struct {
	ghRepoOwner  string
	ghRepo       string
	ghEnterprise string
	glHost       string
	glRepo       string
	bbEndpoint   string
	bbProjectKey string
	bbRepoSlug   string
	bbUser       string
	bbPassword   string
	token        string
}

// newPRGateway creates a workflow.PRGateway for the
// repository's hosting platform. Pattern: Factory --
// selects platform implementation at runtime. A generic
// host yields no gateway; saves then push without a PR.
func newPRGateway(
	hosting credurl.Hosting,
	gf gatewayFlags,
) (workflow.PRGateway, error) {
	const errCtx = "creating pr gateway"

	switch hosting {
	case credurl.HostingGitHub:
		g, err := github.NewGateway(github.Config{
			RepoOwner:      gf.ghRepoOwner,
			Repo:           gf.ghRepo,
			AccessToken:    gf.token,
			EnterpriseHost: gf.ghEnterprise,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return g, nil

	case credurl.HostingGitLab:
		g, err := gitlab.NewGateway(gitlab.Config{
			Host:        gf.glHost,
			Repo:        gf.glRepo,
			AccessToken: gf.token,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return g, nil

	case credurl.HostingBitbucket:
		g, err := bitbucket.NewGateway(
			bitbucket.Config{
				APIEndpoint: gf.bbEndpoint,
				ProjectKey:  gf.bbProjectKey,
				RepoSlug:    gf.bbRepoSlug,
				User:        gf.bbUser,
				Password:    gf.bbPassword,
			},
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return g, nil

	default:
		return nil, nil
	}
}
