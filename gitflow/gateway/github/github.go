package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	gh "github.com/google/go-github/v68/github"

	"github.com/inventivepotter/promptrepo/gitflow/workflow"
)

// Config holds the settings needed to create a GitHub
// pull request gateway.
type Config struct {
	// RepoOwner is the GitHub user or organisation
	// that owns the repository.
	RepoOwner string
	// Repo is the repository name (without owner).
	Repo string
	// AccessToken is a personal access token or
	// GitHub App token used for authentication.
	AccessToken string
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname (e.g. "git.corp.example.com"). Leave
	// empty for github.com.
	EnterpriseHost string
}

// Gateway creates pull requests on GitHub.
//
// Pattern: Strategy -- implements workflow.PRGateway.
type Gateway struct {
	client    *gh.Client
	repoOwner string
	repo      string
}

// NewGateway validates cfg and returns a Gateway ready
// to create pull requests.
func NewGateway(cfg Config) (*Gateway, error) {
	const errCtx = "creating github gateway"

	if cfg.RepoOwner == "" {
		return nil, fmt.Errorf(
			"%s: repo owner must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	client := gh.NewClient(nil).
		WithAuthToken(cfg.AccessToken)

	if cfg.EnterpriseHost != "" {
		baseURL := "https://" +
			cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			cfg.EnterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w",
				errCtx, err,
			)
		}
	}

	return &Gateway{
		client:    client,
		repoOwner: cfg.RepoOwner,
		repo:      cfg.Repo,
	}, nil
}

// CreatePullRequestIfNotExists opens a pull request from
// branch head into branch base. If GitHub reports that a
// PR already exists for this head/base pair (HTTP 422),
// the open PR is looked up and returned instead.
func (g *Gateway) CreatePullRequestIfNotExists(
	ctx context.Context,
	head string,
	base string,
	title string,
	body string,
	draft bool,
) (*workflow.PRInfo, error) {
	const errCtx = "creating github pull request"

	pr := &gh.NewPullRequest{
		Title: &title,
		Head:  &head,
		Base:  &base,
		Body:  &body,
		Draft: &draft,
	}

	created, resp, err := g.client.PullRequests.Create(
		ctx, g.repoOwner, g.repo, pr,
	)
	if err == nil {
		slog.Info(
			"created pull request",
			"url", created.GetHTMLURL(),
			"number", created.GetNumber(),
		)

		return &workflow.PRInfo{
			Number: created.GetNumber(),
			URL:    created.GetHTMLURL(),
			ID:     created.GetID(),
		}, nil
	}

	// HTTP 422: PR already exists for this head/base
	// pair. Fetch it so callers receive its identity.
	if resp != nil &&
		resp.StatusCode ==
			http.StatusUnprocessableEntity {
		existing, findErr := g.findOpen(
			ctx, head, base,
		)
		if findErr != nil {
			return nil, fmt.Errorf(
				"%s: lookup existing: %w",
				errCtx, findErr,
			)
		}

		slog.Info(
			"reusing existing pull request",
			"url", existing.URL,
			"number", existing.Number,
		)

		return existing, nil
	}

	return nil, fmt.Errorf("%s: %w", errCtx, err)
}

// findOpen returns the open PR for the head/base pair.
func (g *Gateway) findOpen(
	ctx context.Context,
	head string,
	base string,
) (*workflow.PRInfo, error) {
	opts := &gh.PullRequestListOptions{
		State: "open",
		Head:  g.repoOwner + ":" + head,
		Base:  base,
	}

	prs, _, err := g.client.PullRequests.List(
		ctx, g.repoOwner, g.repo, opts,
	)
	if err != nil {
		return nil, err
	}

	if len(prs) == 0 {
		return nil, fmt.Errorf(
			"no open pull request for %s", head,
		)
	}

	found := prs[0]

	return &workflow.PRInfo{
		Number: found.GetNumber(),
		URL:    found.GetHTMLURL(),
		ID:     found.GetID(),
	}, nil
}
