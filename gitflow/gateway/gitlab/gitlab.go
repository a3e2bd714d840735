package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/inventivepotter/promptrepo/gitflow/workflow"
)

// Config holds the settings needed to create a GitLab
// merge request gateway.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com").
	Host string
	// Repo is the full project path
	// (e.g. "org/project").
	Repo string
	// AccessToken is a personal or project access
	// token used for authentication.
	AccessToken string
}

// Gateway creates merge requests on GitLab.
//
// Pattern: Strategy -- implements workflow.PRGateway.
type Gateway struct {
	client *gl.Client
	repo   string
}

// NewGateway validates cfg and returns a Gateway ready
// to create merge requests.
func NewGateway(cfg Config) (*Gateway, error) {
	const errCtx = "creating gitlab gateway"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	client, err := gl.NewClient(
		cfg.AccessToken,
		gl.WithBaseURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Gateway{
		client: client,
		repo:   cfg.Repo,
	}, nil
}

// CreatePullRequestIfNotExists opens a merge request
// from branch head into branch base. If GitLab reports
// that a MR already exists for this source branch
// (HTTP 409), the open MR is looked up and returned
// instead. Draft requests use GitLab's "Draft:" title
// prefix convention.
func (g *Gateway) CreatePullRequestIfNotExists(
	ctx context.Context,
	head string,
	base string,
	title string,
	_ string,
	draft bool,
) (*workflow.PRInfo, error) {
	const errCtx = "creating gitlab merge request"

	if draft {
		title = "Draft: " + title
	}

	opts := gl.CreateMergeRequestOptions{
		Title:        &title,
		SourceBranch: &head,
		TargetBranch: &base,
	}

	created, resp, err := g.client.MergeRequests.CreateMergeRequest(
		g.repo, &opts, gl.WithContext(ctx),
	)
	if err == nil {
		slog.Info(
			"created merge request",
			"url", created.WebURL,
			"iid", created.IID,
		)

		return &workflow.PRInfo{
			Number: int(created.IID),
			URL:    created.WebURL,
			ID:     int64(created.ID),
		}, nil
	}

	// HTTP 409: MR already exists for this source
	// branch. Fetch it so callers receive its
	// identity.
	if resp != nil &&
		resp.StatusCode == http.StatusConflict {
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
			"reusing existing merge request",
			"url", existing.URL,
			"iid", existing.Number,
		)

		return existing, nil
	}

	return nil, fmt.Errorf("%s: %w", errCtx, err)
}

// findOpen returns the open MR for the head/base pair.
func (g *Gateway) findOpen(
	ctx context.Context,
	head string,
	base string,
) (*workflow.PRInfo, error) {
	state := "opened"

	opts := gl.ListProjectMergeRequestsOptions{
		SourceBranch: &head,
		TargetBranch: &base,
		State:        &state,
	}

	mrs, _, err := g.client.MergeRequests.ListProjectMergeRequests(
		g.repo, &opts, gl.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}

	if len(mrs) == 0 {
		return nil, fmt.Errorf(
			"no open merge request for %s", head,
		)
	}

	found := mrs[0]

	return &workflow.PRInfo{
		Number: int(found.IID),
		URL:    found.WebURL,
		ID:     int64(found.ID),
	}, nil
}
