package bitbucket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/inventivepotter/promptrepo/gitflow/workflow"
)

// Config holds the settings needed to create a
// Bitbucket Server pull request gateway.
type Config struct {
	// APIEndpoint is the full Bitbucket Server REST
	// API URL for pull requests, including project
	// and repo path (e.g.
	// "https://bb.example.com/rest/api/1.0/
	// projects/PROJ/repos/repo/pull-requests").
	APIEndpoint string
	// ProjectKey is the Bitbucket project key
	// (e.g. "PROJ").
	ProjectKey string
	// RepoSlug is the repository slug within the
	// project.
	RepoSlug string
	// User is the Bitbucket API username.
	User string
	// Password is the Bitbucket API password (or
	// personal access token).
	Password string
}

// Gateway creates pull requests on Bitbucket Server.
//
// Pattern: Strategy -- implements workflow.PRGateway.
type Gateway struct {
	endpoint   string
	projectKey string
	repoSlug   string
	user       string
	password   string
	httpClient *http.Client
}

type project struct {
	Key string `json:"key,omitempty"`
}

type repository struct {
	Slug    string  `json:"slug,omitempty"`
	Project project `json:"project"`
}

type pullrequestEndpoint struct {
	ID         string     `json:"id,omitempty"`
	Repository repository `json:"repository,omitempty"`
}

type pullrequest struct {
	ID          int64                `json:"id,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	State       string               `json:"state,omitempty"`
	Open        bool                 `json:"open"`
	Closed      bool                 `json:"closed"`
	FromRef     *pullrequestEndpoint `json:"fromRef,omitempty"`
	ToRef       *pullrequestEndpoint `json:"toRef,omitempty"`
	Locked      bool                 `json:"locked"`
	Reviewers   []account            `json:"reviewers,omitempty"`
	Links       *links               `json:"links,omitempty"`
}

type account struct {
	User user `json:"user"`
}

type user struct {
	Name string `json:"name,omitempty"`
}

type links struct {
	Self []link `json:"self,omitempty"`
}

type link struct {
	Href string `json:"href,omitempty"`
}

type pullrequestPage struct {
	Values []pullrequest `json:"values"`
}

// NewGateway validates cfg and returns a Gateway ready
// to create pull requests.
func NewGateway(cfg Config) (*Gateway, error) {
	const errCtx = "creating bitbucket gateway"

	if cfg.APIEndpoint == "" {
		return nil, fmt.Errorf(
			"%s: api endpoint must be set",
			errCtx,
		)
	}

	if cfg.ProjectKey == "" {
		return nil, fmt.Errorf(
			"%s: project key must be set", errCtx,
		)
	}

	if cfg.RepoSlug == "" {
		return nil, fmt.Errorf(
			"%s: repo slug must be set", errCtx,
		)
	}

	if cfg.User == "" {
		return nil, fmt.Errorf(
			"%s: user must be set", errCtx,
		)
	}

	if cfg.Password == "" {
		return nil, fmt.Errorf(
			"%s: password must be set", errCtx,
		)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil

	return &Gateway{
		endpoint:   cfg.APIEndpoint,
		projectKey: cfg.ProjectKey,
		repoSlug:   cfg.RepoSlug,
		user:       cfg.User,
		password:   cfg.Password,
		httpClient: rc.StandardClient(),
	}, nil
}

// CreatePullRequestIfNotExists opens a pull request from
// branch head into branch base. On HTTP 409 (a PR is
// already open for this branch pair) the existing PR is
// looked up and returned instead. Bitbucket Server has
// no draft state, so draft is ignored.
func (g *Gateway) CreatePullRequestIfNotExists(
	ctx context.Context,
	head string,
	base string,
	title string,
	body string,
	_ bool,
) (*workflow.PRInfo, error) {
	const errCtx = "creating bitbucket pull request"

	repo := repository{
		Slug:    g.repoSlug,
		Project: project{Key: g.projectKey},
	}

	pr := pullrequest{
		Title:       title,
		Description: body,
		State:       "OPEN",
		Open:        true,
		Closed:      false,
		FromRef: &pullrequestEndpoint{
			ID:         "refs/heads/" + head,
			Repository: repo,
		},
		ToRef: &pullrequestEndpoint{
			ID:         "refs/heads/" + base,
			Repository: repo,
		},
		Locked:    false,
		Reviewers: []account{},
	}

	payload, err := json.Marshal(&pr)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: marshal request: %w", errCtx, err,
		)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		g.endpoint,
		bytes.NewBuffer(payload),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	req.Header.Set(
		"Content-Type",
		"application/json; charset=utf-8",
	)
	req.SetBasicAuth(g.user, g.password)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: send request: %w", errCtx, err,
		)
	}
	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: read response: %w", errCtx, err,
		)
	}

	// 201 Created: PR was created successfully.
	if resp.StatusCode == http.StatusCreated {
		var created pullrequest

		if err := json.Unmarshal(rb, &created); err != nil {
			return nil, fmt.Errorf(
				"%s: decode response: %w",
				errCtx, err,
			)
		}

		info := asInfo(&created)

		slog.Info(
			"created pull request",
			"url", info.URL,
			"id", info.ID,
		)

		return info, nil
	}

	// 409 Conflict: PR already exists. Fetch it so
	// callers receive its identity.
	if resp.StatusCode == http.StatusConflict {
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
			"id", existing.ID,
		)

		return existing, nil
	}

	slog.Warn(
		"bitbucket response",
		"status", resp.Status,
		"body", string(rb),
	)

	return nil, fmt.Errorf(
		"%s: unexpected status %d",
		errCtx, resp.StatusCode,
	)
}

// findOpen returns the open PR for the head/base pair.
func (g *Gateway) findOpen(
	ctx context.Context,
	head string,
	base string,
) (*workflow.PRInfo, error) {
	query := url.Values{}
	query.Set("state", "OPEN")
	query.Set("direction", "OUTGOING")
	query.Set("at", "refs/heads/"+head)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		g.endpoint+"?"+query.Encode(),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(g.user, g.password)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"unexpected status %d",
			resp.StatusCode,
		)
	}

	var page pullrequestPage

	if err := json.NewDecoder(resp.Body).
		Decode(&page); err != nil {
		return nil, fmt.Errorf(
			"decode response: %w", err,
		)
	}

	want := "refs/heads/" + base

	for i := range page.Values {
		found := &page.Values[i]

		if found.ToRef != nil &&
			found.ToRef.ID == want {
			return asInfo(found), nil
		}
	}

	return nil, fmt.Errorf(
		"no open pull request for %s", head,
	)
}

// asInfo maps a Bitbucket PR onto the platform-neutral
// identity. Bitbucket numbers PRs per repository, so
// the ID doubles as the user-facing number.
func asInfo(pr *pullrequest) *workflow.PRInfo {
	info := &workflow.PRInfo{
		Number: int(pr.ID),
		ID:     pr.ID,
	}

	if pr.Links != nil && len(pr.Links.Self) > 0 {
		info.URL = pr.Links.Self[0].Href
	}

	return info
}
