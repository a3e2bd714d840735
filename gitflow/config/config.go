package config

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/inventivepotter/promptrepo/gitflow/credurl"
	"github.com/inventivepotter/promptrepo/gitflow/lifecycle"
	"github.com/inventivepotter/promptrepo/gitflow/workflow"
)

// RepoEntry is one configured repository of a user.
type RepoEntry struct {
	// Name is the repository name used in save
	// requests and record keys.
	Name string `yaml:"name"`
	// URL is the remote clone URL.
	URL string `yaml:"url"`
	// Branch is the base branch saves branch from.
	// Defaults to "main".
	Branch string `yaml:"branch"`
	// Hosting names the platform ("github",
	// "gitlab", "bitbucket"). When empty it is
	// detected from URL.
	Hosting string `yaml:"hosting"`
}

// UserEntry groups the repositories of one user.
type UserEntry struct {
	Repos []RepoEntry `yaml:"repos"`
}

// fileConfig is the YAML document root.
type fileConfig struct {
	Users map[string]UserEntry `yaml:"users"`
}

// repoKey addresses one (user, repository) pair.
type repoKey struct {
	userID   string
	repoName string
}

// repoSettings is the resolved form of a RepoEntry.
type repoSettings struct {
	url     string
	branch  string
	hosting credurl.Hosting
}

// Provider resolves per-(user, repository) settings
// from a YAML file loaded once at startup. It
// implements workflow.ConfigProvider.
type Provider struct {
	repos map[repoKey]repoSettings
}

// Load reads and validates the YAML configuration at
// path.
func Load(path string) (*Provider, error) {
	const errCtx = "loading repo configuration"

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return Parse(raw)
}

// Parse validates raw YAML configuration bytes.
func Parse(raw []byte) (*Provider, error) {
	const errCtx = "parsing repo configuration"

	var doc fileConfig

	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf(
			"%s: decoding yaml: %w", errCtx, err,
		)
	}

	repos := make(map[repoKey]repoSettings)

	for userID, entry := range doc.Users {
		if userID == "" {
			return nil, fmt.Errorf(
				"%s: empty user id", errCtx,
			)
		}

		for _, re := range entry.Repos {
			if re.Name == "" {
				return nil, fmt.Errorf(
					"%s: user %q: repo name must be set",
					errCtx, userID,
				)
			}

			if re.URL == "" {
				return nil, fmt.Errorf(
					"%s: user %q repo %q: url must be set",
					errCtx, userID, re.Name,
				)
			}

			branch := re.Branch
			if branch == "" {
				branch = "main"
			}

			hosting, err := resolveHosting(re)
			if err != nil {
				return nil, fmt.Errorf(
					"%s: user %q repo %q: %w",
					errCtx, userID, re.Name, err,
				)
			}

			key := repoKey{
				userID:   userID,
				repoName: re.Name,
			}

			if _, dup := repos[key]; dup {
				return nil, fmt.Errorf(
					"%s: user %q repo %q: duplicate entry",
					errCtx, userID, re.Name,
				)
			}

			repos[key] = repoSettings{
				url:     re.URL,
				branch:  branch,
				hosting: hosting,
			}
		}
	}

	return &Provider{repos: repos}, nil
}

func resolveHosting(
	re RepoEntry,
) (credurl.Hosting, error) {
	if re.Hosting == "" {
		return credurl.Detect(re.URL), nil
	}

	hosting := credurl.ParseHosting(re.Hosting)
	if hosting == credurl.HostingGeneric &&
		re.Hosting != "generic" {
		return hosting, fmt.Errorf(
			"unknown hosting %q", re.Hosting,
		)
	}

	return hosting, nil
}

// BaseBranchForRepo returns the configured base branch.
func (p *Provider) BaseBranchForRepo(
	_ context.Context,
	userID string,
	repoName string,
) (string, error) {
	rs, err := p.lookup(userID, repoName)
	if err != nil {
		return "", err
	}

	return rs.branch, nil
}

// RepoURLForRepo returns the configured remote URL.
func (p *Provider) RepoURLForRepo(
	_ context.Context,
	userID string,
	repoName string,
) (string, error) {
	rs, err := p.lookup(userID, repoName)
	if err != nil {
		return "", err
	}

	return rs.url, nil
}

// HostingForRepo returns the hosting platform of the
// repository's remote.
func (p *Provider) HostingForRepo(
	_ context.Context,
	userID string,
	repoName string,
) (credurl.Hosting, error) {
	rs, err := p.lookup(userID, repoName)
	if err != nil {
		return credurl.HostingGeneric, err
	}

	return rs.hosting, nil
}

// ReposForUser lists the user's repositories in name
// order, ready to hand to the lifecycle manager.
func (p *Provider) ReposForUser(
	userID string,
) []lifecycle.RepoConfig {
	var out []lifecycle.RepoConfig

	for key, rs := range p.repos {
		if key.userID != userID {
			continue
		}

		out = append(out, lifecycle.RepoConfig{
			Name:     key.repoName,
			CloneURL: rs.url,
			Branch:   rs.branch,
			Hosting:  rs.hosting,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out
}

func (p *Provider) lookup(
	userID string,
	repoName string,
) (repoSettings, error) {
	rs, ok := p.repos[repoKey{
		userID:   userID,
		repoName: repoName,
	}]
	if !ok {
		return repoSettings{}, fmt.Errorf(
			"user %q repo %q not configured: %w",
			userID, repoName,
			workflow.ErrConfiguration,
		)
	}

	return rs, nil
}
