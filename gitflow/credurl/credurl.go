package credurl

import (
	"fmt"
	"net/url"
	"strings"
)

// Hosting identifies a git hosting platform. The set is
// closed; dispatch happens through userinfoFor rather
// than per-platform types.
type Hosting int

const (
	// HostingGeneric embeds the token as a bare
	// userinfo username.
	HostingGeneric Hosting = iota
	// HostingGitHub uses the x-access-token username
	// convention of GitHub App and PAT tokens.
	HostingGitHub
	// HostingGitLab uses the oauth2 username
	// convention.
	HostingGitLab
	// HostingBitbucket uses the x-token-auth username
	// convention of Bitbucket access tokens.
	HostingBitbucket
)

// String returns the lowercase platform name.
func (h Hosting) String() string {
	switch h {
	case HostingGitHub:
		return "github"
	case HostingGitLab:
		return "gitlab"
	case HostingBitbucket:
		return "bitbucket"
	case HostingGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// ParseHosting converts a platform name to a Hosting
// value. Unknown names map to HostingGeneric.
func ParseHosting(name string) Hosting {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "github":
		return HostingGitHub
	case "gitlab":
		return HostingGitLab
	case "bitbucket":
		return HostingBitbucket
	default:
		return HostingGeneric
	}
}

// userinfoFor maps each hosting platform to its token
// userinfo convention.
var userinfoFor = map[Hosting]func(token string) *url.Userinfo{
	HostingGitHub: func(token string) *url.Userinfo {
		return url.UserPassword("x-access-token", token)
	},
	HostingGitLab: func(token string) *url.Userinfo {
		return url.UserPassword("oauth2", token)
	},
	HostingBitbucket: func(token string) *url.Userinfo {
		return url.UserPassword("x-token-auth", token)
	},
	HostingGeneric: func(token string) *url.Userinfo {
		return url.User(token)
	},
}

// Detect guesses the hosting platform from the URL
// host. Unknown hosts yield HostingGeneric.
func Detect(rawURL string) Hosting {
	norm, err := Normalize(rawURL)
	if err != nil {
		return HostingGeneric
	}

	u, err := url.Parse(norm)
	if err != nil {
		return HostingGeneric
	}

	host := strings.ToLower(u.Hostname())

	switch {
	case host == "github.com" ||
		strings.HasPrefix(host, "github."):
		return HostingGitHub
	case strings.Contains(host, "gitlab"):
		return HostingGitLab
	case strings.Contains(host, "bitbucket"):
		return HostingBitbucket
	default:
		return HostingGeneric
	}
}

// Inject embeds token into rawURL using the platform's
// userinfo convention. The URL is normalized first, so
// any previously embedded credential is replaced rather
// than stacked. Non-https URLs are returned unchanged.
func Inject(
	rawURL string,
	token string,
	hosting Hosting,
) (string, error) {
	const errCtx = "injecting credential"

	norm, err := Normalize(rawURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	u, err := url.Parse(norm)
	if err != nil {
		return "", fmt.Errorf(
			"%s: parse url: %w", errCtx, err,
		)
	}

	if u.Scheme != "https" {
		return norm, nil
	}

	mk, ok := userinfoFor[hosting]
	if !ok {
		mk = userinfoFor[HostingGeneric]
	}

	u.User = mk(token)

	return u.String(), nil
}

// Strip removes any embedded credential from rawURL and
// returns the normalized, shareable form.
func Strip(rawURL string) (string, error) {
	const errCtx = "stripping credential"

	norm, err := Normalize(rawURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return norm, nil
}

// Normalize canonicalizes a remote URL: trims
// whitespace, rewrites scp-like ssh forms
// (git@host:owner/repo.git) to https, upgrades http to
// https, removes userinfo, and ensures the .git suffix
// on https URLs.
func Normalize(rawURL string) (string, error) {
	const errCtx = "normalizing remote url"

	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", fmt.Errorf(
			"%s: url must not be empty", errCtx,
		)
	}

	// scp-like ssh form has no scheme separator.
	if strings.HasPrefix(s, "git@") &&
		strings.Contains(s, ":") &&
		!strings.Contains(s, "://") {
		parts := strings.SplitN(
			strings.TrimPrefix(s, "git@"), ":", 2,
		)
		s = "https://" + parts[0] + "/" + parts[1]
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf(
			"%s: parse url: %w", errCtx, err,
		)
	}

	if u.Scheme == "http" {
		u.Scheme = "https"
	}

	u.User = nil

	if u.Scheme == "https" {
		u.Path = strings.TrimSuffix(u.Path, "/")
		if u.Path != "" &&
			!strings.HasSuffix(u.Path, ".git") {
			u.Path += ".git"
		}
	}

	return u.String(), nil
}
