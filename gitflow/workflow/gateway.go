package workflow

import "context"

// Pattern: Strategy -- swap git hosting platform
// without changing the save workflow.

// PRInfo identifies a pull request on the hosting
// platform. The fields are opaque to this subsystem.
type PRInfo struct {
	// Number is the user-facing PR number.
	Number int
	// URL is the browsable PR location.
	URL string
	// ID is the platform-internal identifier.
	ID int64
}

// PRGateway creates pull requests on a git hosting
// platform. Implementations return the existing PR
// when one is already open for the branch pair.
type PRGateway interface {
	CreatePullRequestIfNotExists(
		ctx context.Context,
		head string,
		base string,
		title string,
		body string,
		draft bool,
	) (*PRInfo, error)
}

// PRGatewayFunc adapts a plain function to the
// PRGateway interface. When body is empty the title is
// used as body.
type PRGatewayFunc func(
	ctx context.Context,
	head string,
	base string,
	title string,
	body string,
	draft bool,
) (*PRInfo, error)

// CreatePullRequestIfNotExists delegates to the wrapped
// function. If body is empty, title is substituted.
func (f PRGatewayFunc) CreatePullRequestIfNotExists(
	ctx context.Context,
	head string,
	base string,
	title string,
	body string,
	draft bool,
) (*PRInfo, error) {
	if body == "" {
		body = title
	}

	return f(ctx, head, base, title, body, draft)
}
