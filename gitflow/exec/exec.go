// Package exec runs external commands for the git
// workflow packages. Output is captured, logged with
// credentials redacted, and returned to the caller.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// DefaultTimeout bounds network-facing git commands
// (clone, fetch, pull, push) when the caller supplies
// no deadline of its own.
const DefaultTimeout = 5 * time.Minute

// userinfoRe matches an URL userinfo component so
// embedded credentials can be masked before logging.
var userinfoRe = regexp.MustCompile(
	`(\w+://)[^/@\s]+@`,
)

// Redact masks any credential embedded as an URL
// userinfo component in s.
func Redact(s string) string {
	return userinfoRe.ReplaceAllString(s, "$1***@")
}

// redactArgs masks credentials in every argument.
func redactArgs(args []string) string {
	masked := make([]string, len(args))
	for i, a := range args {
		masked[i] = Redact(a)
	}

	return strings.Join(masked, " ")
}

// Ex executes the named command in the given directory
// and returns combined stdout+stderr output. Pass empty
// dir to use the current working directory. The command
// is killed when ctx is cancelled.
func Ex(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error) {
	const errCtx = "executing command"

	slog.Debug(
		"executing",
		"cmd", name,
		"args", redactArgs(arg),
		"dir", dir,
	)

	cmd := exec.CommandContext(ctx, name, arg...)
	if dir != "" {
		cmd.Dir = dir
	}

	by, err := cmd.CombinedOutput()

	out := string(by)

	if err != nil {
		slog.Debug(
			"command failed",
			"cmd", name,
			"output", Redact(out),
			"error", err,
		)

		return out, fmt.Errorf(
			"%s: %s %s: %w",
			errCtx, name, redactArgs(arg), err,
		)
	}

	return out, nil
}
