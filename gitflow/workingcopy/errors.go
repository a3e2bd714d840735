package workingcopy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/inventivepotter/promptrepo/gitflow/exec"
)

// Error taxonomy for git operations. Callers use
// errors.Is to distinguish failure modes.
var (
	// ErrNotARepository means the directory holds no
	// git metadata.
	ErrNotARepository = errors.New(
		"not a git repository",
	)

	// ErrNothingToCommit means neither tracked nor
	// untracked changes exist; no empty commit is
	// produced.
	ErrNothingToCommit = errors.New(
		"nothing to commit",
	)

	// ErrAuth means the remote rejected the
	// credential. The caller should trigger
	// re-authentication.
	ErrAuth = errors.New("authentication rejected")

	// ErrTransient means a network-related failure.
	// Local state is intact, so the operation is safe
	// to retry.
	ErrTransient = errors.New("transient git failure")
)

// authMarkers are stderr fragments git emits when a
// remote rejects the supplied credential.
var authMarkers = []string{
	"authentication failed",
	"invalid username or password",
	"could not read username",
	"could not read password",
	"access denied",
	"permission denied",
	"403",
	"401",
}

// transientMarkers are stderr fragments of
// network-level failures worth retrying.
var transientMarkers = []string{
	"could not resolve host",
	"unable to access",
	"connection refused",
	"connection reset",
	"connection timed out",
	"operation timed out",
	"timed out",
	"early eof",
	"remote end hung up",
	"the remote end hung up unexpectedly",
	"temporary failure",
}

// classifyRemoteError maps git output from a network
// operation onto the error taxonomy. The raw output is
// redacted before being attached to the error.
func classifyRemoteError(
	op string,
	out string,
	err error,
) error {
	low := strings.ToLower(out)

	for _, m := range authMarkers {
		if strings.Contains(low, m) {
			return fmt.Errorf(
				"%s: %w: %s",
				op, ErrAuth, exec.Redact(firstLine(out)),
			)
		}
	}

	for _, m := range transientMarkers {
		if strings.Contains(low, m) {
			return fmt.Errorf(
				"%s: %w: %s",
				op, ErrTransient,
				exec.Redact(firstLine(out)),
			)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// firstLine trims output to its first non-empty line to
// keep wrapped errors readable.
func firstLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}

	return ""
}
