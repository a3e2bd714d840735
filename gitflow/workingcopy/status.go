package workingcopy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/inventivepotter/promptrepo/gitflow/exec"
)

// Status is a snapshot of the working copy state.
type Status struct {
	// Branch is the checked-out branch name.
	Branch string
	// Dirty reports any tracked or untracked change.
	Dirty bool
	// Untracked lists files unknown to git.
	Untracked []string
	// Modified lists tracked files with unstaged
	// changes.
	Modified []string
	// Staged lists files with changes in the index.
	Staged []string
	// CommitsAhead counts local commits missing from
	// the upstream branch. Zero when no upstream is
	// configured.
	CommitsAhead int
	// LastCommit is the abbreviated hash and subject
	// of the most recent commit.
	LastCommit string
}

// GetStatus inspects the working copy. A missing
// remote or upstream is tolerated; CommitsAhead then
// defaults to 0.
func (w *WorkingCopy) GetStatus(
	ctx context.Context,
) (*Status, error) {
	const errCtx = "reading repo status"

	branch, err := w.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	out, err := exec.Ex(
		ctx, w.Dir, "git", "status", "--porcelain",
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	st := &Status{Branch: branch}
	parsePorcelain(out, st)

	// Upstream may be absent; both failures default
	// the ahead count to zero.
	if ahead, aerr := exec.Ex(
		ctx, w.Dir, "git",
		"rev-list", "--count", "@{upstream}..HEAD",
	); aerr == nil {
		if n, perr := strconv.Atoi(
			strings.TrimSpace(ahead),
		); perr == nil {
			st.CommitsAhead = n
		}
	}

	if last, lerr := exec.Ex(
		ctx, w.Dir, "git",
		"log", "-1", "--pretty=%h %s",
	); lerr == nil {
		st.LastCommit = strings.TrimSpace(last)
	}

	return st, nil
}

// parsePorcelain fills the file lists from
// `git status --porcelain` output. Each line is
// "XY path" where X is the index state and Y the
// working tree state.
func parsePorcelain(out string, st *Status) {
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}

		st.Dirty = true

		x, y := line[0], line[1]
		path := strings.TrimSpace(line[3:])

		// Renames are reported as "old -> new".
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}

		if x == '?' && y == '?' {
			st.Untracked = append(st.Untracked, path)

			continue
		}

		if x != ' ' {
			st.Staged = append(st.Staged, path)
		}

		if y == 'M' || y == 'D' {
			st.Modified = append(st.Modified, path)
		}
	}
}
