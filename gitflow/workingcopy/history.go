package workingcopy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/inventivepotter/promptrepo/gitflow/exec"
)

// Commit is one entry of a file's commit history.
type Commit struct {
	Hash        string
	Message     string
	AuthorName  string
	AuthorEmail string
	Timestamp   time.Time
}

// historyFormat encodes one commit per line with a
// field separator unlikely to appear in subjects.
const historyFormat = "%H\x1f%an\x1f%ae\x1f%aI\x1f%s"

// FileHistory returns up to limit commits touching path,
// newest first.
func (w *WorkingCopy) FileHistory(
	ctx context.Context,
	path string,
	limit int,
) ([]Commit, error) {
	const errCtx = "reading file history"

	if limit <= 0 {
		limit = 10
	}

	out, err := exec.Ex(
		ctx, w.Dir, "git",
		"log",
		"--format="+historyFormat,
		fmt.Sprintf("-n%d", limit),
		"--", path,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var commits []Commit

	for _, line := range strings.Split(
		strings.TrimSpace(out), "\n",
	) {
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, "\x1f", 5)
		if len(parts) < 5 {
			continue
		}

		ts, terr := time.Parse(
			time.RFC3339, parts[3],
		)
		if terr != nil {
			ts = time.Time{}
		}

		commits = append(commits, Commit{
			Hash:        parts[0],
			AuthorName:  parts[1],
			AuthorEmail: parts[2],
			Timestamp:   ts,
			Message:     parts[4],
		})
	}

	return commits, nil
}
