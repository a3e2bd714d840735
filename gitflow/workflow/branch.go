package workflow

import (
	"crypto/rand"
	"encoding/hex"
	"path"
	"strings"
	"time"
)

// branchTimestampLayout is the UTC timestamp embedded
// in generated branch names.
const branchTimestampLayout = "20060102-150405"

// Slugify reduces an artifact file path to a short
// branch-safe token: the base name without extension,
// lowercased, with runs of non-alphanumerics collapsed
// to single dashes.
func Slugify(filePath string) string {
	base := path.Base(filePath)
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.ToLower(base)

	var (
		sb       strings.Builder
		lastDash bool
	)

	for _, r := range base {
		alnum := (r >= 'a' && r <= 'z') ||
			(r >= '0' && r <= '9')

		if alnum {
			sb.WriteRune(r)
			lastDash = false

			continue
		}

		if !lastDash && sb.Len() > 0 {
			sb.WriteByte('-')
			lastDash = true
		}
	}

	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		slug = "artifact"
	}

	return slug
}

// newBranchName derives a unique update branch name for
// a saved file:
//
//	update-<slug>-<YYYYMMDD-HHMMSS>-<8 hex>
//
// The random suffix keeps concurrent saves of the same
// artifact within one second from colliding.
func newBranchName(
	filePath string,
	now time.Time,
) string {
	buf := make([]byte, 4)
	// rand.Read on the crypto source never fails in
	// practice; a zero suffix is still a valid name.
	_, _ = rand.Read(buf)

	return "update-" +
		Slugify(filePath) + "-" +
		now.UTC().Format(branchTimestampLayout) + "-" +
		hex.EncodeToString(buf)
}
