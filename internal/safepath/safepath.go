// Package safepath computes and validates remote destination paths. Every
// remote-mutating operation must pass its target through WithinRoot before
// touching the transport; a path that lexically escapes the configured remote
// root is never sent over the wire. All functions are pure — no filesystem
// access, no state.
package safepath

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RemotePath maps a local absolute path to its remote destination. The local
// path is made relative to base, separators are rewritten to forward slashes,
// the result is NFC-normalized and joined under root. path.Join cleans "." and
// ".." segments lexically, so the returned path contains no dot segments —
// but it may still have climbed above root, which is why callers must follow
// up with WithinRoot.
func RemotePath(root, base, localAbs string) (string, error) {
	rel, err := filepath.Rel(base, localAbs)
	if err != nil {
		return "", fmt.Errorf("safepath: %s is not relative to %s: %w", localAbs, base, err)
	}

	rel = norm.NFC.String(filepath.ToSlash(rel))

	return path.Join(normalizeRoot(root), rel), nil
}

// WithinRoot reports whether candidate, after lexical normalization, equals
// root or is a slash-delimited descendant of it. Normalization happens before
// the comparison so a candidate that climbs above root via ".." segments is
// rejected even when the textual form looks contained.
func WithinRoot(root, candidate string) bool {
	r := normalizeRoot(root)
	c := path.Clean(strings.ReplaceAll(candidate, "\\", "/"))

	if c == r {
		return true
	}

	if r == "/" {
		// Clean has already collapsed any leading ".." on a rooted path.
		return strings.HasPrefix(c, "/")
	}

	return strings.HasPrefix(c, r+"/")
}

// normalizeRoot cleans the root path, rewriting backslashes and stripping any
// trailing separator so prefix comparisons are exact.
func normalizeRoot(root string) string {
	r := path.Clean(strings.ReplaceAll(root, "\\", "/"))
	if r == "." || r == "" {
		return "/"
	}

	return r
}
