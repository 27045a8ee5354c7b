package watch

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// alwaysExcludedSuffixes lists file extensions that are never mirrored:
// partial transfers, editor temporaries, and lock files.
var alwaysExcludedSuffixes = []string{
	".partial", ".tmp", ".swp", ".swx", ".crdownload",
}

// Matcher decides whether a path is excluded from mirroring. Configured glob
// patterns (doublestar syntax, matched against the slash-form path relative
// to the watch root) combine with a built-in set of always-excluded names.
type Matcher struct {
	root     string
	patterns []string
}

// NewMatcher creates a Matcher for the given watch root. Invalid patterns
// are rejected up front so a config typo fails at startup, not silently at
// match time.
func NewMatcher(root string, patterns []string) (*Matcher, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p}
		}
	}

	return &Matcher{root: root, patterns: patterns}, nil
}

// PatternError reports an invalid ignore pattern from configuration.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return "watch: invalid ignore pattern " + e.Pattern
}

// Ignored reports whether the absolute path should be dropped before it
// enters the pending map.
func (m *Matcher) Ignored(absPath string) bool {
	name := filepath.Base(absPath)
	if alwaysExcluded(name) {
		return true
	}

	rel, err := filepath.Rel(m.root, absPath)
	if err != nil {
		return false
	}

	rel = filepath.ToSlash(rel)

	for _, p := range m.patterns {
		// Pattern validity was checked in NewMatcher.
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}

		// A pattern matching a directory ignores everything beneath it.
		if ok, _ := doublestar.Match(p+"/**", rel); ok {
			return true
		}
	}

	return false
}

// alwaysExcluded returns true for names that are unsafe or pointless to
// mirror regardless of configuration.
func alwaysExcluded(name string) bool {
	lower := strings.ToLower(name)

	for _, ext := range alwaysExcludedSuffixes {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	// Editor backup files (~file) and LibreOffice locks (.~lock).
	return strings.HasPrefix(name, "~") || strings.HasPrefix(name, ".~")
}
