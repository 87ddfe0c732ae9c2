package ignore

import (
	"fmt"
	"strings"
)

// DefaultPatterns are always excluded: version-control metadata, dependency
// trees, editor state and interpreter caches.
var DefaultPatterns = []string{
	".git",
	".svn",
	".hg",
	".bzr",
	"node_modules",
	"vendor",
	".venv",
	"venv",
	"__pycache__",
	".idea",
	".vscode",
	".cache",
	".next",
	".DS_Store",
	"*.pyc",
	"*.swp",
}

// Matcher classifies root-relative paths as included or excluded.
//
// A Matcher is immutable after construction and safe for concurrent use.
type Matcher struct {
	patterns []string
	rules    []Rule
}

// NewMatcher compiles DefaultPatterns followed by patterns. Duplicates are
// dropped, order is preserved.
func NewMatcher(patterns ...string) (*Matcher, error) {
	all := make([]string, 0, len(DefaultPatterns)+len(patterns))
	all = append(all, DefaultPatterns...)
	all = append(all, patterns...)
	all = deduplicate(all)

	m := &Matcher{
		patterns: all,
		rules:    make([]Rule, 0, len(all)),
	}
	for _, p := range all {
		rule, err := Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling ignore patterns: %w", err)
		}
		m.rules = append(m.rules, rule)
	}
	return m, nil
}

// Patterns returns the effective pattern list, defaults first.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// Rules returns the compiled rules.
func (m *Matcher) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	copy(out, m.rules)
	return out
}

// IsExcluded reports whether rel, or any of its ancestor directories, is
// matched by a rule. The root itself ("" or ".") is never excluded.
func (m *Matcher) IsExcluded(rel string) bool {
	rel = normalize(rel)
	if rel == "" {
		return false
	}

	// Walk prefixes: "a", "a/b", "a/b/c".
	for i := 0; i <= len(rel); i++ {
		if i < len(rel) && rel[i] != '/' {
			continue
		}
		if m.matchAny(rel[:i]) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchAny(rel string) bool {
	for _, r := range m.rules {
		if r.Match(rel) {
			return true
		}
	}
	return false
}

// normalize converts rel to a clean slash-separated relative path.
func normalize(rel string) string {
	rel = strings.ReplaceAll(rel, `\`, "/")
	for strings.HasPrefix(rel, "./") {
		rel = rel[2:]
	}
	rel = strings.Trim(rel, "/")
	if rel == "." {
		return ""
	}
	// Collapse duplicate separators.
	for strings.Contains(rel, "//") {
		rel = strings.ReplaceAll(rel, "//", "/")
	}
	return rel
}
