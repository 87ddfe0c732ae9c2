package ignore

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid ignore pattern")

// Kind identifies how a Rule is matched.
type Kind int

const (
	// KindExactSegment matches a path segment equal to the pattern, at any depth.
	KindExactSegment Kind = iota
	// KindSegmentWildcard matches a path segment against a glob that never
	// crosses a separator ("*", "?", "[...]").
	KindSegmentWildcard
	// KindGlobstar matches a root-relative path glob where "**" spans zero
	// or more whole segments.
	KindGlobstar
	// KindExtension matches any segment ending in a fixed suffix ("*.log").
	KindExtension
)

func (k Kind) String() string {
	switch k {
	case KindExactSegment:
		return "exact"
	case KindSegmentWildcard:
		return "wildcard"
	case KindGlobstar:
		return "globstar"
	case KindExtension:
		return "extension"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Rule is a compiled ignore pattern.
type Rule struct {
	// Pattern is the source pattern as supplied.
	Pattern string
	// Kind selects the matching strategy.
	Kind Kind

	// literal holds the segment for KindExactSegment, the glob for
	// KindSegmentWildcard, and the suffix (with dot) for KindExtension.
	literal string
	// segments holds the split glob for KindGlobstar.
	segments []string
}

// Compile classifies and validates a single pattern. A backslash is read
// as a path separator, not an escape.
func Compile(pattern string) (Rule, error) {
	p := strings.TrimSpace(strings.ReplaceAll(pattern, `\`, "/"))
	p = strings.TrimRight(p, "/")
	if p == "" {
		return Rule{}, fmt.Errorf("%w: %q is empty", ErrInvalidPattern, pattern)
	}

	anchored := strings.HasPrefix(p, "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return Rule{}, fmt.Errorf("%w: %q matches the root", ErrInvalidPattern, pattern)
	}

	if anchored || strings.Contains(p, "/") || strings.Contains(p, "**") {
		segments := strings.Split(p, "/")
		for _, seg := range segments {
			if seg == "" || seg == "." || seg == ".." {
				return Rule{}, fmt.Errorf("%w: %q has an empty or relative segment", ErrInvalidPattern, pattern)
			}
			if seg == "**" {
				continue
			}
			if strings.Contains(seg, "**") {
				return Rule{}, fmt.Errorf("%w: %q mixes ** with other characters in a segment", ErrInvalidPattern, pattern)
			}
			if _, err := path.Match(seg, ""); err != nil {
				return Rule{}, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
			}
		}
		return Rule{Pattern: pattern, Kind: KindGlobstar, segments: segments}, nil
	}

	if suffix, ok := extensionSuffix(p); ok {
		return Rule{Pattern: pattern, Kind: KindExtension, literal: suffix}, nil
	}

	if strings.ContainsAny(p, "*?[") {
		if _, err := path.Match(p, ""); err != nil {
			return Rule{}, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
		}
		return Rule{Pattern: pattern, Kind: KindSegmentWildcard, literal: p}, nil
	}

	return Rule{Pattern: pattern, Kind: KindExactSegment, literal: p}, nil
}

// extensionSuffix reports whether p has the form "*.ext" with no other
// meta characters and returns ".ext".
func extensionSuffix(p string) (string, bool) {
	if !strings.HasPrefix(p, "*.") {
		return "", false
	}
	suffix := p[1:]
	if len(suffix) < 2 || strings.ContainsAny(suffix, `*?[\`) {
		return "", false
	}
	return suffix, true
}

// Match reports whether the rule matches rel itself. rel must be a cleaned,
// slash-separated, root-relative path. Ancestors are handled by Matcher.
func (r Rule) Match(rel string) bool {
	switch r.Kind {
	case KindExactSegment:
		return lastSegment(rel) == r.literal
	case KindSegmentWildcard:
		ok, _ := path.Match(r.literal, lastSegment(rel))
		return ok
	case KindExtension:
		name := lastSegment(rel)
		return len(name) > len(r.literal) && strings.HasSuffix(name, r.literal)
	case KindGlobstar:
		return matchSegments(r.segments, strings.Split(rel, "/"))
	default:
		return false
	}
}

// matchSegments matches a split glob against split path segments.
// "**" consumes zero or more segments.
func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], segs[0]); !ok {
			return false
		}
		pattern, segs = pattern[1:], segs[1:]
	}
	return len(segs) == 0
}

func lastSegment(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[i+1:]
	}
	return rel
}
