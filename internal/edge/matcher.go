package edge

import (
	"fmt"
	"strings"
)

type segmentKind int

const (
	segLiteral  segmentKind = iota
	segParam                // :name, exactly one non-empty segment
	segWildcard             // :name*, zero or more segments
)

type segment struct {
	kind    segmentKind
	literal string
}

// RouteMatcher decides whether the middleware chain runs for a path. Patterns use
// exact segments, ":param" for one segment and ":path*" for any number of segments.
// Trailing slashes are ignored on both sides.
type RouteMatcher struct {
	patterns [][]segment
}

// NewRouteMatcher compiles the given patterns.
func NewRouteMatcher(patterns []string) (*RouteMatcher, error) {
	m := &RouteMatcher{patterns: make([][]segment, 0, len(patterns))}
	for _, p := range patterns {
		segs, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, segs)
	}
	return m, nil
}

func compilePattern(p string) ([]segment, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("route pattern %q must start with '/'", p)
	}
	parts := splitPath(p)
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, ":") && strings.HasSuffix(part, "*"):
			if len(part) < 3 {
				return nil, fmt.Errorf("route pattern %q has an unnamed wildcard", p)
			}
			segs = append(segs, segment{kind: segWildcard})
		case strings.HasPrefix(part, ":"):
			if len(part) < 2 {
				return nil, fmt.Errorf("route pattern %q has an unnamed parameter", p)
			}
			segs = append(segs, segment{kind: segParam})
		default:
			segs = append(segs, segment{kind: segLiteral, literal: part})
		}
	}
	return segs, nil
}

// Match reports whether any pattern matches path.
func (m *RouteMatcher) Match(path string) bool {
	parts := splitPath(path)
	for _, segs := range m.patterns {
		if matchSegments(segs, parts) {
			return true
		}
	}
	return false
}

func matchSegments(segs []segment, parts []string) bool {
	if len(segs) == 0 {
		return len(parts) == 0
	}
	s := segs[0]
	if s.kind == segWildcard {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(segs[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	switch s.kind {
	case segParam:
		if parts[0] == "" {
			return false
		}
	default:
		if parts[0] != s.literal {
			return false
		}
	}
	return matchSegments(segs[1:], parts[1:])
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
