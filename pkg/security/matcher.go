package security

import (
	"fmt"
	"strings"
)

// pathPattern matches request paths segment by segment.
// "*" matches exactly one segment. A trailing "/**" matches the prefix
// itself and anything below it; "/**" alone matches every path.
type pathPattern struct {
	raw      string
	segments []string
	anyDepth bool
}

func validatePattern(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q must start with /", p)
	}
	segs := splitPath(p)
	for i, s := range segs {
		if s == "**" && i != len(segs)-1 {
			return fmt.Errorf("path %q: ** is only allowed as the last segment", p)
		}
		if s != "**" && strings.Contains(s, "**") {
			return fmt.Errorf("path %q: ** must be a whole segment", p)
		}
	}
	return nil
}

func compilePattern(p string) (pathPattern, error) {
	if err := validatePattern(p); err != nil {
		return pathPattern{}, err
	}
	segs := splitPath(p)
	pat := pathPattern{raw: p, segments: segs}
	if n := len(segs); n > 0 && segs[n-1] == "**" {
		pat.segments = segs[:n-1]
		pat.anyDepth = true
	}
	return pat, nil
}

func (p pathPattern) match(path string) bool {
	segs := splitPath(path)
	if p.anyDepth {
		if len(segs) < len(p.segments) {
			return false
		}
	} else if len(segs) != len(p.segments) {
		return false
	}
	for i, want := range p.segments {
		if want != "*" && want != segs[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// requestMatcher selects requests by method and path. An empty method or
// pattern list matches everything.
type requestMatcher struct {
	methods  []string
	patterns []pathPattern
}

func newRequestMatcher(methods, paths []string) (requestMatcher, error) {
	m := requestMatcher{}
	for _, method := range methods {
		m.methods = append(m.methods, strings.ToUpper(method))
	}
	for _, p := range paths {
		pat, err := compilePattern(p)
		if err != nil {
			return requestMatcher{}, err
		}
		m.patterns = append(m.patterns, pat)
	}
	return m, nil
}

func (m requestMatcher) matches(method, path string) bool {
	if len(m.methods) > 0 {
		found := false
		for _, want := range m.methods {
			if strings.EqualFold(want, method) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(m.patterns) == 0 {
		return true
	}
	for _, p := range m.patterns {
		if p.match(path) {
			return true
		}
	}
	return false
}
