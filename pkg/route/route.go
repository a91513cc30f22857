// Package route implements the URI router (spec.md C1): route templates
// with named captures and an optional trailing "*" wildcard, compiled once
// and matched against a request path with no allocation beyond the result.
package route

import (
	"strings"

	"pacsd/pkg/pacserr"
)

// segment is one element of a compiled template.
type segment struct {
	literal   string
	capture   string // non-empty if this segment is a named capture
	isWild    bool
}

// Route is a compiled template, e.g. "/studies/{id}/archive" or
// "/instances/{id}/*".
type Route struct {
	template  string
	segments  []segment
	trailing  bool
}

// Compile parses a route template. Segments are '/'-separated; a segment
// of the form "{name}" is a named capture, and a final bare "*" segment
// marks the route as accepting a trailing remainder. Compile fails if the
// trailing marker is not last, or if a capture name repeats.
func Compile(template string) (*Route, error) {
	parts := splitPath(template)

	r := &Route{template: template}
	seen := map[string]bool{}

	for i, p := range parts {
		if p == "*" {
			if i != len(parts)-1 {
				return nil, pacserr.New(pacserr.BadParameterType,
					"route %q: trailing '*' must be the last segment", template)
			}
			r.trailing = true
			continue
		}
		if len(p) >= 2 && p[0] == '{' && p[len(p)-1] == '}' {
			name := p[1 : len(p)-1]
			if name == "" {
				return nil, pacserr.New(pacserr.BadParameterType,
					"route %q: empty capture name", template)
			}
			if seen[name] {
				return nil, pacserr.New(pacserr.BadParameterType,
					"route %q: capture name %q repeated", template, name)
			}
			seen[name] = true
			r.segments = append(r.segments, segment{capture: name})
			continue
		}
		r.segments = append(r.segments, segment{literal: p})
	}
	return r, nil
}

// MustCompile is Compile, panicking on error — for use at init time with a
// literal, known-good template.
func MustCompile(template string) *Route {
	r, err := Compile(template)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Route) Template() string { return r.template }

// FixedSegmentCount is the number of non-trailing segments in the template.
func (r *Route) FixedSegmentCount() int { return len(r.segments) }

// HasTrailing reports whether the template ends in a "*" capture-all.
func (r *Route) HasTrailing() bool { return r.trailing }

// Match attempts to match path (already split into components, not
// percent-decoded — decoding happens upstream in the HTTP engine) against
// r. It returns the captured named values, the trailing remainder (nil if
// the route has no trailing marker), and whether the route matched at all.
//
// The empty template matches exactly the root path (path == nil or
// len(path) == 0). A template of just "*" matches any non-empty path, with
// every segment captured as trailing.
func (r *Route) Match(path []string) (captures map[string]string, trailing []string, ok bool) {
	n := len(r.segments)
	if len(path) < n {
		return nil, nil, false
	}
	if !r.trailing && len(path) > n {
		return nil, nil, false
	}
	if r.trailing && n == 0 && len(path) == 0 {
		return nil, nil, false
	}

	captures = make(map[string]string, n)
	for i, seg := range r.segments {
		if seg.capture != "" {
			captures[seg.capture] = path[i]
			continue
		}
		if seg.literal != path[i] {
			return nil, nil, false
		}
	}

	if r.trailing {
		trailing = append([]string{}, path[n:]...)
	}
	return captures, trailing, true
}

// splitPath splits a "/"-delimited path into non-empty components. Both
// "/a/b" and "a/b" and "/a/b/" yield ["a", "b"]; "" and "/" yield nil.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// SplitPath is exported so C6 (the HTTP engine) can split a decoded request
// URI the same way a template was split at Compile time.
func SplitPath(path string) []string { return splitPath(path) }
