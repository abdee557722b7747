package mapping

import (
	"fmt"
	"strings"

	"icc.tech/sip-grpc-gateway/internal/fieldtree"
)

// MissingPolicy controls what happens when a template path or an
// extract_header lookup (without a default) does not resolve.
type MissingPolicy int

const (
	// MissEmpty substitutes the empty string. This matches the original
	// configuration format's intent but can hide misconfiguration.
	MissEmpty MissingPolicy = iota
	// MissError fails the call with ErrMissingValue.
	MissError
)

// ParseMissingPolicy parses the config-level policy name.
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch strings.ToLower(s) {
	case "", "empty":
		return MissEmpty, nil
	case "error":
		return MissError, nil
	default:
		return MissEmpty, fmt.Errorf("unknown on_missing policy %q (must be empty/error)", s)
	}
}

// templateSegment is one compiled piece of a template: verbatim text or a
// parsed dot-path token.
type templateSegment struct {
	text string
	path []string // nil for verbatim segments
}

// Template is a compiled substitution template. The language is pure
// single-pass substitution: tokens are delimited by '{' and '}', split on
// '.', and resolved against the render context; there is no nesting,
// escaping, or control flow.
type Template struct {
	source   string
	segments []templateSegment
}

// ParseTemplate compiles a template string. Parsing never fails: an
// unterminated '{' is copied verbatim, matching single-pass non-greedy
// brace scanning.
func ParseTemplate(src string) *Template {
	t := &Template{source: src}
	rest := src
	for {
		open := strings.IndexByte(rest, '{')
		if open == -1 {
			break
		}
		close := strings.IndexByte(rest[open+1:], '}')
		if close == -1 {
			break
		}
		if open > 0 {
			t.segments = append(t.segments, templateSegment{text: rest[:open]})
		}
		token := rest[open+1 : open+1+close]
		t.segments = append(t.segments, templateSegment{path: fieldtree.ParsePath(token)})
		rest = rest[open+1+close+1:]
	}
	if rest != "" {
		t.segments = append(t.segments, templateSegment{text: rest})
	}
	return t
}

// Source returns the original template string.
func (t *Template) Source() string {
	return t.source
}

// Render substitutes every token against root. Missing paths follow policy.
// Work is linear in template length; there are no side effects.
func (t *Template) Render(root *fieldtree.Node, policy MissingPolicy) (string, error) {
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.path == nil {
			b.WriteString(seg.text)
			continue
		}
		val, ok := root.Lookup(seg.path)
		if !ok && policy == MissError {
			return "", fmt.Errorf("%w: template path %q", ErrMissingValue, strings.Join(seg.path, "."))
		}
		b.WriteString(val)
	}
	return b.String(), nil
}

// Render is a convenience for one-shot rendering with the silent-empty
// policy.
func Render(tmpl string, root *fieldtree.Node) string {
	out, _ := ParseTemplate(tmpl).Render(root, MissEmpty)
	return out
}
