package contract

import (
	"fmt"
	"strings"
)

// Pattern is a compiled path pattern.
//
// Pattern syntax: segments are delimited by "/"; a segment starting with ":"
// is a named parameter that captures any run of non-"/" characters; any
// other segment must match exactly. Patterns are compiled once per endpoint
// at contract-build time and reused for every request.
type Pattern struct {
	raw      string
	segments []segment
	names    []string
}

type segment struct {
	literal string
	param   string // non-empty for :name segments
}

// Compile parses a path pattern.
//
// It rejects empty patterns, patterns that do not start with "/", unnamed
// parameters (a bare ":"), and duplicate parameter names.
func Compile(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern: empty pattern")
	}
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("pattern: %q must start with /", pattern)
	}

	parts := strings.Split(pattern, "/")
	p := &Pattern{
		raw:      pattern,
		segments: make([]segment, 0, len(parts)),
	}
	seen := map[string]bool{}
	for _, part := range parts {
		if !strings.HasPrefix(part, ":") {
			p.segments = append(p.segments, segment{literal: part})
			continue
		}
		name := part[1:]
		if name == "" {
			return nil, fmt.Errorf("pattern: %q has an unnamed parameter", pattern)
		}
		if seen[name] {
			return nil, fmt.Errorf("pattern: %q repeats parameter %q", pattern, name)
		}
		seen[name] = true
		p.segments = append(p.segments, segment{param: name})
		p.names = append(p.names, name)
	}
	return p, nil
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }

// ParamNames returns the parameter names in the order they appear.
func (p *Pattern) ParamNames() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Match tests a concrete path against the pattern.
//
// On success it returns the extracted parameter map (never nil, possibly
// empty). Literal segments must match exactly; the segment count must match;
// parameter segments capture whatever non-"/" run occupies their position.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != len(p.segments) {
		return nil, false
	}
	params := make(map[string]string, len(p.names))
	for i, seg := range p.segments {
		if seg.param != "" {
			params[seg.param] = parts[i]
			continue
		}
		if parts[i] != seg.literal {
			return nil, false
		}
	}
	return params, true
}

// Interpolate substitutes params into pattern, producing a concrete path.
// It is the inverse of Match: for parameter values free of "/",
// Match(Interpolate(pattern, values)) returns those same values.
//
// Every parameter named by the pattern must be present, and no value may
// contain "/".
func Interpolate(pattern string, params map[string]string) (string, error) {
	p, err := Compile(pattern)
	if err != nil {
		return "", err
	}
	return p.Interpolate(params)
}

// Interpolate substitutes params into the compiled pattern.
func (p *Pattern) Interpolate(params map[string]string) (string, error) {
	var sb strings.Builder
	for i, seg := range p.segments {
		if i > 0 {
			sb.WriteString("/")
		}
		if seg.param == "" {
			sb.WriteString(seg.literal)
			continue
		}
		v, ok := params[seg.param]
		if !ok {
			return "", fmt.Errorf("pattern: %q missing parameter %q", p.raw, seg.param)
		}
		if strings.Contains(v, "/") {
			return "", fmt.Errorf("pattern: parameter %q value contains /", seg.param)
		}
		sb.WriteString(v)
	}
	return sb.String(), nil
}

// Template converts the pattern to its interface-description form, with
// {name} in place of :name. Used by documentation and spec generators.
func (p *Pattern) Template() string {
	var sb strings.Builder
	for i, seg := range p.segments {
		if i > 0 {
			sb.WriteString("/")
		}
		if seg.param != "" {
			sb.WriteString("{")
			sb.WriteString(seg.param)
			sb.WriteString("}")
		} else {
			sb.WriteString(seg.literal)
		}
	}
	return sb.String()
}
