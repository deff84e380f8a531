package contract

import (
	"reflect"
	"testing"
)

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"empty", ""},
		{"no leading slash", "users/:id"},
		{"unnamed parameter", "/users/:"},
		{"duplicate parameter", "/pairs/:id/:id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.pattern); err == nil {
				t.Errorf("Compile(%q): expected error, got nil", tt.pattern)
			}
		})
	}
}

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    map[string]string
		ok      bool
	}{
		{"literal", "/health", "/health", map[string]string{}, true},
		{"literal mismatch", "/health", "/status", nil, false},
		{"single param", "/users/:id", "/users/42", map[string]string{"id": "42"}, true},
		{"two params", "/users/:id/posts/:postId", "/users/42/posts/7", map[string]string{"id": "42", "postId": "7"}, true},
		{"too short", "/users/:id/posts/:postId", "/users/42", nil, false},
		{"too long", "/users/:id", "/users/42/posts", nil, false},
		{"literal tail mismatch", "/users/:id/posts", "/users/42/comments", nil, false},
		{"slash in value never matches one segment", "/users/:id", "/users/4/2", nil, false},
		{"root", "/", "/", map[string]string{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.pattern)
			if err != nil {
				t.Fatalf("Compile(%q): %v", tt.pattern, err)
			}
			got, ok := p.Match(tt.path)
			if ok != tt.ok {
				t.Fatalf("Match(%q): ok = %v, want %v", tt.path, ok, tt.ok)
			}
			if tt.ok && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

// Matching the interpolation of any slash-free values must recover exactly
// those values.
func TestInterpolateMatchRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		params  map[string]string
	}{
		{"single", "/users/:id", map[string]string{"id": "42"}},
		{"multiple", "/users/:id/posts/:postId", map[string]string{"id": "42", "postId": "7"}},
		{"unusual values", "/files/:name", map[string]string{"name": "a b%20c"}},
		{"no params", "/health", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := Interpolate(tt.pattern, tt.params)
			if err != nil {
				t.Fatalf("Interpolate: %v", err)
			}
			p, err := Compile(tt.pattern)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			got, ok := p.Match(path)
			if !ok {
				t.Fatalf("Match(%q): no match", path)
			}
			if !reflect.DeepEqual(got, tt.params) {
				t.Errorf("round trip = %v, want %v", got, tt.params)
			}
		})
	}
}

func TestInterpolateErrors(t *testing.T) {
	if _, err := Interpolate("/users/:id", map[string]string{}); err == nil {
		t.Error("missing parameter: expected error")
	}
	if _, err := Interpolate("/users/:id", map[string]string{"id": "a/b"}); err == nil {
		t.Error("slash in value: expected error")
	}
}

func TestPatternTemplate(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"/users/:id", "/users/{id}"},
		{"/users/:id/posts/:postId", "/users/{id}/posts/{postId}"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		p, err := Compile(tt.pattern)
		if err != nil {
			t.Fatalf("Compile(%q): %v", tt.pattern, err)
		}
		if got := p.Template(); got != tt.want {
			t.Errorf("Template(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestParamNames(t *testing.T) {
	p, err := Compile("/users/:id/posts/:postId")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"id", "postId"}
	if got := p.ParamNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("ParamNames = %v, want %v", got, want)
	}
}
