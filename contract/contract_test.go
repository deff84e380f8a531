package contract

import (
	"errors"
	"testing"
)

func okSchema() Schema {
	return SchemaFunc(func(input any) (any, []Issue) { return input, nil })
}

func TestNewValidation(t *testing.T) {
	t.Run("empty name", func(t *testing.T) {
		_, err := New(Endpoint{Path: "/a"})
		if err == nil {
			t.Error("expected error for empty name")
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := New(
			Endpoint{Name: "a", Path: "/a"},
			Endpoint{Name: "a", Path: "/b"},
		)
		if err == nil {
			t.Error("expected error for duplicate name")
		}
	})

	t.Run("bad pattern", func(t *testing.T) {
		_, err := New(Endpoint{Name: "a", Path: "no-slash"})
		if err == nil {
			t.Error("expected error for bad pattern")
		}
	})

	t.Run("method defaults and normalizes", func(t *testing.T) {
		c, err := New(
			Endpoint{Name: "a", Path: "/a"},
			Endpoint{Name: "b", Method: "post", Path: "/b"},
		)
		if err != nil {
			t.Fatal(err)
		}
		a, _ := c.Get("a")
		if a.Method != "GET" {
			t.Errorf("default method = %q, want GET", a.Method)
		}
		b, _ := c.Get("b")
		if b.Method != "POST" {
			t.Errorf("method = %q, want POST", b.Method)
		}
	})
}

func TestGet(t *testing.T) {
	c := MustNew(Endpoint{Name: "ping", Path: "/ping"})
	if _, err := c.Get("ping"); err != nil {
		t.Errorf("Get(ping): %v", err)
	}
	_, err := c.Get("pong")
	if !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("Get(pong) error = %v, want ErrUnknownEndpoint", err)
	}
}

func TestResolve(t *testing.T) {
	c := MustNew(
		Endpoint{Name: "getUser", Method: "GET", Path: "/users/:id"},
		Endpoint{Name: "createUser", Method: "POST", Path: "/users"},
		Endpoint{Name: "getPost", Method: "GET", Path: "/users/:id/posts/:postId"},
	)

	tests := []struct {
		name     string
		method   string
		path     string
		wantName string
		ok       bool
	}{
		{"match by path", "GET", "/users/42", "getUser", true},
		{"method distinguishes", "POST", "/users", "createUser", true},
		{"nested params", "GET", "/users/42/posts/7", "getPost", true},
		{"wrong method", "DELETE", "/users/42", "", false},
		{"no route", "GET", "/groups/1", "", false},
		{"partial path", "GET", "/users/42/posts", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, _, ok := c.Resolve(tt.method, tt.path)
			if ok != tt.ok {
				t.Fatalf("Resolve(%s %s): ok = %v, want %v", tt.method, tt.path, ok, tt.ok)
			}
			if ok && ep.Name != tt.wantName {
				t.Errorf("Resolve(%s %s) = %q, want %q", tt.method, tt.path, ep.Name, tt.wantName)
			}
		})
	}
}

// Two endpoints with an identical route: the first registered wins and the
// second is unreachable.
func TestResolveFirstRegisteredWins(t *testing.T) {
	c := MustNew(
		Endpoint{Name: "first", Method: "GET", Path: "/dup/:id", Params: okSchema()},
		Endpoint{Name: "second", Method: "GET", Path: "/dup/:id"},
	)
	ep, params, ok := c.Resolve("GET", "/dup/9")
	if !ok {
		t.Fatal("expected a match")
	}
	if ep.Name != "first" {
		t.Errorf("resolved %q, want first", ep.Name)
	}
	if params["id"] != "9" {
		t.Errorf("params = %v, want id=9", params)
	}
}

func TestEndpointsOrder(t *testing.T) {
	c := MustNew(
		Endpoint{Name: "b", Path: "/b"},
		Endpoint{Name: "a", Path: "/a"},
		Endpoint{Name: "c", Path: "/c"},
	)
	eps := c.Endpoints()
	want := []string{"b", "a", "c"}
	for i, ep := range eps {
		if ep.Name != want[i] {
			t.Errorf("Endpoints()[%d] = %q, want %q", i, ep.Name, want[i])
		}
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindStandard, "standard"},
		{KindPushEvent, "push-event"},
		{KindChunkedStream, "chunked-stream"},
		{KindMessage, "message"},
		{Kind(99), "contract.Kind(99)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}
