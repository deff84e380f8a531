// Package contract defines the declarative endpoint contract that drives
// dispatch on both sides of the wire.
//
// A Contract is an immutable, ordered collection of named Endpoint
// definitions. Each Endpoint declares its transport kind, HTTP method, path
// pattern, and the schemas that incoming and outgoing values are validated
// against. The same Contract value is shared by the server-side dispatcher
// (package dispatch) and the client dispatcher (package client), so the two
// sides cannot drift apart.
//
// Schema validation itself is an external capability: the engine only calls
// Schema.Parse and never inspects how a schema is implemented.
package contract

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind identifies the wire protocol an Endpoint speaks.
//
// The set of kinds is closed: the dispatcher switches exhaustively over it,
// so adding a transport is a compile-time-checked extension point.
type Kind int

const (
	// KindStandard is one-shot request/response.
	KindStandard Kind = iota
	// KindPushEvent is a long-lived server-to-client event stream (SSE).
	KindPushEvent
	// KindChunkedStream is one request answered by an ordered sequence of
	// newline-delimited JSON chunks plus an optional terminal value.
	KindChunkedStream
	// KindMessage is a full-duplex typed message session established by an
	// upgrade handshake.
	KindMessage
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindPushEvent:
		return "push-event"
	case KindChunkedStream:
		return "chunked-stream"
	case KindMessage:
		return "message"
	}
	return fmt.Sprintf("contract.Kind(%d)", int(k))
}

// Endpoint is one named entry of a Contract.
//
// All schema fields are optional; a nil schema means the corresponding part
// of the request or response is accepted as-is. Which payload schemas apply
// depends on Kind:
//
//   - KindStandard: Body and Responses.
//   - KindPushEvent: Events (declarative only; outgoing event payloads are
//     not validated by the engine; the handler is trusted).
//   - KindChunkedStream: Chunk (declarative only) and FinalResponse.
//   - KindMessage: ClientMessages (enforced on inbound envelopes) and
//     ServerMessages (declarative on the server, enforced by the client on
//     its inbound direction).
//
// Endpoint values are plain data until they pass through New, which compiles
// the path pattern once and freezes the definition for the process lifetime.
type Endpoint struct {
	Name   string
	Kind   Kind
	Method string
	Path   string

	Params  Schema
	Query   Schema
	Headers Schema

	Body      Schema
	Responses map[int]Schema

	Events map[string]Schema

	Chunk         Schema
	FinalResponse Schema

	ClientMessages map[string]Schema
	ServerMessages map[string]Schema

	pattern *Pattern
}

// Matcher returns the compiled path matcher for this endpoint.
// It is nil until the endpoint has been registered with New.
func (e *Endpoint) Matcher() *Pattern {
	return e.pattern
}

// Contract is the complete, immutable set of named endpoint definitions.
//
// Build one with New at startup; after that it is read-only and safe for
// concurrent use without synchronization.
type Contract struct {
	ordered []*Endpoint
	byName  map[string]*Endpoint
}

// New builds a Contract from the given endpoint definitions.
//
// Endpoint names must be unique and non-empty, and every path pattern must
// compile. Registration order is preserved: when two endpoints share a
// (method, path) route, Resolve returns whichever was registered first and
// the second is unreachable. Overlapping patterns are not detected; avoiding
// them is the caller's responsibility.
func New(endpoints ...Endpoint) (*Contract, error) {
	c := &Contract{
		ordered: make([]*Endpoint, 0, len(endpoints)),
		byName:  make(map[string]*Endpoint, len(endpoints)),
	}
	for i := range endpoints {
		ep := endpoints[i]
		if ep.Name == "" {
			return nil, fmt.Errorf("contract: endpoint %d: empty name", i)
		}
		if _, dup := c.byName[ep.Name]; dup {
			return nil, fmt.Errorf("contract: duplicate endpoint name %q", ep.Name)
		}
		if ep.Method == "" {
			// Message and push-event upgrades are GETs unless stated otherwise.
			ep.Method = http.MethodGet
		}
		ep.Method = strings.ToUpper(ep.Method)
		p, err := Compile(ep.Path)
		if err != nil {
			return nil, fmt.Errorf("contract: endpoint %q: %w", ep.Name, err)
		}
		ep.pattern = p
		c.byName[ep.Name] = &ep
		c.ordered = append(c.ordered, &ep)
	}
	return c, nil
}

// MustNew is New, panicking on error. Intended for contracts assembled from
// literals at program startup.
func MustNew(endpoints ...Endpoint) *Contract {
	c, err := New(endpoints...)
	if err != nil {
		panic(err)
	}
	return c
}

// ErrUnknownEndpoint is returned by Contract lookups for names that were
// never registered.
var ErrUnknownEndpoint = errors.New("contract: unknown endpoint")

// Get returns the endpoint registered under name.
func (c *Contract) Get(name string) (*Endpoint, error) {
	ep, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
	}
	return ep, nil
}

// Endpoints returns the endpoint definitions in registration order.
// The returned slice is a copy; the endpoints themselves are shared.
func (c *Contract) Endpoints() []*Endpoint {
	out := make([]*Endpoint, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Resolve matches an incoming (method, path) pair against the contract and
// returns the first matching endpoint, in registration order, together with
// the extracted path parameters.
func (c *Contract) Resolve(method, path string) (*Endpoint, map[string]string, bool) {
	method = strings.ToUpper(method)
	for _, ep := range c.ordered {
		if ep.Method != method {
			continue
		}
		if params, ok := ep.pattern.Match(path); ok {
			return ep, params, true
		}
	}
	return nil, nil, false
}
