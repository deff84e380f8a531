// Package client consumes endpoints described by a contract. The same
// contract that drives the server dispatcher drives the client: paths are
// interpolated from the endpoint patterns and responses are validated
// against the endpoint's declared schemas before the caller sees them.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/dispatch"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for standard and streaming
// calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDialer sets the WebSocket dialer used by Connect.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithHeader adds a header to every outgoing request, typically for
// caller-supplied credentials.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithLogger sets the structured logger. Without it the client is silent.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client calls contract endpoints over HTTP and WebSocket.
type Client struct {
	contract *contract.Contract
	baseURL  string
	http     *http.Client
	dialer   *websocket.Dialer
	header   http.Header
	logger   *slog.Logger
}

// New creates a Client for the given contract rooted at baseURL.
func New(c *contract.Contract, baseURL string, opts ...Option) *Client {
	cl := &Client{
		contract: c,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     http.DefaultClient,
		dialer:   websocket.DefaultDialer,
		header:   make(http.Header),
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// Request carries the caller-supplied parts of an outgoing call. All
// fields are optional; Params must cover every placeholder in the
// endpoint's path.
type Request struct {
	Params map[string]string
	Query  url.Values
	Header http.Header
	Body   any
}

// Response is the decoded result of a standard call. Body has already
// passed the endpoint's response schema for the status, when one is
// declared.
type Response struct {
	Status int
	Header http.Header
	Body   any
}

// Call performs a standard request-response invocation of the named
// endpoint. The response body is decoded as JSON and validated against the
// endpoint's schema for the returned status; a mismatch surfaces as a
// ResponseContractError.
func (c *Client) Call(ctx context.Context, name string, req *Request) (*Response, error) {
	ep, err := c.endpointOfKind(name, contract.KindStandard)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, ep, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("client: call %s: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response for %s: %w", name, err)
	}

	var body any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("client: decode response for %s: %w", name, err)
		}
	}

	if schema, ok := ep.Responses[resp.StatusCode]; ok && schema != nil {
		out, issues := schema.Parse(body)
		if len(issues) > 0 {
			return nil, &dispatch.ResponseContractError{Status: resp.StatusCode, Issues: issues}
		}
		body = out
	}

	c.log(ctx, slog.LevelDebug, "call complete", "endpoint", name, "status", resp.StatusCode)
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) endpointOfKind(name string, kind contract.Kind) (*contract.Endpoint, error) {
	ep, err := c.contract.Get(name)
	if err != nil {
		return nil, err
	}
	if ep.Kind != kind {
		return nil, fmt.Errorf("client: endpoint %q is %s, not %s", name, ep.Kind, kind)
	}
	return ep, nil
}

// newRequest builds the HTTP request for an endpoint: interpolated path,
// query string, merged headers, and a JSON body when the endpoint takes
// one.
func (c *Client) newRequest(ctx context.Context, ep *contract.Endpoint, req *Request, withBody bool) (*http.Request, error) {
	if req == nil {
		req = &Request{}
	}

	path, err := ep.Matcher().Interpolate(req.Params)
	if err != nil {
		return nil, err
	}

	target := c.baseURL + path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if withBody && req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("client: encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, ep.Method, target, body)
	if err != nil {
		return nil, err
	}
	for key, values := range c.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// responseError turns a non-OK streaming handshake response into an error,
// surfacing the server's error body when it sent one.
func responseError(name string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("client: %s returned status %d: %s", name, resp.StatusCode, msg)
}

func (c *Client) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Log(ctx, level, msg, args...)
}

// maxLineBytes caps a single stream line (one SSE field line or one NDJSON
// frame). The bufio default of 64KB is too small for real payloads.
const maxLineBytes = 10 << 20

func newLineScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return s
}
