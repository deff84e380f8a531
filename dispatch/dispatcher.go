// Package dispatch is the server side of the contract engine: it matches
// incoming requests against a contract, runs the request validation
// pipeline, and hands the connection to one of four transports (one-shot
// request/response, push-event streaming, chunked streaming, or the
// bidirectional message session).
//
// A Dispatcher is an http.Handler. Build it from a contract, register a
// handler per endpoint, and mount it on any mux:
//
//	c := contract.MustNew(
//	    contract.Endpoint{Name: "getUser", Path: "/users/:id"},
//	)
//	d := dispatch.New(c)
//	d.HandleStandard("getUser", getUser)
//	http.ListenAndServe(":8080", d)
//
// Cross-cutting concerns such as authentication, encryption, and rate
// limiting are not part of the engine; wrap the Dispatcher in ordinary
// http middleware for those.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kessig/switchboard/contract"
)

// StandardHandler is the handler type for one-shot endpoints. It receives
// the validated input bundle and returns the response to encode. Returning
// an error produces a generic server-fault response.
type StandardHandler func(ctx context.Context, in *Input) (*Response, error)

// Response is a standard handler's result before encoding.
type Response struct {
	Status int
	Header http.Header
	Body   any
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger used for connection lifecycle and
// fault reporting. Without it the dispatcher is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMessageUpgrader sets the socket-upgrade collaborator for message
// endpoints. The engine never performs the handshake itself; without an
// upgrader, message endpoints answer 501.
func WithMessageUpgrader(u MessageUpgrader) Option {
	return func(d *Dispatcher) { d.upgrader = u }
}

// Dispatcher routes requests to registered handlers according to a
// contract.
//
// Configure and register everything before serving; Dispatcher is safe for
// concurrent use only after configuration is complete.
type Dispatcher struct {
	contract *contract.Contract
	upgrader MessageUpgrader
	logger   *slog.Logger
	hooks    hooks

	standard  map[string]StandardHandler
	pushEvent map[string]PushEventHandler
	chunked   map[string]ChunkStreamHandler
	sessions  map[string]*SessionHandlers
}

// New creates a Dispatcher for the given contract.
func New(c *contract.Contract, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		contract:  c,
		standard:  make(map[string]StandardHandler),
		pushEvent: make(map[string]PushEventHandler),
		chunked:   make(map[string]ChunkStreamHandler),
		sessions:  make(map[string]*SessionHandlers),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Contract returns the contract this dispatcher serves.
func (d *Dispatcher) Contract() *contract.Contract { return d.contract }

func (d *Dispatcher) endpointOfKind(name string, kind contract.Kind) (*contract.Endpoint, error) {
	ep, err := d.contract.Get(name)
	if err != nil {
		return nil, err
	}
	if ep.Kind != kind {
		return nil, fmt.Errorf("dispatch: endpoint %q is %s, not %s", name, ep.Kind, kind)
	}
	return ep, nil
}

// HandleStandard registers the handler for a standard endpoint.
func (d *Dispatcher) HandleStandard(name string, h StandardHandler) error {
	if _, err := d.endpointOfKind(name, contract.KindStandard); err != nil {
		return err
	}
	d.standard[name] = h
	return nil
}

// HandlePushEvent registers the handler for a push-event endpoint.
func (d *Dispatcher) HandlePushEvent(name string, h PushEventHandler) error {
	if _, err := d.endpointOfKind(name, contract.KindPushEvent); err != nil {
		return err
	}
	d.pushEvent[name] = h
	return nil
}

// HandleChunkStream registers the handler for a chunked-stream endpoint.
func (d *Dispatcher) HandleChunkStream(name string, h ChunkStreamHandler) error {
	if _, err := d.endpointOfKind(name, contract.KindChunkedStream); err != nil {
		return err
	}
	d.chunked[name] = h
	return nil
}

// HandleSession registers the lifecycle hooks for a message endpoint.
func (d *Dispatcher) HandleSession(name string, h *SessionHandlers) error {
	if _, err := d.endpointOfKind(name, contract.KindMessage); err != nil {
		return err
	}
	d.sessions[name] = h
	return nil
}

// ServeHTTP implements http.Handler. It resolves the endpoint, validates
// the request, and branches on the endpoint's transport kind. The switch is
// exhaustive over contract.Kind.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ep, params, ok := d.contract.Resolve(r.Method, r.URL.Path)
	if !ok {
		err := &RouteNotFoundError{Method: r.Method, Path: r.URL.Path}
		d.hooks.notFound(r.Context(), r.Method, r.URL.Path)
		d.log(r.Context(), slog.LevelDebug, "route not found", "method", r.Method, "path", r.URL.Path)
		writeNotFound(w, err)
		return
	}

	switch ep.Kind {
	case contract.KindStandard:
		d.serveStandard(w, r, ep, params)
	case contract.KindPushEvent:
		d.servePushEvent(w, r, ep, params)
	case contract.KindChunkedStream:
		d.serveChunkStream(w, r, ep, params)
	case contract.KindMessage:
		d.serveMessageUpgrade(w, r, ep, params)
	default:
		// Unreachable while contract.Kind stays closed.
		writeServerFault(w, fmt.Sprintf("unknown transport kind %d", int(ep.Kind)))
	}
}

// serveStandard runs the one-shot pipeline: validate, invoke, validate and
// encode the response.
func (d *Dispatcher) serveStandard(w http.ResponseWriter, r *http.Request, ep *contract.Endpoint, params map[string]string) {
	ctx := r.Context()

	in, err := validateRequest(r, ep, params, true)
	if err != nil {
		d.rejectRequest(ctx, w, ep, err)
		return
	}

	handler, found := d.standard[ep.Name]
	if !found {
		d.log(ctx, slog.LevelError, "no handler registered", "endpoint", ep.Name)
		writeServerFault(w, fmt.Sprintf("no handler registered for endpoint %q", ep.Name))
		return
	}

	d.hooks.dispatch(ctx, ep.Name, ep.Kind)
	start := time.Now()

	resp, err := d.invokeStandard(ctx, handler, in)
	duration := time.Since(start)
	if err != nil {
		d.hooks.failure(ctx, ep.Name, err, duration)
		d.log(ctx, slog.LevelError, "handler failed", "endpoint", ep.Name, "error", err)
		writeServerFault(w, err.Error())
		return
	}

	if err := d.writeResponse(w, ep, resp); err != nil {
		var violation *ResponseContractError
		if errors.As(err, &violation) {
			d.hooks.failure(ctx, ep.Name, violation, duration)
			d.log(ctx, slog.LevelError, "response contract violation",
				"endpoint", ep.Name, "status", violation.Status, "issues", len(violation.Issues))
			writeResponseViolation(w, violation)
			return
		}
		// Encoding failed after WriteHeader; nothing more can be sent.
		d.hooks.failure(ctx, ep.Name, err, duration)
		d.log(ctx, slog.LevelError, "response write failed", "endpoint", ep.Name, "error", err)
		return
	}

	d.hooks.success(ctx, ep.Name, resp.Status, duration)
}

// invokeStandard calls the handler with panic containment: a panicking
// handler must not take down the dispatch loop.
func (d *Dispatcher) invokeStandard(ctx context.Context, h StandardHandler, in *Input) (resp *Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("dispatch: handler panic: %v", rec)
		}
	}()
	resp, err = h(ctx, in)
	if err == nil && resp == nil {
		err = fmt.Errorf("dispatch: handler returned nil response")
	}
	return resp, err
}

// writeResponse validates the handler result against the endpoint's
// declared response schema and encodes it. A 204 (or any explicit
// no-content status) omits the body regardless of what the handler
// supplied.
func (d *Dispatcher) writeResponse(w http.ResponseWriter, ep *contract.Endpoint, resp *Response) error {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	body := resp.Body
	if schema, ok := ep.Responses[status]; ok && schema != nil {
		out, issues := schema.Parse(body)
		if len(issues) > 0 {
			return &ResponseContractError{Status: status, Issues: issues}
		}
		body = out
	}

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(body)
}

// rejectRequest writes the client-facing response for a request-phase
// failure and fires the matching hooks.
func (d *Dispatcher) rejectRequest(ctx context.Context, w http.ResponseWriter, ep *contract.Endpoint, err error) {
	var verr *RequestValidationError
	if errors.As(err, &verr) {
		d.hooks.validationError(ctx, ep.Name, verr)
		d.log(ctx, slog.LevelDebug, "request validation failed",
			"endpoint", ep.Name, "field", verr.Field, "issues", len(verr.Issues))
		writeValidationFailure(w, verr)
		return
	}
	d.log(ctx, slog.LevelError, "request rejected", "endpoint", ep.Name, "error", err)
	writeServerFault(w, err.Error())
}

func (d *Dispatcher) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if d.logger == nil {
		return
	}
	d.logger.Log(ctx, level, msg, args...)
}
