package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/wire"
)

// MessageSocket is one full-duplex frame transport under a message session.
// The engine never performs the socket handshake; an upgrader (see
// MessageUpgrader) produces a MessageSocket from whatever mechanism it
// wraps and hands it to PendingSession.Run.
//
// ReadMessage returns one inbound frame, blocking until a frame arrives or
// the transport fails. WriteMessage writes one outbound frame. The session
// engine is the only caller of WriteMessage for a given socket.
type MessageSocket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(frame []byte) error
	Close() error
}

// MessageUpgrader is the external collaborator that performs the socket
// handshake for message endpoints. The dispatcher validates the upgrade
// request first; Upgrade receives the resulting session, performs the
// handshake, and calls PendingSession.Run with the established socket.
type MessageUpgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, session *PendingSession) error
}

// UpgradeResult is the outcome of upgrade-phase validation for a message
// endpoint, consumed by the socket-upgrade mechanism.
type UpgradeResult struct {
	EndpointName string
	Endpoint     *contract.Endpoint
	PathParams   map[string]string
	Params       any
	Query        any
	Headers      any
}

// SessionHandlers are the lifecycle hooks for one message endpoint.
//
// Open, Close, and Drain are delivered at most once per connection; Message
// repeats for the lifetime of the session. Drain fires when the outbound
// queue empties after having saturated. It is the transport's sole
// backpressure-relief signal.
//
// Data is caller-supplied per-connection context, optionally validated
// against DataSchema when the session starts. ValidationError, when set,
// receives invalid inbound envelopes instead of the engine's automatic
// error reply.
type SessionHandlers struct {
	Open            func(ctx context.Context, s *Socket)
	Message         func(ctx context.Context, s *Socket, msgType string, payload any)
	Close           func(ctx context.Context, s *Socket)
	Drain           func(ctx context.Context, s *Socket)
	ValidationError func(ctx context.Context, s *Socket, err *MessageValidationError)

	Data       any
	DataSchema contract.Schema
}

// Socket is the typed per-connection capability handed to session hooks.
type Socket struct {
	// Validated upgrade-phase values and the caller-supplied session data.
	Params  any
	Query   any
	Headers any
	Data    any

	conn     *conn
	endpoint *contract.Endpoint
	raw      MessageSocket

	out       chan []byte
	pumpDone  chan struct{}
	drainOnce sync.Once
	drainFn   func()

	mu        sync.Mutex
	saturated bool
}

// ID returns the connection's unique identifier.
func (s *Socket) ID() string { return s.conn.id }

// IsOpen reports whether the session is still open.
func (s *Socket) IsOpen() bool { return s.conn.isOpen() }

// Cancellation returns the connection's one-shot cancellation token.
func (s *Socket) Cancellation() *CancelToken { return s.conn.token }

// Send serializes a typed message to its envelope and queues it for the
// write pump. Envelopes reach the wire in Send order. Outbound payloads are
// not validated against the endpoint's server-message schemas; application
// code is the trusted producer. After the session closes Send is a no-op.
func (s *Socket) Send(msgType string, payload any) error {
	frame, err := wire.EncodeEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return s.enqueue(frame)
}

func (s *Socket) enqueue(frame []byte) error {
	if !s.conn.isOpen() {
		return nil
	}
	select {
	case s.out <- frame:
		return nil
	default:
	}

	// Queue full: record the saturation so the pump can signal drain when
	// it catches up, then wait for space.
	s.mu.Lock()
	s.saturated = true
	s.mu.Unlock()

	select {
	case s.out <- frame:
		return nil
	case <-s.conn.token.Done():
		return nil
	}
}

// Close ends the session from the server side.
func (s *Socket) Close() error {
	s.conn.shutdown()
	return s.raw.Close()
}

// writePump is the sole writer to the underlying socket. It preserves Send
// order and delivers the drain signal when a saturated queue empties.
func (s *Socket) writePump() {
	defer close(s.pumpDone)
	for {
		select {
		case frame := <-s.out:
			if err := s.raw.WriteMessage(frame); err != nil {
				s.conn.shutdown()
				return
			}
			if len(s.out) == 0 {
				s.mu.Lock()
				wasSaturated := s.saturated
				s.saturated = false
				s.mu.Unlock()
				if wasSaturated && s.drainFn != nil {
					s.drainOnce.Do(s.drainFn)
				}
			}
		case <-s.conn.token.Done():
			// Graceful close still flushes whatever was queued before the
			// cancellation fired.
			for {
				select {
				case frame := <-s.out:
					if err := s.raw.WriteMessage(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// outboundQueueSize bounds buffered outbound envelopes per connection; a
// full queue blocks Send until the pump catches up, so memory stays bounded
// under a slow client.
const outboundQueueSize = 64

// PendingSession is a validated message-endpoint upgrade waiting for its
// socket. The upgrader performs the handshake and calls Run, which owns the
// connection until the session reaches its terminal state.
type PendingSession struct {
	Result *UpgradeResult

	d        *Dispatcher
	handlers *SessionHandlers
}

// Run drives the session over an established socket: open hook, inbound
// message loop, close hook. It blocks until the session ends and always
// releases the connection's resources, firing the cancellation exactly
// once.
func (p *PendingSession) Run(ctx context.Context, ms MessageSocket) error {
	ep := p.Result.Endpoint
	d := p.d

	data := p.handlers.Data
	if p.handlers.DataSchema != nil {
		out, issues := p.handlers.DataSchema.Parse(data)
		if len(issues) > 0 {
			_ = ms.Close()
			return &RequestValidationError{Field: "data", Issues: issues}
		}
		data = out
	}

	c := newConn()
	s := &Socket{
		Params:   p.Result.Params,
		Query:    p.Result.Query,
		Headers:  p.Result.Headers,
		Data:     data,
		conn:     c,
		endpoint: ep,
		raw:      ms,
		out:      make(chan []byte, outboundQueueSize),
		pumpDone: make(chan struct{}),
	}
	if p.handlers.Drain != nil {
		s.drainFn = func() { p.handlers.Drain(ctx, s) }
	}

	start := time.Now()
	c.advance(StateOpen)
	go s.writePump()

	d.hooks.streamOpen(ctx, ep.Name, c.id, ep.Kind)
	d.log(ctx, slog.LevelDebug, "message session open", "endpoint", ep.Name, "conn", c.id)

	if p.handlers.Open != nil {
		p.invokeHook(ctx, ep, c, func() { p.handlers.Open(ctx, s) })
	}

	for c.isOpen() {
		frame, err := ms.ReadMessage()
		if err != nil {
			// Client disconnect or transport failure: not an error condition,
			// just the closing transition.
			break
		}
		p.dispatchInbound(ctx, s, frame)
	}

	c.advance(StateClosing)
	if p.handlers.Close != nil {
		p.invokeHook(ctx, ep, c, func() { p.handlers.Close(ctx, s) })
	}
	c.shutdown()
	<-s.pumpDone
	_ = ms.Close()

	d.hooks.streamClose(ctx, ep.Name, c.id, ep.Kind, time.Since(start))
	d.log(ctx, slog.LevelDebug, "message session closed", "endpoint", ep.Name, "conn", c.id)
	return nil
}

// dispatchInbound parses one inbound frame as an envelope, validates it
// against the endpoint's client-message schemas, and routes it. Validation
// failures never close the connection: they go to the ValidationError hook
// if one is registered, otherwise the engine replies with a reserved error
// envelope.
func (p *PendingSession) dispatchInbound(ctx context.Context, s *Socket, frame []byte) {
	ep := p.Result.Endpoint

	env, err := wire.DecodeEnvelope(frame)
	if err != nil {
		p.inboundInvalid(ctx, s, &MessageValidationError{
			Issues: contract.Invalid("", "invalid_envelope", err.Error()),
		})
		return
	}

	schema, known := ep.ClientMessages[env.Type]
	if !known {
		p.inboundInvalid(ctx, s, &MessageValidationError{
			Type:   env.Type,
			Issues: contract.Invalid("type", "unknown_type", fmt.Sprintf("unknown message type %q", env.Type)),
		})
		return
	}

	var payload any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			p.inboundInvalid(ctx, s, &MessageValidationError{
				Type:   env.Type,
				Issues: contract.Invalid("payload", "invalid_json", err.Error()),
			})
			return
		}
	}

	if schema != nil {
		out, issues := schema.Parse(payload)
		if len(issues) > 0 {
			p.inboundInvalid(ctx, s, &MessageValidationError{Type: env.Type, Issues: issues})
			return
		}
		payload = out
	}

	if p.handlers.Message != nil {
		p.invokeHook(ctx, ep, s.conn, func() { p.handlers.Message(ctx, s, env.Type, payload) })
	}
}

func (p *PendingSession) inboundInvalid(ctx context.Context, s *Socket, verr *MessageValidationError) {
	ep := p.Result.Endpoint
	p.d.log(ctx, slog.LevelDebug, "invalid inbound message",
		"endpoint", ep.Name, "conn", s.conn.id, "type", verr.Type, "issues", len(verr.Issues))

	if p.handlers.ValidationError != nil {
		p.invokeHook(ctx, ep, s.conn, func() { p.handlers.ValidationError(ctx, s, verr) })
		return
	}

	_ = s.Send(wire.ErrorEnvelopeType, wire.ErrorPayload{
		Code:    wire.ValidationErrorCode,
		Message: verr.Error(),
		Issues:  verr.Issues,
	})
}

// invokeHook runs a session hook with panic containment: a panicking hook
// must not take down the session loop or leak the connection.
func (p *PendingSession) invokeHook(ctx context.Context, ep *contract.Endpoint, c *conn, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			p.d.log(ctx, slog.LevelError, "session hook panic",
				"endpoint", ep.Name, "conn", c.id, "panic", rec)
		}
	}()
	fn()
}

// serveMessageUpgrade runs upgrade-phase validation for a message endpoint
// (params, query, and headers, no body) and hands the pending session to the
// configured socket upgrader.
func (d *Dispatcher) serveMessageUpgrade(w http.ResponseWriter, r *http.Request, ep *contract.Endpoint, params map[string]string) {
	ctx := r.Context()

	in, err := validateRequest(r, ep, params, false)
	if err != nil {
		d.rejectRequest(ctx, w, ep, err)
		return
	}

	handlers, found := d.sessions[ep.Name]
	if !found {
		d.log(ctx, slog.LevelError, "no session handlers registered", "endpoint", ep.Name)
		writeServerFault(w, fmt.Sprintf("no session handlers registered for endpoint %q", ep.Name))
		return
	}

	if d.upgrader == nil {
		writeJSON(w, http.StatusNotImplemented, wire.ErrorBody{
			Error:   "Not Implemented",
			Message: "no message upgrader configured",
		})
		return
	}

	d.hooks.dispatch(ctx, ep.Name, ep.Kind)

	session := &PendingSession{
		Result: &UpgradeResult{
			EndpointName: ep.Name,
			Endpoint:     ep,
			PathParams:   in.PathParams,
			Params:       in.Params,
			Query:        in.Query,
			Headers:      in.Headers,
		},
		d:        d,
		handlers: handlers,
	}

	if err := d.upgrader.Upgrade(w, r, session); err != nil {
		d.log(ctx, slog.LevelError, "socket upgrade failed", "endpoint", ep.Name, "error", err)
	}
}
