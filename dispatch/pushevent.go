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

// PushEventHandler is the handler type for push-event endpoints. It is a
// long-running function: the connection stays open until it returns or the
// client disconnects.
//
// The handler may return a cleanup action; the engine runs it at connection
// teardown, in addition to any callbacks registered on the cancellation
// token; both conventions release exactly once. A returned error abandons
// the stream: resources are released and the cancellation fires, but no
// recovery is attempted mid-stream.
type PushEventHandler func(ctx context.Context, in *Input, stream *EventStream) (cleanup func(), err error)

// EventStream is the emitter capability handed to a push-event handler.
type EventStream struct {
	conn *conn

	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// ID returns the connection's unique identifier.
func (s *EventStream) ID() string { return s.conn.id }

// IsOpen reports whether the connection is still open. Handlers producing
// events from loops should check it between work units and stop promptly
// once it turns false; the engine does not interrupt handler computation.
func (s *EventStream) IsOpen() bool { return s.conn.isOpen() }

// Cancellation returns the connection's one-shot cancellation token.
func (s *EventStream) Cancellation() *CancelToken { return s.conn.token }

// Send emits one named event. The payload is serialized as JSON into the
// event's data block. Events reach the wire in the exact order Send is
// called. After the connection leaves its open state Send is a no-op and
// returns nil; it never fails because the client went away.
//
// Event payloads are not validated against the endpoint's declared event
// schemas; the handler is trusted on the outbound path.
func (s *EventStream) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatch: encode event %q: %w", event, err)
	}
	return s.write(wire.AppendEvent(nil, event, data))
}

// Comment emits an SSE comment block. Clients ignore comments, which makes
// them the vehicle for handler-defined heartbeats on idle streams.
func (s *EventStream) Comment(text string) error {
	return s.write(wire.AppendComment(nil, text))
}

func (s *EventStream) write(block []byte) error {
	s.mu.Lock()
	if !s.conn.isOpen() {
		s.mu.Unlock()
		return nil
	}
	_, err := s.w.Write(block)
	if err == nil {
		s.flusher.Flush()
	}
	s.mu.Unlock()
	if err != nil {
		// The sink is gone; further sends become no-ops. Teardown runs
		// outside the mutex so token callbacks may call Send themselves.
		s.conn.shutdown()
	}
	return nil
}

// servePushEvent accepts a push-event connection: upgrade-phase validation
// (params, query, and headers, no body), then a single long-running handler
// invocation with the emitter and cancellation token.
func (d *Dispatcher) servePushEvent(w http.ResponseWriter, r *http.Request, ep *contract.Endpoint, params map[string]string) {
	ctx := r.Context()

	in, err := validateRequest(r, ep, params, false)
	if err != nil {
		d.rejectRequest(ctx, w, ep, err)
		return
	}

	handler, found := d.pushEvent[ep.Name]
	if !found {
		d.log(ctx, slog.LevelError, "no handler registered", "endpoint", ep.Name)
		writeServerFault(w, fmt.Sprintf("no handler registered for endpoint %q", ep.Name))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeServerFault(w, "push-event transport requires a flushable response writer")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := newConn()
	c.advance(StateOpen)
	stream := &EventStream{conn: c, w: w, flusher: flusher}

	start := time.Now()
	d.hooks.dispatch(ctx, ep.Name, ep.Kind)
	d.hooks.streamOpen(ctx, ep.Name, c.id, ep.Kind)
	d.log(ctx, slog.LevelDebug, "push-event stream open", "endpoint", ep.Name, "conn", c.id)

	// Client disconnect transitions the connection and fires the token;
	// the watcher exits once either side ends the stream.
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			c.shutdown()
		case <-c.token.Done():
		}
	}()

	cleanup, err := d.invokePushEvent(ctx, handler, in, stream)
	c.addRelease(cleanup)
	c.shutdown()
	<-watcherDone

	duration := time.Since(start)
	if err != nil {
		d.hooks.failure(ctx, ep.Name, err, duration)
		d.log(ctx, slog.LevelError, "push-event handler failed", "endpoint", ep.Name, "conn", c.id, "error", err)
	}
	d.hooks.streamClose(ctx, ep.Name, c.id, ep.Kind, duration)
	d.log(ctx, slog.LevelDebug, "push-event stream closed", "endpoint", ep.Name, "conn", c.id)
}

func (d *Dispatcher) invokePushEvent(ctx context.Context, h PushEventHandler, in *Input, stream *EventStream) (cleanup func(), err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("dispatch: handler panic: %v", rec)
		}
	}()
	return h(ctx, in, stream)
}
