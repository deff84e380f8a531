package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/wire"
)

// ChunkStreamHandler is the handler type for chunked-stream endpoints. The
// single request is validated normally (body included); the response is an
// open-ended sequence of frames written through the stream.
//
// The handler should call stream.Close to finish the stream, check
// stream.IsOpen between work units, and stop producing promptly after the
// client disconnects. A returned error abandons the stream.
type ChunkStreamHandler func(ctx context.Context, in *Input, stream *ChunkStream) error

// ChunkStream is the write capability handed to a chunked-stream handler.
// Frames reach the wire strictly in the order Send and Close are called.
type ChunkStream struct {
	conn        *conn
	finalSchema contract.Schema
	w           http.ResponseWriter
	flusher     http.Flusher

	mu     sync.Mutex
	closed bool
}

// ID returns the connection's unique identifier.
func (s *ChunkStream) ID() string { return s.conn.id }

// IsOpen reports whether the stream can still accept frames.
func (s *ChunkStream) IsOpen() bool { return s.conn.isOpen() }

// Cancellation returns the connection's one-shot cancellation token.
func (s *ChunkStream) Cancellation() *CancelToken { return s.conn.token }

// Send emits one data chunk as a single NDJSON frame. After Close, or after
// the client has disconnected, Send is a no-op and returns nil.
//
// Chunk payloads are not validated against the endpoint's declared chunk
// schema; the handler is trusted on the outbound path.
func (s *ChunkStream) Send(chunk any) error {
	s.mu.Lock()
	if s.closed || !s.conn.isOpen() {
		s.mu.Unlock()
		return nil
	}
	frame, err := wire.EncodeChunk(chunk)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	ok := s.writeFrame(frame)
	s.mu.Unlock()
	if !ok {
		s.conn.shutdown()
	}
	return nil
}

// Close emits exactly one terminal frame carrying the optional final value
// and irreversibly closes the stream. Calling Close again, or Send after
// Close, is a no-op.
//
// When the endpoint declares a final-response schema, the final value is
// validated against it first; on failure Close returns a
// ResponseContractError, no terminal frame is emitted, and the stream is
// abandoned.
func (s *ChunkStream) Close(final ...any) error {
	s.mu.Lock()
	if s.closed || !s.conn.isOpen() {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	hasValue := len(final) > 0
	var value any
	if hasValue {
		value = final[0]
	}

	if hasValue && s.finalSchema != nil {
		out, issues := s.finalSchema.Parse(value)
		if len(issues) > 0 {
			s.mu.Unlock()
			s.conn.shutdown()
			return &ResponseContractError{Status: http.StatusOK, Issues: issues}
		}
		value = out
	}

	frame, err := wire.EncodeFinal(value, hasValue)
	if err == nil {
		s.writeFrame(frame)
	}
	// Teardown happens outside the stream mutex: the cancellation token runs
	// callbacks inline, and a callback is allowed to call Send or Close.
	s.mu.Unlock()
	s.conn.shutdown()
	return err
}

// writeFrame writes one frame plus its newline delimiter. Callers hold mu
// and handle connection teardown on failure after releasing it.
func (s *ChunkStream) writeFrame(frame []byte) bool {
	if _, err := s.w.Write(append(frame, '\n')); err != nil {
		return false
	}
	s.flusher.Flush()
	return true
}

// serveChunkStream accepts a chunked-stream connection: a standard-shaped
// request whose response is an open-ended NDJSON stream.
func (d *Dispatcher) serveChunkStream(w http.ResponseWriter, r *http.Request, ep *contract.Endpoint, params map[string]string) {
	ctx := r.Context()

	in, err := validateRequest(r, ep, params, true)
	if err != nil {
		d.rejectRequest(ctx, w, ep, err)
		return
	}

	handler, found := d.chunked[ep.Name]
	if !found {
		d.log(ctx, slog.LevelError, "no handler registered", "endpoint", ep.Name)
		writeServerFault(w, fmt.Sprintf("no handler registered for endpoint %q", ep.Name))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeServerFault(w, "chunked-stream transport requires a flushable response writer")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := newConn()
	c.advance(StateOpen)
	stream := &ChunkStream{
		conn:        c,
		finalSchema: ep.FinalResponse,
		w:           w,
		flusher:     flusher,
	}

	start := time.Now()
	d.hooks.dispatch(ctx, ep.Name, ep.Kind)
	d.hooks.streamOpen(ctx, ep.Name, c.id, ep.Kind)
	d.log(ctx, slog.LevelDebug, "chunked stream open", "endpoint", ep.Name, "conn", c.id)

	// If the client disconnects before Close, the connection closes with no
	// terminal frame and the cancellation fires.
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			c.shutdown()
		case <-c.token.Done():
		}
	}()

	err = d.invokeChunkStream(ctx, handler, in, stream)
	c.shutdown()
	<-watcherDone

	duration := time.Since(start)
	if err != nil {
		d.hooks.failure(ctx, ep.Name, err, duration)
		d.log(ctx, slog.LevelError, "chunked stream handler failed", "endpoint", ep.Name, "conn", c.id, "error", err)
	}
	d.hooks.streamClose(ctx, ep.Name, c.id, ep.Kind, duration)
	d.log(ctx, slog.LevelDebug, "chunked stream closed", "endpoint", ep.Name, "conn", c.id)
}

func (d *Dispatcher) invokeChunkStream(ctx context.Context, h ChunkStreamHandler, in *Input, stream *ChunkStream) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("dispatch: handler panic: %v", rec)
		}
	}()
	return h(ctx, in, stream)
}
