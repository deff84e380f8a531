package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/dispatch"
	"github.com/kessig/switchboard/wire"
)

// ErrTruncatedStream reports a chunked stream that ended without its
// terminal frame, which means the server abandoned it mid-flight.
var ErrTruncatedStream = errors.New("client: stream ended without terminal frame")

// ChunkStream consumes a chunked-stream endpoint. Chunks arrive in the
// order the server sent them; the terminal frame ends iteration.
type ChunkStream struct {
	endpoint *contract.Endpoint
	body     io.ReadCloser
	scanner  *bufio.Scanner

	final    any
	hasFinal bool
	done     bool
}

// Chunks starts a chunked-stream call against the named endpoint. The
// caller must Close the stream when done.
func (c *Client) Chunks(ctx context.Context, name string, req *Request) (*ChunkStream, error) {
	ep, err := c.endpointOfKind(name, contract.KindChunkedStream)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, ep, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("client: stream %s: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(name, resp)
	}

	return &ChunkStream{
		endpoint: ep,
		body:     resp.Body,
		scanner:  newLineScanner(resp.Body),
	}, nil
}

// Next returns the next chunk value, validated against the endpoint's
// chunk schema. It returns io.EOF once the terminal frame has arrived;
// the final value is then available from Final. A stream that drops
// before its terminal frame yields ErrTruncatedStream.
func (s *ChunkStream) Next() (any, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame, err := wire.DecodeFrame(line)
		if err != nil {
			return nil, fmt.Errorf("client: decode stream frame: %w", err)
		}
		switch frame.Kind {
		case wire.FrameChunk:
			value, err := decodeValue(frame.Value, s.endpoint.Chunk)
			if err != nil {
				return nil, err
			}
			return value, nil
		case wire.FrameFinal:
			s.done = true
			if frame.HasValue {
				value, err := decodeValue(frame.Value, s.endpoint.FinalResponse)
				if err != nil {
					return nil, err
				}
				s.final = value
				s.hasFinal = true
			}
			return nil, io.EOF
		default:
			return nil, fmt.Errorf("client: unknown frame kind %q", frame.Kind)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, ErrTruncatedStream
}

// decodeValue unmarshals a frame value and runs it through the declared
// schema, when the endpoint has one.
func decodeValue(raw []byte, schema contract.Schema) (any, error) {
	var value any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("client: decode frame value: %w", err)
		}
	}
	if schema != nil {
		out, issues := schema.Parse(value)
		if len(issues) > 0 {
			return nil, &dispatch.ResponseContractError{Status: http.StatusOK, Issues: issues}
		}
		value = out
	}
	return value, nil
}

// Final returns the terminal frame's value, when the stream carried one.
// It is meaningful only after Next has returned io.EOF.
func (s *ChunkStream) Final() (any, bool) {
	return s.final, s.hasFinal
}

// Close tears down the stream.
func (s *ChunkStream) Close() error {
	return s.body.Close()
}
