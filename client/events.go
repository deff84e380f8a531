package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/dispatch"
)

// Event is one server-pushed event, decoded and validated against the
// endpoint's event schemas.
type Event struct {
	Name string
	Data any
}

// EventStream consumes a push-event endpoint. Events arrive in the order
// the server emitted them.
type EventStream struct {
	endpoint *contract.Endpoint
	body     io.ReadCloser
	scanner  *bufio.Scanner
}

// Events subscribes to the named push-event endpoint. The caller must
// Close the stream when done; cancelling ctx also tears it down.
func (c *Client) Events(ctx context.Context, name string, req *Request) (*EventStream, error) {
	ep, err := c.endpointOfKind(name, contract.KindPushEvent)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, ep, req, false)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("client: subscribe %s: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(name, resp)
	}

	return &EventStream{
		endpoint: ep,
		body:     resp.Body,
		scanner:  newLineScanner(resp.Body),
	}, nil
}

// Next blocks until the next event arrives. It returns io.EOF when the
// server ends the stream.
func (s *EventStream) Next() (*Event, error) {
	var name string
	var data strings.Builder

	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			// Blank line ends the event block; skip heartbeat blocks that
			// carried no fields.
			if name == "" && data.Len() == 0 {
				continue
			}
			raw := data.String()
			var payload any
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &payload); err != nil {
					return nil, fmt.Errorf("client: decode event %q: %w", name, err)
				}
			}
			return s.decodeEvent(name, payload)
		case strings.HasPrefix(line, ":"):
			// Comment line, used for keep-alive heartbeats.
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// decodeEvent validates a parsed event block against the endpoint's event
// schemas. An undeclared event name or a failing payload is a contract
// violation by the server.
func (s *EventStream) decodeEvent(name string, payload any) (*Event, error) {
	schema, known := s.endpoint.Events[name]
	if !known {
		return nil, &dispatch.MessageValidationError{
			Type:   name,
			Issues: contract.Invalid("event", "unknown_event", fmt.Sprintf("undeclared event %q", name)),
		}
	}
	if schema != nil {
		out, issues := schema.Parse(payload)
		if len(issues) > 0 {
			return nil, &dispatch.MessageValidationError{Type: name, Issues: issues}
		}
		payload = out
	}
	return &Event{Name: name, Data: payload}, nil
}

// Close tears down the subscription.
func (s *EventStream) Close() error {
	return s.body.Close()
}
