package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/dispatch"
	"github.com/kessig/switchboard/wire"
)

// Message is one inbound envelope from a message session, validated
// against the endpoint's server-message schemas.
type Message struct {
	Type    string
	Payload any
}

// ErrorPayload returns the decoded payload of a reserved "error" envelope
// and reports whether the message is one. Error envelopes bypass schema
// validation so the engine's automatic replies always reach the caller.
func (m *Message) ErrorPayload() (*wire.ErrorPayload, bool) {
	if m.Type != wire.ErrorEnvelopeType {
		return nil, false
	}
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, false
	}
	var p wire.ErrorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	return &p, true
}

// Session is a client-side message-transport connection.
type Session struct {
	endpoint *contract.Endpoint
	conn     *websocket.Conn

	writeMu sync.Mutex
}

// Connect dials the named message endpoint and returns the established
// session. Request headers ride along with the handshake.
func (c *Client) Connect(ctx context.Context, name string, req *Request) (*Session, error) {
	ep, err := c.endpointOfKind(name, contract.KindMessage)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &Request{}
	}

	path, err := ep.Matcher().Interpolate(req.Params)
	if err != nil {
		return nil, err
	}
	target := wsURL(c.baseURL) + path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	header := make(http.Header)
	for key, values := range c.header {
		header[key] = append([]string(nil), values...)
	}
	for key, values := range req.Header {
		header[key] = append(header[key], values...)
	}

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, responseError(name, resp)
		}
		return nil, fmt.Errorf("client: connect %s: %w", name, err)
	}
	return &Session{endpoint: ep, conn: conn}, nil
}

// Send serializes a typed message to its envelope and writes it.
func (s *Session) Send(msgType string, payload any) error {
	frame, err := wire.EncodeEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Recv blocks until the next server message arrives, validating it
// against the endpoint's declared server messages. Reserved "error"
// envelopes are delivered as-is.
func (s *Session) Recv() (*Message, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		env, err := wire.DecodeEnvelope(data)
		if err != nil {
			return nil, fmt.Errorf("client: decode envelope: %w", err)
		}

		var payload any
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return nil, fmt.Errorf("client: decode payload for %q: %w", env.Type, err)
			}
		}

		if env.Type == wire.ErrorEnvelopeType {
			return &Message{Type: env.Type, Payload: payload}, nil
		}

		schema, known := s.endpoint.ServerMessages[env.Type]
		if !known {
			return nil, &dispatch.MessageValidationError{
				Type:   env.Type,
				Issues: contract.Invalid("type", "unknown_type", fmt.Sprintf("undeclared message type %q", env.Type)),
			}
		}
		if schema != nil {
			out, issues := schema.Parse(payload)
			if len(issues) > 0 {
				return nil, &dispatch.MessageValidationError{Type: env.Type, Issues: issues}
			}
			payload = out
		}
		return &Message{Type: env.Type, Payload: payload}, nil
	}
}

// Close performs the close handshake and drops the connection.
func (s *Session) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// wsURL rewrites an HTTP base URL to its WebSocket scheme.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
