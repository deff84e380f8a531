// Package wire defines the byte-level shapes shared by the server dispatcher
// and the client: the bidirectional message envelope, chunked-stream frames,
// push-event framing, and the standard error body.
//
// Both sides encode and decode through this package so the formats cannot
// diverge.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kessig/switchboard/contract"
)

// Envelope is the unit exchanged over the message transport, in both
// directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorEnvelopeType is the reserved envelope type for engine-generated
// error replies on the message transport.
const ErrorEnvelopeType = "error"

// ValidationErrorCode is the code carried by engine-generated error
// envelopes for unknown or invalid inbound messages.
const ValidationErrorCode = "VALIDATION_ERROR"

// ErrorPayload is the payload of a reserved "error" envelope.
type ErrorPayload struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Issues  []contract.Issue `json:"issues,omitempty"`
}

// EncodeEnvelope serializes a typed message to its wire form.
func EncodeEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %q payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// DecodeEnvelope parses an inbound frame into an Envelope.
//
// The type field must be present and be a string; its absence is reported as
// an error so the caller can surface a validation failure rather than a
// transport fault.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	if !gjson.ValidBytes(frame) {
		return nil, fmt.Errorf("wire: envelope is not valid JSON")
	}
	t := gjson.GetBytes(frame, "type")
	if t.Type != gjson.String {
		return nil, fmt.Errorf("wire: envelope has no string type field")
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return &env, nil
}

// Chunked-stream frame kinds. Every frame is one JSON object per line with a
// "kind" discriminator, so a chunk payload can never be mistaken for the
// terminal frame.
const (
	FrameChunk = "chunk"
	FrameFinal = "final"
)

type valueFrame struct {
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

type bareFrame struct {
	Kind string `json:"kind"`
}

// EncodeChunk serializes one data chunk frame.
func EncodeChunk(value any) ([]byte, error) {
	b, err := json.Marshal(valueFrame{Kind: FrameChunk, Value: value})
	if err != nil {
		return nil, fmt.Errorf("wire: encode chunk: %w", err)
	}
	return b, nil
}

// EncodeFinal serializes the terminal frame. When hasValue is false the frame
// carries no value field at all, distinguishing "no final value" from a final
// value of null.
func EncodeFinal(value any, hasValue bool) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if hasValue {
		b, err = json.Marshal(valueFrame{Kind: FrameFinal, Value: value})
	} else {
		b, err = json.Marshal(bareFrame{Kind: FrameFinal})
	}
	if err != nil {
		return nil, fmt.Errorf("wire: encode final frame: %w", err)
	}
	return b, nil
}

// Frame is a decoded chunked-stream frame.
type Frame struct {
	Kind     string
	Value    json.RawMessage
	HasValue bool
}

// DecodeFrame parses one NDJSON line into a Frame.
func DecodeFrame(line []byte) (*Frame, error) {
	if !gjson.ValidBytes(line) {
		return nil, fmt.Errorf("wire: frame is not valid JSON")
	}
	kind := gjson.GetBytes(line, "kind")
	if kind.Type != gjson.String {
		return nil, fmt.Errorf("wire: frame has no string kind field")
	}
	switch kind.Str {
	case FrameChunk, FrameFinal:
	default:
		return nil, fmt.Errorf("wire: unknown frame kind %q", kind.Str)
	}
	f := &Frame{Kind: kind.Str}
	value := gjson.GetBytes(line, "value")
	if value.Exists() {
		f.HasValue = true
		f.Value = json.RawMessage(value.Raw)
	}
	return f, nil
}

// AppendEvent appends one push-event block in SSE text framing:
//
//	event: <name>
//	data: <payload>
//
// terminated by a blank line. Multi-line payloads get one data: line per
// payload line, per the SSE format.
func AppendEvent(dst []byte, name string, data []byte) []byte {
	dst = append(dst, "event: "...)
	dst = append(dst, name...)
	dst = append(dst, '\n')
	for _, line := range strings.Split(string(data), "\n") {
		dst = append(dst, "data: "...)
		dst = append(dst, line...)
		dst = append(dst, '\n')
	}
	dst = append(dst, '\n')
	return dst
}

// AppendComment appends an SSE comment block (": <text>\n\n"). Comments are
// ignored by clients and exist so handlers can run heartbeats over an
// otherwise idle stream.
func AppendComment(dst []byte, text string) []byte {
	dst = append(dst, ": "...)
	dst = append(dst, text...)
	dst = append(dst, "\n\n"...)
	return dst
}

// ErrorBody is the standard error response shape for one-shot requests.
//
// Validation failures carry Field and Issues; routing failures carry
// Message.
type ErrorBody struct {
	Error   string           `json:"error"`
	Field   string           `json:"field,omitempty"`
	Message string           `json:"message,omitempty"`
	Issues  []contract.Issue `json:"issues,omitempty"`
}
