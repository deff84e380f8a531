// Package wsbridge connects the dispatch message transport to WebSocket
// sockets. It owns the handshake (the dispatch engine never performs one)
// and adapts the established connection to dispatch.MessageSocket.
package wsbridge

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kessig/switchboard/dispatch"
)

const closeGracePeriod = 5 * time.Second

// Option configures an Upgrader.
type Option func(*Upgrader)

// WithCheckOrigin overrides the handshake origin check. The default
// accepts only same-origin requests, per gorilla's upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(u *Upgrader) { u.ws.CheckOrigin = fn }
}

// WithBufferSizes sets the connection I/O buffer sizes in bytes.
func WithBufferSizes(read, write int) Option {
	return func(u *Upgrader) {
		u.ws.ReadBufferSize = read
		u.ws.WriteBufferSize = write
	}
}

// Upgrader performs WebSocket handshakes for message endpoints and runs
// the resulting sessions. It implements dispatch.MessageUpgrader.
type Upgrader struct {
	ws websocket.Upgrader
}

// New creates an Upgrader.
func New(opts ...Option) *Upgrader {
	u := &Upgrader{
		ws: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upgrade switches the validated request to a WebSocket connection and
// drives the session to completion. It blocks for the lifetime of the
// session.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, session *dispatch.PendingSession) error {
	conn, err := u.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure to the client.
		return err
	}
	return session.Run(r.Context(), &socket{conn: conn})
}

// socket adapts a gorilla connection to dispatch.MessageSocket. Envelope
// frames travel as text messages.
type socket struct {
	conn *websocket.Conn
}

func (s *socket) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Control frames are handled inside gorilla; skip anything that is
		// not an envelope-bearing data frame.
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *socket) WriteMessage(frame []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *socket) Close() error {
	// Attempt a clean close handshake before dropping the connection.
	deadline := time.Now().Add(closeGracePeriod)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
