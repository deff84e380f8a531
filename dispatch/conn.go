package dispatch

import (
	"sync"

	"github.com/google/uuid"
)

// ConnState is the lifecycle state of a long-lived connection. Transitions
// are monotonic: a connection never re-enters an earlier state.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

// String implements fmt.Stringer.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// CancelToken is a one-shot cancellation signal for a long-lived connection.
//
// It supports both handler styles: poll Cancelled between work units, or
// register a callback with OnCancel. The token fires exactly once, on the
// first of client disconnect, explicit close, or handler completion.
type CancelToken struct {
	done chan struct{}

	mu        sync.Mutex
	fired     bool
	callbacks []func()
}

func newCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Done returns a channel closed when the token fires.
func (t *CancelToken) Done() <-chan struct{} { return t.done }

// Cancelled reports whether the token has fired.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// OnCancel registers fn to run when the token fires. If the token has
// already fired, fn runs immediately. Each registered function runs exactly
// once.
func (t *CancelToken) OnCancel(fn func()) {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}

// fire closes the done channel and runs registered callbacks. Safe to call
// more than once; only the first call has any effect.
func (t *CancelToken) fire() {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	callbacks := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// conn is the shared state machine behind every long-lived transport
// connection. The owning transport is the only writer to its sink; conn
// serializes state transitions and release actions.
type conn struct {
	id    string
	token *CancelToken

	mu       sync.Mutex
	state    ConnState
	released bool
	releases []func()
}

func newConn() *conn {
	return &conn{
		id:    uuid.NewString(),
		token: newCancelToken(),
		state: StateConnecting,
	}
}

// advance moves the connection forward to the given state. Backward moves
// are ignored, keeping the lifecycle monotonic.
func (c *conn) advance(to ConnState) {
	c.mu.Lock()
	if to > c.state {
		c.state = to
	}
	c.mu.Unlock()
}

func (c *conn) currentState() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *conn) isOpen() bool {
	return c.currentState() == StateOpen
}

// addRelease registers a release action to run at teardown. If the
// connection is already torn down, fn runs immediately.
func (c *conn) addRelease(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		fn()
		return
	}
	c.releases = append(c.releases, fn)
	c.mu.Unlock()
}

// shutdown drives the connection to closed, fires the cancellation token,
// and runs release actions. Idempotent: closing twice is safe.
func (c *conn) shutdown() {
	c.mu.Lock()
	if c.state < StateClosing {
		c.state = StateClosing
	}
	already := c.released
	c.released = true
	releases := c.releases
	c.releases = nil
	c.state = StateClosed
	c.mu.Unlock()

	c.token.fire()
	if already {
		return
	}
	for _, fn := range releases {
		fn()
	}
}
