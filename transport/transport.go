// Package transport owns the framed duplex connection between one terminal
// session and the PTY bridge.
//
// A Channel delivers frames to its callbacks strictly in arrival order from
// a single reader goroutine. Lifecycle callbacks fire at most once each:
// OnOpen when the dial succeeds, OnError on the first failure, OnClose when
// the connection ends (always after OnOpen, never without it).
package transport

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/termbridge/termbridge/logging"
)

var logf = logging.Component("transport")

// State is the lifecycle state of a channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Callbacks receive channel events. Nil members are skipped. All callbacks
// are invoked from the channel's goroutines; implementations must not block.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(frame []byte)
	OnClose   func()
	OnError   func(err error)
}

// maxFrameSize bounds a single inbound frame (1 MB, matching the bridge).
const maxFrameSize = 1024 * 1024

// Channel is one framed, message-oriented duplex connection. At most one
// non-terminal Channel exists per session at any time; the owning engine
// replaces it on every connect attempt.
type Channel struct {
	cb Callbacks

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	cancel    context.CancelFunc
	errorSent bool
}

// NewChannel creates an idle channel. No connection exists until Open.
func NewChannel(cb Callbacks) *Channel {
	return &Channel{cb: cb}
}

// Open starts connecting to endpoint and returns immediately. Connection
// failures are reported through OnError, never synchronously. Opening a
// channel that has already been opened is a no-op.
func (c *Channel) Open(ctx context.Context, endpoint string) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c.state = StateConnecting
	c.cancel = cancel
	c.mu.Unlock()

	go c.dial(dialCtx, endpoint)
}

func (c *Channel) dial(ctx context.Context, endpoint string) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		c.mu.Lock()
		closed := c.state == StateClosed
		if !closed {
			c.state = StateFailed
		}
		c.mu.Unlock()
		// A deliberate Close while the dial was in flight is not a
		// failure; only a genuine dial error is reported.
		if !closed && ctx.Err() == nil {
			c.fireError(err)
		}
		return
	}
	conn.SetReadLimit(maxFrameSize)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while the dial was in flight.
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}

	c.readLoop(ctx, conn)
}

// readLoop delivers frames one at a time until the connection ends, then
// fires OnClose exactly once.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			wasClosed := c.state == StateClosed
			c.state = StateClosed
			c.conn = nil
			c.mu.Unlock()

			// A deliberate Close or a clean peer close is not an error.
			if !wasClosed && websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				c.fireError(err)
			}
			if c.cb.OnClose != nil {
				c.cb.OnClose()
			}
			return
		}
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(frame)
		}
	}
}

func (c *Channel) fireError(err error) {
	c.mu.Lock()
	sent := c.errorSent
	c.errorSent = true
	c.mu.Unlock()
	if sent || c.cb.OnError == nil {
		return
	}
	c.cb.OnError(err)
}

// Send writes one text frame. Outside the Open state the frame is silently
// dropped: callers gate sends on state and dropped input is an accepted
// limitation of the protocol.
func (c *Channel) Send(frame []byte) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return
	}

	if err := conn.Write(context.Background(), websocket.MessageText, frame); err != nil {
		logf.Printf("write failed: %v", err)
	}
}

// State returns the current channel state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the channel down. Closing a channel that never opened, or one
// already closed, is a no-op; the method never panics and is safe to call
// multiple times.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.state == StateOpen || c.state == StateConnecting {
		c.state = StateClosed
	}
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	if cancel != nil {
		cancel()
	}
}
