package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatwire/pkg/interfaces"
)

// State is the lifecycle position of a connection handle.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Options bound the I/O behavior of a single connection.
type Options struct {
	// SendBuffer is the outbound queue depth between Send and the writer
	// goroutine.
	SendBuffer int
	// SendTimeout bounds how long Send waits for queue space.
	SendTimeout time.Duration
	// WriteTimeout is the per-frame write deadline on the wire.
	WriteTimeout time.Duration
}

// DefaultOptions mirror the config defaults for callers outside the app
// wiring (tests, tools).
func DefaultOptions() Options {
	return Options{
		SendBuffer:   100,
		SendTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Connection wraps one WebSocket with a single-writer pump. Gorilla permits
// only one concurrent writer per conn, so every outbound frame goes through
// sendCh and exactly one goroutine touches the wire.
type Connection struct {
	userID string
	ws     *websocket.Conn

	sendCh    chan []byte
	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	opts   Options
	logger *zap.Logger
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps ws for the authenticated userID and starts the writer
// pump.
func NewConnection(ws *websocket.Conn, userID string, opts Options, logger *zap.Logger) *Connection {
	if opts.SendBuffer <= 0 {
		opts = DefaultOptions()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		userID: userID,
		ws:     ws,
		sendCh: make(chan []byte, opts.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		logger: logger.Named("conn").With(zap.String("user_id", userID)),
	}
	c.state.Store(int32(StateOpen))
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug("set write deadline failed", zap.Error(err))
				c.teardown()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.teardown()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send transmits one text frame. It blocks at most SendTimeout waiting for
// queue space and never performs I/O itself.
func (c *Connection) Send(payload []byte) error {
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}

	timer := time.NewTimer(c.opts.SendTimeout)
	defer timer.Stop()

	select {
	case c.sendCh <- payload:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// SendJSON marshals v and transmits it as one text frame.
func (c *Connection) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrEncodeFailed
	}
	return c.Send(data)
}

// State reports the connection lifecycle position.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// UserID returns the authenticated owner.
func (c *Connection) UserID() string {
	return c.userID
}

// Done is closed when the connection tears down. The read loop and the ping
// ticker key off this.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close tears the connection down. Safe to call multiple times and from
// multiple goroutines; after the first call the handle is Closed and Send
// returns ErrConnectionClosed.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.cancel()
		err = c.ws.Close()
		c.state.Store(int32(StateClosed))
	})
	return err
}

// teardown is the writer-side failure path: the peer is unreachable, so the
// handle closes itself and pending sends fail fast.
func (c *Connection) teardown() {
	_ = c.Close()
}
