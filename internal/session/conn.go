// Package session manages the connections attached to an actor.
package session

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/chatd/internal/protocol"
)

var (
	// ErrBufferFull is returned when the send buffer is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrClosed is returned when delivering to a closed connection.
	ErrClosed = errors.New("connection closed")
)

// Sink is anything frames can be delivered to: a websocket connection or the
// collector of a request/response caller.
type Sink interface {
	ID() string
	Deliver(frame protocol.Outbound) error
	Open() bool
	Close() error
}

// Conn represents a single WebSocket connection bound to an actor.
type Conn struct {
	id      string
	actorID string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	open    atomic.Bool
	once    sync.Once
	mu      sync.Mutex
}

var _ Sink = (*Conn)(nil)

// NewConn wraps ws for actorID with a send buffer of the given size.
func NewConn(ws *websocket.Conn, actorID string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 256
	}
	c := &Conn{
		id:      uuid.New().String(),
		actorID: actorID,
		ws:      ws,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
	}
	c.open.Store(true)
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// ActorID returns the actor the connection belongs to.
func (c *Conn) ActorID() string { return c.actorID }

// Open reports whether the connection can still receive frames.
func (c *Conn) Open() bool { return c.open.Load() }

// Send is drained by the write pump.
func (c *Conn) Send() <-chan []byte { return c.send }

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Deliver encodes frame and queues it without blocking.
func (c *Conn) Deliver(frame protocol.Outbound) error {
	if !c.Open() {
		return ErrClosed
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(messageType, data)
}

// ReadMessage reads the next message. Only the read pump may call it.
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// SetPongHandler sets the handler for pong messages.
func (c *Conn) SetPongHandler(h func(appData string) error) {
	c.ws.SetPongHandler(h)
}

// Close marks the connection closed and closes the socket. It is safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.open.Store(false)
		close(c.done)
		if c.ws != nil {
			err = c.ws.Close()
		}
	})
	return err
}
