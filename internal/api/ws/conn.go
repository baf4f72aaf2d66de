package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roundtable/relay/internal/protocol"
)

const writeWait = 10 * time.Second

// Conn wraps one websocket with a write mutex. Gorilla allows a single
// concurrent writer, but router goroutines, the queue drain and the
// pinger all write to the same socket.
type Conn struct {
	socket *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newConn(socket *websocket.Conn) *Conn {
	return &Conn{socket: socket}
}

// Send encodes the event as JSON and writes it as one text frame.
func (c *Conn) Send(event any) error {
	data, err := protocol.Encode(event)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close tears the socket down. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.socket.Close()
}
