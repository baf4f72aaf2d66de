package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/roundtable/relay/internal/protocol"
)

// Transport is one live connection to the relay. Send must be safe for
// concurrent use; Receive is called from a single reader goroutine.
type Transport interface {
	Send(event any) error
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens a Transport. The websocket dialer is the production
// implementation; tests substitute an in-memory one.
type Dialer func(ctx context.Context, url string) (Transport, error)

type wsTransport struct {
	socket *websocket.Conn
	mu     sync.Mutex
}

// DialWebsocket opens a websocket transport to the relay.
func DialWebsocket(ctx context.Context, url string) (Transport, error) {
	socket, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &wsTransport{socket: socket}, nil
}

func (t *wsTransport) Send(event any) error {
	data, err := protocol.Encode(event)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.socket.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Receive() ([]byte, error) {
	_, data, err := t.socket.ReadMessage()
	return data, err
}

func (t *wsTransport) Close() error {
	return t.socket.Close()
}
