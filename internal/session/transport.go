package session

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSTransport adapts a gorilla/websocket connection to the Transport
// interface. A read pump goroutine watches for client close frames and
// read errors; inbound payloads are otherwise ignored, the stream is
// server-push only.
type WSTransport struct {
	conn      *websocket.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

// NewWSTransport wraps an upgraded WebSocket connection and starts its
// read pump.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	t := &WSTransport{
		conn:   conn,
		closed: make(chan struct{}),
	}
	go t.readPump()
	return t
}

// Send writes a text message to the client. Called from the session's
// writer goroutine only; gorilla permits a single concurrent writer.
func (t *WSTransport) Send(payload string) error {
	return t.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// Closed is closed when the client disconnects or sends a close frame.
func (t *WSTransport) Closed() <-chan struct{} {
	return t.closed
}

// Close tears down the underlying connection. Safe to call more than
// once; the read pump observes the closed connection and exits.
func (t *WSTransport) Close() error {
	return t.conn.Close()
}

func (t *WSTransport) readPump() {
	defer t.closeOnce.Do(func() { close(t.closed) })
	for {
		if _, _, err := t.conn.ReadMessage(); err != nil {
			return
		}
	}
}
