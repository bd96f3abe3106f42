package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsInboxSize    = 64
	wsCloseTimeout = time.Second
)

// wsTransport carries the byte stream as binary WebSocket messages. gorilla
// connections cannot survive a read deadline, so a pump goroutine owns
// ReadMessage and Read waits on the inbox with its own timer.
type wsTransport struct {
	conn    *websocket.Conn
	timeout time.Duration

	inbox   chan []byte
	pending []byte // unread tail of the last message, reader-goroutine only
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// DialWebSocket connects to a bridge at url and returns it as a Transport.
func DialWebSocket(ctx context.Context, url string, readTimeout time.Duration) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge %s: %w", url, err)
	}
	return NewWebSocket(conn, readTimeout), nil
}

// NewWebSocket wraps an established connection. The transport takes
// ownership of conn.
func NewWebSocket(conn *websocket.Conn, readTimeout time.Duration) Transport {
	t := &wsTransport{
		conn:    conn,
		timeout: readTimeout,
		inbox:   make(chan []byte, wsInboxSize),
		done:    make(chan struct{}),
	}
	go t.pump()
	return t
}

// pump moves incoming binary messages into the inbox until the connection
// fails or is closed.
func (t *wsTransport) pump() {
	defer t.shutdown()
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			t.setErr(err)
			return
		}
		if kind != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case t.inbox <- data:
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) Read(p []byte) (int, error) {
	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		return n, nil
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case data := <-t.inbox:
		return t.take(p, data), nil
	case <-t.done:
		select {
		case data := <-t.inbox:
			return t.take(p, data), nil
		default:
		}
		return 0, t.closedErr()
	case <-timer.C:
		return 0, nil
	}
}

func (t *wsTransport) take(p, data []byte) int {
	n := copy(p, data)
	t.pending = data[n:]
	return n
}

func (t *wsTransport) Write(p []byte) (int, error) {
	select {
	case <-t.done:
		return 0, t.closedErr()
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseTimeout))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

// shutdown marks the transport dead after the remote side went away.
func (t *wsTransport) shutdown() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.Close()
	})
}

func (t *wsTransport) setErr(err error) {
	t.errMu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.errMu.Unlock()
}

// closedErr always matches ErrClosed and carries the remote reason if any.
func (t *wsTransport) closedErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil || websocket.IsCloseError(t.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, t.err)
}
