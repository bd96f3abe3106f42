// Package bridge exposes a local transport, usually a serial device, to one
// remote session at a time over a PIN-protected WebSocket endpoint.
package bridge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/1ureka/commlink/internal/transport"
	"github.com/1ureka/commlink/internal/util"
)

const (
	pinLength        = 4
	relayChunkSize   = 1024
	relayReadTimeout = 100 * time.Millisecond
	deviceQueueSize  = 16
	maxBacklog       = 64 * 1024 // device bytes held while no client is attached
)

// ErrDevice marks relay failures on the local transport side.
var ErrDevice = errors.New("device transport failed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server relays bytes between a device transport and a WebSocket client.
type Server struct {
	pin      string
	device   transport.Transport
	listener net.Listener
	srv      *http.Server
	connCh   chan *websocket.Conn
	busy     *atomic.Bool
	stats    util.Stats

	chunks  chan []byte // device reads, in order
	backlog []byte      // device bytes not yet delivered; Serve goroutine only
}

// NewServer creates a bridge for device. An empty pin gets a random one.
func NewServer(device transport.Transport, pin string) *Server {
	if pin == "" {
		pin = GeneratePIN(pinLength)
	}
	return &Server{
		pin:    pin,
		device: device,
		connCh: make(chan *websocket.Conn, 1),
		busy:   atomic.NewBool(false),
		chunks: make(chan []byte, deviceQueueSize),
	}
}

// PIN returns the value clients must pass as the pin query parameter.
func (s *Server) PIN() string { return s.pin }

// Counters exposes relay traffic in bytes: sent is device to client,
// received is client to device. No frames are counted.
func (s *Server) Counters() *util.Stats { return &s.stats }

// Start begins listening on addr (":0" picks a free port) and returns the
// bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start bridge server: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		_ = s.srv.Serve(listener)
	}()

	return listener.Addr(), nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if pin != s.pin {
		util.LogWarning("bridge: rejected client %s (invalid PIN)", r.RemoteAddr)
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only one client at a time.
	if !s.busy.CompareAndSwap(false, true) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
		return
	}
	s.connCh <- conn
}

// Serve relays for each client in turn until ctx ends or the device
// transport closes, whether or not a client is attached. Client disconnects
// are logged and do not stop the bridge. Device bytes that arrive between
// clients are held, up to 64 KiB, and delivered to the next client.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	devErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readDevice(ctx, devErr)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		conn, err := s.waitForClient(ctx, devErr)
		if err != nil {
			return err
		}
		util.LogInfo("bridge: client connected from %s", conn.RemoteAddr())

		err = s.relay(ctx, conn, devErr)
		s.busy.Store(false)

		switch {
		case errors.Is(err, ErrDevice) && transport.IsClosed(err):
			return err
		case err == nil, transport.IsClosed(err):
			util.LogInfo("bridge: client disconnected")
		default:
			util.LogWarning("bridge: client disconnected: %v", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// waitForClient blocks until a client connects, holding device output
// meanwhile. It fails when ctx ends or the device closes.
func (s *Server) waitForClient(ctx context.Context, devErr <-chan error) (*websocket.Conn, error) {
	for {
		select {
		case conn := <-s.connCh:
			return conn, nil
		case chunk := <-s.chunks:
			s.hold(chunk)
		case err := <-devErr:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// readDevice is the only reader of the device. It forwards chunks in order
// and reports a closed device on errc.
func (s *Server) readDevice(ctx context.Context, errc chan<- error) {
	buf := make([]byte, relayChunkSize)
	for ctx.Err() == nil {
		n, err := s.device.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err == nil {
			continue
		}
		if transport.IsClosed(err) {
			errc <- sideError(true, "read", err)
			return
		}
		util.LogWarning("bridge: device read failed: %v", err)
		select {
		case <-time.After(relayReadTimeout):
		case <-ctx.Done():
			return
		}
	}
}

// hold appends device bytes to the backlog, dropping the oldest beyond
// maxBacklog.
func (s *Server) hold(chunk []byte) {
	s.backlog = append(s.backlog, chunk...)
	if over := len(s.backlog) - maxBacklog; over > 0 {
		util.LogWarning("bridge: no client attached, dropped %d device byte(s)", over)
		s.backlog = append([]byte(nil), s.backlog[over:]...)
	}
}

// relay copies both directions until either side fails, the device closes
// or ctx ends. Device bytes that cannot be written to the client stay in the
// backlog, and the device is left open for the next client.
func (s *Server) relay(ctx context.Context, conn *websocket.Conn, devErr <-chan error) error {
	client := transport.NewWebSocket(conn, relayReadTimeout)
	defer client.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if len(s.backlog) > 0 {
		if err := transport.WriteAll(client, s.backlog); err != nil {
			return sideError(false, "write", err)
		}
		s.stats.AddSentBytes(len(s.backlog))
		s.backlog = nil
	}

	upErr := make(chan error, 1)
	go func() { upErr <- s.pumpToDevice(ctx, client) }()

	for {
		select {
		case chunk := <-s.chunks:
			if err := transport.WriteAll(client, chunk); err != nil {
				s.hold(chunk)
				cancel()
				<-upErr
				return sideError(false, "write", err)
			}
			s.stats.AddSentBytes(len(chunk))
		case err := <-upErr:
			return err
		case err := <-devErr:
			cancel()
			<-upErr
			return err
		case <-ctx.Done():
			return <-upErr
		}
	}
}

// pumpToDevice copies client bytes to the device until ctx ends or an I/O
// error occurs.
func (s *Server) pumpToDevice(ctx context.Context, client transport.Transport) error {
	buf := make([]byte, relayChunkSize)
	for ctx.Err() == nil {
		n, err := client.Read(buf)
		if n > 0 {
			if werr := transport.WriteAll(s.device, buf[:n]); werr != nil {
				return sideError(true, "write", werr)
			}
			s.stats.AddRecv(n)
		}
		if err != nil {
			return sideError(false, "read", err)
		}
	}
	return nil
}

func sideError(device bool, op string, err error) error {
	if device {
		return fmt.Errorf("%w: %s: %w", ErrDevice, op, err)
	}
	return fmt.Errorf("client %s: %w", op, err)
}

// Close stops accepting clients and drops any client still waiting to be
// served.
func (s *Server) Close() error {
	var errs []error
	if s.srv != nil {
		errs = append(errs, s.srv.Close())
	}
	select {
	case conn := <-s.connCh:
		errs = append(errs, conn.Close())
	default:
	}
	return errors.Join(errs...)
}

// GeneratePIN returns a random numeric PIN of the specified length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
