// Package transport defines the duplex byte-stream contract the session runs
// on, together with serial, WebSocket and in-memory implementations.
//
// Every Read is bounded: it returns (0, nil) once the configured read timeout
// elapses without data, so callers can poll a shutdown signal. A Transport is
// safe for one concurrent reader and one concurrent writer.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"go.bug.st/serial"
)

// ErrClosed is returned by Read and Write once the transport has been closed
// by either side.
var ErrClosed = errors.New("transport closed")

// Transport is a duplex byte source/sink with bounded reads.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Options describes the transport to open.
type Options struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// Opener opens a Transport. Sessions take one so tests can inject their own.
type Opener func(ctx context.Context, opts Options) (Transport, error)

// LoopbackPort selects the in-process echo transport.
const LoopbackPort = "loop://"

// Open picks an implementation from the port string: ws:// and wss:// dial a
// bridge, loop:// echoes writes back, anything else is a serial device.
func Open(ctx context.Context, opts Options) (Transport, error) {
	switch {
	case strings.HasPrefix(opts.Port, "ws://"), strings.HasPrefix(opts.Port, "wss://"):
		return DialWebSocket(ctx, opts.Port, opts.ReadTimeout)
	case opts.Port == LoopbackPort:
		return NewLoopback(opts.ReadTimeout), nil
	default:
		return OpenSerial(opts)
	}
}

// IsClosed reports whether err means the transport can no longer be used,
// as opposed to a transient I/O failure worth retrying.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return true
		}
	}
	return false
}

// WriteAll writes p in full, looping over short writes.
func WriteAll(t Transport, p []byte) error {
	for len(p) > 0 {
		n, err := t.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
