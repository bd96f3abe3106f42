package transport

import (
	"sync"
	"time"
)

// stream is one direction of an in-memory byte link.
type stream struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
	ready  chan struct{} // signalled on every write and on close
}

func newStream() *stream {
	return &stream{ready: make(chan struct{}, 1)}
}

func (s *stream) notify() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *stream) write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.buf = append(s.buf, p...)
	s.notify()
	return len(p), nil
}

// read waits up to timeout for data. Buffered bytes are still returned after
// close; only an empty closed stream reports ErrClosed.
func (s *stream) read(p []byte, timeout time.Duration) (int, error) {
	var deadline <-chan time.Time
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			n := copy(p, s.buf)
			s.buf = s.buf[n:]
			if len(s.buf) > 0 {
				s.notify()
			}
			s.mu.Unlock()
			return n, nil
		}
		if s.closed {
			s.mu.Unlock()
			return 0, ErrClosed
		}
		s.mu.Unlock()

		if deadline == nil {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-s.ready:
		case <-deadline:
			return 0, nil
		}
	}
}

func (s *stream) close() {
	s.mu.Lock()
	s.closed = true
	s.notify()
	s.mu.Unlock()
}

// memTransport reads from in and writes to out.
type memTransport struct {
	in, out   *stream
	timeout   time.Duration
	closeOnce sync.Once
}

func (m *memTransport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return m.in.read(p, m.timeout)
}

func (m *memTransport) Write(p []byte) (int, error) {
	return m.out.write(p)
}

func (m *memTransport) Close() error {
	m.closeOnce.Do(func() {
		m.in.close()
		m.out.close()
	})
	return nil
}

// NewLoopback returns a transport whose writes are read back by itself, like
// a serial adapter with TX wired to RX.
func NewLoopback(readTimeout time.Duration) Transport {
	s := newStream()
	return &memTransport{in: s, out: s, timeout: readTimeout}
}

// Pipe returns two connected transports: bytes written to one are read from
// the other. Closing either end closes the link.
func Pipe(readTimeout time.Duration) (Transport, Transport) {
	ab, ba := newStream(), newStream()
	a := &memTransport{in: ba, out: ab, timeout: readTimeout}
	b := &memTransport{in: ab, out: ba, timeout: readTimeout}
	return a, b
}
