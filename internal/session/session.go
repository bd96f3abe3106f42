// Package session runs a framed message link over a Transport. It owns the
// transport, a reader loop that assembles inbound frames, a writer loop that
// encodes outbound messages, and the queues between them and the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/1ureka/commlink/internal/config"
	"github.com/1ureka/commlink/internal/protocol"
	"github.com/1ureka/commlink/internal/queue"
	"github.com/1ureka/commlink/internal/transport"
	"github.com/1ureka/commlink/internal/util"
)

// Tuning constants.
const (
	readChunkSize = 256                    // bytes requested per transport read
	errBufferSize = 16                     // pending out-of-band errors
	maxRetryPause = 100 * time.Millisecond // pause after a transient I/O error
)

// State is the session lifecycle stage. It only moves forward.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option customizes a Session at Open time.
type Option func(*Session)

// WithOpener replaces transport.Open, e.g. to inject an in-memory pipe.
func WithOpener(opener transport.Opener) Option {
	return func(s *Session) { s.opener = opener }
}

// WithPrinter replaces the verbose-mode printer.
func WithPrinter(p Printer) Option {
	return func(s *Session) { s.printer = p }
}

// Session is one open link. All methods are safe for concurrent use.
type Session struct {
	id      string
	cfg     config.Config
	codec   protocol.Codec
	opener  transport.Opener
	printer Printer
	tr      transport.Transport

	inbound  *queue.Queue[protocol.Message]
	outbound *queue.Queue[[]byte]

	// alive is the shutdown signal polled by the reader loop; ctx carries
	// the same signal to blocking queue operations.
	alive       *atomic.Bool
	state       *atomic.Int32
	ctx         context.Context
	cancel      context.CancelFunc
	writeCtx    context.Context
	cancelWrite context.CancelFunc
	wg          sync.WaitGroup

	stats util.Stats
	errs  chan error

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Open resolves cfg, opens the transport and starts the reader and writer
// loops. Cancelling ctx later closes the session. On any error nothing is
// left running.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:       uuid.NewString()[:8],
		cfg:      resolved,
		codec:    protocol.NewCodec(),
		opener:   transport.Open,
		printer:  NewTextPrinter(nil),
		inbound:  queue.New[protocol.Message](resolved.QueueSize, resolved.OverflowPolicy),
		outbound: queue.New[[]byte](resolved.QueueSize, resolved.OverflowPolicy),
		alive:    atomic.NewBool(false),
		state:    atomic.NewInt32(int32(StateCreated)),
		errs:     make(chan error, errBufferSize),
		closed:   make(chan struct{}),
	}
	if resolved.LegacyFraming {
		s.codec = protocol.NewLegacyCodec()
	}
	for _, opt := range opts {
		opt(s)
	}

	tr, err := s.opener(ctx, transport.Options{
		Port:        resolved.Port,
		BaudRate:    resolved.BaudRate,
		ReadTimeout: resolved.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open transport: %w", err)
	}
	s.tr = tr

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.writeCtx, s.cancelWrite = context.WithCancel(context.Background())
	s.alive.Store(true)
	s.state.Store(int32(StateRunning))

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go s.watch(ctx)

	util.LogInfo("[%s] session open on %s (%d baud, stuffing=%v)",
		s.id, resolved.Port, resolved.BaudRate, s.codec.Stuffing())
	return s, nil
}

// ID returns a short identifier used in log lines.
func (s *Session) ID() string { return s.id }

// Config returns the resolved configuration.
func (s *Session) Config() config.Config { return s.cfg }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

// Alive reports whether the I/O loops have been told to keep running.
func (s *Session) Alive() bool { return s.alive.Load() }

// Errors delivers background transport errors. The channel is buffered and
// errors are dropped when nobody reads it; they are always logged.
func (s *Session) Errors() <-chan error { return s.errs }

// Counters exposes the live traffic counters, e.g. for a stats reporter.
func (s *Session) Counters() *util.Stats { return &s.stats }

// Stats returns a snapshot of the traffic counters.
func (s *Session) Stats() util.Snapshot { return s.stats.Snapshot() }

// Write enqueues message for transmission and returns without waiting for
// it to reach the transport. See WriteContext for accepted types.
func (s *Session) Write(message any) error {
	return s.WriteContext(context.Background(), message)
}

// WriteContext is Write with a bound on the wait for queue room under the
// block overflow policy. message may be a []byte, a string (sent as UTF-8),
// or a []int, []rune, []string or []any of byte-sized values.
func (s *Session) WriteContext(ctx context.Context, message any) error {
	payload, err := toBytes(message)
	if err != nil {
		return err
	}
	if s.State() != StateRunning {
		return ErrSessionClosed
	}

	err = s.outbound.Push(ctx, payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrClosed):
		return ErrSessionClosed
	default:
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
}

// Wait blocks until the session is closed or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Close stops both loops, releases the transport and ends every receive
// stream once it has drained. Queued writes get up to the shutdown grace
// period to reach the transport. Safe to call repeatedly and concurrently.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.alive.Store(false)
		s.cancel()
		s.outbound.Close()

		var trErr error
		early := !waitTimeout(&s.wg, s.cfg.ShutdownGrace)
		if early {
			util.LogWarning("[%s] I/O loops still running after %s, closing transport early", s.id, s.cfg.ShutdownGrace)
			s.cancelWrite()
			trErr = s.tr.Close()
			s.wg.Wait()
		}
		s.cancelWrite()
		if !early {
			trErr = s.tr.Close()
		}

		s.inbound.Close()
		s.state.Store(int32(StateClosed))
		if trErr != nil {
			s.closeErr = fmt.Errorf("failed to close transport: %w", trErr)
		}
		close(s.closed)

		snap := s.stats.Snapshot()
		util.LogInfo("[%s] session closed (rx %d frames, tx %d frames)", s.id, snap.FramesRecv, snap.FramesSent)
	})
	return s.closeErr
}

// watch closes the session when the Open context ends.
func (s *Session) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.Close()
	case <-s.closed:
	}
}

// waitTimeout waits for wg up to d and reports whether it finished.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
