package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/commlink/internal/queue"
	"github.com/1ureka/commlink/internal/transport"
	"github.com/1ureka/commlink/internal/util"
)

// readLoop polls the transport with a bounded read, feeds every byte to the
// assembler and queues completed messages in arrival order. It checks alive
// once per read, so it stops within one read timeout of Close.
func (s *Session) readLoop() {
	defer s.wg.Done()

	asm := s.codec.NewAssembler()
	buf := make([]byte, readChunkSize)
	var dropped uint64

	for s.alive.Load() {
		n, err := s.tr.Read(buf)

		if n > 0 {
			s.stats.AddRecv(n)
			for _, msg := range asm.FeedBytes(buf[:n]) {
				s.stats.AddFrame()
				if err := s.inbound.Push(s.ctx, msg); err != nil && !errors.Is(err, queue.ErrFull) {
					return
				}
				if d := s.inbound.Dropped(); d != dropped {
					util.LogWarning("[%s] inbound queue full, %d message(s) dropped", s.id, d-dropped)
					dropped = d
					s.stats.FramesDropped.Store(int64(d))
				}
			}
		}

		if err != nil {
			if s.report("read", err) {
				return
			}
			s.pause()
		}
	}
}

// writeLoop sends queued messages in order until the outbound queue is
// closed and drained, or the write context is cancelled.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		payload, err := s.outbound.Pop(s.writeCtx)
		if err != nil {
			return
		}

		frame := s.codec.Encode(payload)
		if err := transport.WriteAll(s.tr, frame); err != nil {
			if s.report("write", err) {
				return
			}
			continue
		}
		s.stats.AddSent(len(frame))
	}
}

// report logs a background I/O error and forwards it on the Errors channel.
// It returns true when the calling loop should exit: the session is already
// shutting down, or the transport is gone, in which case the session closes
// itself.
func (s *Session) report(op string, err error) bool {
	if !s.alive.Load() {
		return true
	}

	if transport.IsClosed(err) {
		util.LogWarning("[%s] transport closed during %s: %v", s.id, op, err)
		s.emit(fmt.Errorf("%s: %w", op, err))
		go s.Close()
		return true
	}

	s.stats.AddTransportErr()
	util.LogError("[%s] transport %s failed: %v", s.id, op, err)
	s.emit(fmt.Errorf("%s: %w", op, err))
	return false
}

func (s *Session) emit(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// pause backs off after a transient read error without delaying shutdown.
func (s *Session) pause() {
	d := s.cfg.ReadTimeout
	if d > maxRetryPause {
		d = maxRetryPause
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.ctx.Done():
	}
}
