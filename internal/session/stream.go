package session

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/1ureka/commlink/internal/protocol"
	"github.com/1ureka/commlink/internal/queue"
)

// Stream yields received messages in the order their frames closed. Streams
// from the same session share one inbound queue, so each message goes to
// exactly one of them.
type Stream struct {
	s *Session
}

// Receive returns a new stream over the session's inbound messages.
func (s *Session) Receive() *Stream {
	return &Stream{s: s}
}

// Next blocks until a message arrives. It returns io.EOF once the session has
// stopped and every queued message was delivered; an empty message is a
// valid result and never signals the end.
func (st *Stream) Next(ctx context.Context) (protocol.Message, error) {
	msg, err := st.s.inbound.Pop(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return nil, io.EOF
		}
		return nil, err
	}
	if st.s.cfg.Verbose && st.s.printer != nil {
		st.s.printer.Print(msg)
	}
	return msg, nil
}

// All ranges over the stream until it ends.
func (st *Stream) All() iter.Seq[protocol.Message] {
	return func(yield func(protocol.Message) bool) {
		for {
			msg, err := st.Next(context.Background())
			if err != nil {
				return
			}
			if !yield(msg) {
				return
			}
		}
	}
}
