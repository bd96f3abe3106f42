package protocol

// Assembler recovers messages from a raw byte stream one byte at a time.
// It is goroutine-local (owned by the reader loop) and needs no locking.
type Assembler struct {
	stuffing  bool
	buffer    []byte
	receiving bool
	stuffed   bool

	discarded uint64 // bytes dropped while idle
	abandoned uint64 // partial frames cut off by a new Preamble
}

// NewAssembler creates an assembler for the stuffed wire format.
func NewAssembler() *Assembler {
	return NewCodec().NewAssembler()
}

// Feed applies one byte to the state machine. It returns a message only on
// the transition that closes a frame.
func (a *Assembler) Feed(b byte) (Message, bool) {
	switch {
	case b == Preamble:
		if a.receiving && (len(a.buffer) > 0 || a.stuffed) {
			a.abandoned++
		}
		a.reset()
		a.receiving = true
		return nil, false

	case !a.receiving:
		a.discarded++
		return nil, false

	case b == Escape:
		msg := Decode(a.buffer)
		a.reset()
		return msg, true

	case a.stuffed:
		a.stuffed = false
		a.buffer = append(a.buffer, b^stuffMask)

	case a.stuffing && b == Stuff:
		a.stuffed = true

	default:
		a.buffer = append(a.buffer, b)
	}
	return nil, false
}

// FeedBytes feeds a chunk byte by byte and returns every message it closes,
// in order. Returns nil if none completed.
func (a *Assembler) FeedBytes(chunk []byte) []Message {
	var out []Message
	for _, b := range chunk {
		if msg, ok := a.Feed(b); ok {
			out = append(out, msg)
		}
	}
	return out
}

// Receiving reports whether a frame is currently open.
func (a *Assembler) Receiving() bool { return a.receiving }

// Buffered returns the number of payload bytes held for the open frame.
func (a *Assembler) Buffered() int { return len(a.buffer) }

// Discarded returns the number of bytes ignored outside any frame.
func (a *Assembler) Discarded() uint64 { return a.discarded }

// Abandoned returns the number of partial frames dropped by a restart.
func (a *Assembler) Abandoned() uint64 { return a.abandoned }

func (a *Assembler) reset() {
	a.buffer = a.buffer[:0]
	a.receiving = false
	a.stuffed = false
}
