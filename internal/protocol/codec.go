package protocol

import "unicode/utf8"

// Codec encodes outgoing messages into frames. The zero value is not usable;
// construct with NewCodec or NewLegacyCodec.
type Codec struct {
	stuffing bool
}

// NewCodec returns a codec that byte-stuffs marker bytes inside the payload,
// so any byte sequence survives the round trip.
func NewCodec() Codec {
	return Codec{stuffing: true}
}

// NewLegacyCodec returns a codec for the unstuffed wire format. Payloads must
// not contain Preamble or Escape, or the peer will mis-frame them.
func NewLegacyCodec() Codec {
	return Codec{stuffing: false}
}

// Stuffing reports whether the codec escapes marker bytes.
func (c Codec) Stuffing() bool { return c.stuffing }

// Encode returns Preamble ++ payload ++ Escape. A payload with no marker
// bytes is emitted verbatim in both modes.
func (c Codec) Encode(msg []byte) []byte {
	extra := 0
	if c.stuffing {
		for _, b := range msg {
			if isMarker(b) {
				extra++
			}
		}
	}

	buf := make([]byte, 0, len(msg)+extra+2)
	buf = append(buf, Preamble)
	if extra == 0 {
		buf = append(buf, msg...)
	} else {
		for _, b := range msg {
			if isMarker(b) {
				buf = append(buf, Stuff, b^stuffMask)
				continue
			}
			buf = append(buf, b)
		}
	}
	return append(buf, Escape)
}

// NewAssembler returns an assembler that matches the codec's stuffing mode.
func (c Codec) NewAssembler() *Assembler {
	return &Assembler{stuffing: c.stuffing}
}

// Decode interprets the bytes accumulated by an Assembler as a Message.
// Markers are already stripped, so this is a copy.
func Decode(raw []byte) Message {
	out := make(Message, len(raw))
	copy(out, raw)
	return out
}

// Text returns the message as a string when it is valid UTF-8.
func Text(msg Message) (string, bool) {
	if !utf8.Valid(msg) {
		return "", false
	}
	return string(msg), true
}
