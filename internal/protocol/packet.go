// Package protocol defines the preamble/terminator framing used on the wire
// and the stateful assembler that recovers messages from a byte stream.
package protocol

// Marker bytes.
const (
	Preamble byte = 0x80 // opens a frame
	Stuff    byte = 0x81 // prefixes a stuffed payload byte
	Escape   byte = 0x82 // closes a frame

	// stuffMask is XORed into a stuffed byte so it never equals a marker.
	stuffMask byte = 0x20
)

// Message is the payload of one frame.
type Message []byte

// isMarker reports whether b is one of the three structural bytes.
func isMarker(b byte) bool {
	return b == Preamble || b == Stuff || b == Escape
}
