package protocol

import (
	"bytes"
	"math/rand/v2"
	"testing"
)

// TestAssemblerTwoFrames feeds two back-to-back frames and expects both
// messages in order.
func TestAssemblerTwoFrames(t *testing.T) {
	stream := []byte{Preamble, 'h', 'i', Escape, Preamble, 'y', 'o', Escape}

	asm := NewAssembler()
	var got []string
	for i, b := range stream {
		msg, ok := asm.Feed(b)
		if !ok {
			continue
		}
		if b != Escape {
			t.Fatalf("message emitted on non-Escape byte at %d", i)
		}
		got = append(got, string(msg))
	}

	if len(got) != 2 || got[0] != "hi" || got[1] != "yo" {
		t.Fatalf("unexpected messages: %q", got)
	}
}

// TestAssemblerRoundTripPlain checks the round-trip law for payloads that
// contain no marker bytes, in both stuffing modes.
func TestAssemblerRoundTripPlain(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))

	for _, codec := range []Codec{NewCodec(), NewLegacyCodec()} {
		for i := 0; i < 200; i++ {
			payload := make([]byte, rng.IntN(32))
			for j := range payload {
				b := byte(rng.IntN(256))
				for isMarker(b) {
					b = byte(rng.IntN(256))
				}
				payload[j] = b
			}

			msgs := codec.NewAssembler().FeedBytes(codec.Encode(payload))
			if len(msgs) != 1 || !bytes.Equal(msgs[0], payload) {
				t.Fatalf("stuffing=%v: round trip failed for % x: %v", codec.Stuffing(), payload, msgs)
			}
		}
	}
}

// TestAssemblerManyFramesInOrder concatenates N frames and expects exactly N
// messages in the same order.
func TestAssemblerManyFramesInOrder(t *testing.T) {
	codec := NewCodec()
	var stream []byte
	var want [][]byte
	for i := 0; i < 50; i++ {
		payload := []byte{byte(i), Escape, byte(i * 3)}
		want = append(want, payload)
		stream = append(stream, codec.Encode(payload)...)
	}

	got := codec.NewAssembler().FeedBytes(stream)
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("message %d: got % x, want % x", i, got[i], want[i])
		}
	}
}

// TestAssemblerPreambleRestartsFrame verifies that a Preamble inside an open
// frame discards the partial buffer without emitting it.
func TestAssemblerPreambleRestartsFrame(t *testing.T) {
	asm := NewAssembler()
	msgs := asm.FeedBytes([]byte{Preamble, 'l', 'o', 's', 't', Preamble, 'o', 'k', Escape})

	if len(msgs) != 1 || string(msgs[0]) != "ok" {
		t.Fatalf("unexpected messages: %q", msgs)
	}
	if asm.Abandoned() != 1 {
		t.Errorf("Abandoned() = %d, want 1", asm.Abandoned())
	}
}

// TestAssemblerIgnoresIdleBytes verifies that bytes outside a frame never
// reach a message and leave the assembler idle.
func TestAssemblerIgnoresIdleBytes(t *testing.T) {
	asm := NewAssembler()
	garbage := []byte{'x', 'y', Stuff, 0x00, 0xff}

	if msgs := asm.FeedBytes(garbage); len(msgs) != 0 {
		t.Fatalf("garbage produced messages: %q", msgs)
	}
	if asm.Receiving() || asm.Buffered() != 0 {
		t.Fatalf("garbage changed state: receiving=%v buffered=%d", asm.Receiving(), asm.Buffered())
	}
	if asm.Discarded() != uint64(len(garbage)) {
		t.Errorf("Discarded() = %d, want %d", asm.Discarded(), len(garbage))
	}

	msgs := asm.FeedBytes([]byte{'q', Preamble, 'a', Escape, 'r'})
	if len(msgs) != 1 || string(msgs[0]) != "a" {
		t.Fatalf("unexpected messages: %q", msgs)
	}
}

// TestAssemblerEscapeWhileIdle verifies a stray terminator is ignored rather
// than producing an empty message.
func TestAssemblerEscapeWhileIdle(t *testing.T) {
	asm := NewAssembler()
	if _, ok := asm.Feed(Escape); ok {
		t.Fatal("stray Escape emitted a message")
	}
}

// TestAssemblerEmptyFrame verifies that Preamble immediately followed by
// Escape yields an empty message.
func TestAssemblerEmptyFrame(t *testing.T) {
	asm := NewAssembler()
	asm.Feed(Preamble)
	msg, ok := asm.Feed(Escape)
	if !ok {
		t.Fatal("expected a message")
	}
	if len(msg) != 0 {
		t.Fatalf("expected empty message, got % x", msg)
	}
}

// TestAssemblerDanglingStuff covers the malformed sequences around a Stuff
// prefix.
func TestAssemblerDanglingStuff(t *testing.T) {
	testCases := []struct {
		name   string
		stream []byte
		want   []string
	}{
		{"stuff then escape", []byte{Preamble, 'a', Stuff, Escape}, []string{"a"}},
		{"stuff then preamble", []byte{Preamble, 'a', Stuff, Preamble, 'b', Escape}, []string{"b"}},
		{"stuff then plain", []byte{Preamble, Stuff, 'A' ^ stuffMask, Escape}, []string{"A"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msgs := NewAssembler().FeedBytes(tc.stream)
			if len(msgs) != len(tc.want) {
				t.Fatalf("expected %d messages, got %q", len(tc.want), msgs)
			}
			for i := range tc.want {
				if string(msgs[i]) != tc.want[i] {
					t.Errorf("message %d: got %q, want %q", i, msgs[i], tc.want[i])
				}
			}
		})
	}
}

// TestLegacyAssemblerKeepsStuffByte verifies the legacy assembler treats the
// Stuff byte as ordinary payload.
func TestLegacyAssemblerKeepsStuffByte(t *testing.T) {
	msgs := NewLegacyCodec().NewAssembler().FeedBytes([]byte{Preamble, Stuff, 'x', Escape})
	if len(msgs) != 1 || !bytes.Equal(msgs[0], []byte{Stuff, 'x'}) {
		t.Fatalf("unexpected messages: %v", msgs)
	}
}

// TestAssemblerMessagesDoNotAlias verifies that emitted messages stay intact
// after the assembler reuses its buffer.
func TestAssemblerMessagesDoNotAlias(t *testing.T) {
	asm := NewAssembler()
	first := asm.FeedBytes([]byte{Preamble, 'a', 'b', 'c', Escape})
	asm.FeedBytes([]byte{Preamble, 'x', 'y', 'z', Escape})
	if string(first[0]) != "abc" {
		t.Fatalf("first message was overwritten: %q", first[0])
	}
}
