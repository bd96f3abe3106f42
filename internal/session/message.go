package session

import (
	"fmt"
	"unicode/utf8"
)

// toBytes converts the inputs Write accepts into a payload: byte slices,
// strings (as UTF-8), and sequences of byte-sized values, where a value is an
// integer in [0, 255] or a string of exactly one byte.
func toBytes(message any) ([]byte, error) {
	switch m := message.(type) {
	case []byte:
		out := make([]byte, len(m))
		copy(out, m)
		return out, nil
	case string:
		return []byte(m), nil
	case []int:
		out := make([]byte, len(m))
		for i, v := range m {
			b, err := intByte(i, int64(v))
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	case []rune:
		out := make([]byte, len(m))
		for i, r := range m {
			b, err := intByte(i, int64(r))
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	case []string:
		out := make([]byte, len(m))
		for i, s := range m {
			b, err := charByte(i, s)
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	case []any:
		out := make([]byte, len(m))
		for i, v := range m {
			b, err := elemByte(i, v)
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T (want []byte, string, or a sequence of bytes)", ErrUnsupportedType, message)
	}
}

func elemByte(i int, v any) (byte, error) {
	switch e := v.(type) {
	case byte:
		return e, nil
	case int:
		return intByte(i, int64(e))
	case int8:
		return intByte(i, int64(e))
	case int16:
		return intByte(i, int64(e))
	case int32:
		return intByte(i, int64(e))
	case int64:
		return intByte(i, e)
	case uint:
		return uintByte(i, uint64(e))
	case uint16:
		return uintByte(i, uint64(e))
	case uint32:
		return uintByte(i, uint64(e))
	case uint64:
		return uintByte(i, e)
	case string:
		return charByte(i, e)
	default:
		return 0, fmt.Errorf("%w: element %d has type %T", ErrUnsupportedType, i, v)
	}
}

func intByte(i int, v int64) (byte, error) {
	if v < 0 || v > 0xff {
		return 0, fmt.Errorf("%w: element %d is %d", ErrEncoding, i, v)
	}
	return byte(v), nil
}

func uintByte(i int, v uint64) (byte, error) {
	if v > 0xff {
		return 0, fmt.Errorf("%w: element %d is %d", ErrEncoding, i, v)
	}
	return byte(v), nil
}

// charByte accepts a one-character string whose UTF-8 form is a single byte.
func charByte(i int, s string) (byte, error) {
	if len(s) != 1 || !utf8.ValidString(s) {
		return 0, fmt.Errorf("%w: element %d is %q, want a single-byte character", ErrEncoding, i, s)
	}
	return s[0], nil
}
