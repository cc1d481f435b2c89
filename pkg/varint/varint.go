// Package varint implements the QUIC-style variable-length integer
// encoding used throughout the core for packet numbers, stream offsets,
// and lengths: the top two bits of the first byte select a 1/2/4/8 byte
// length class, the remaining bits (big-endian) hold the value.
package varint

import (
	"encoding/binary"
	"errors"
)

// Value is a 62-bit unsigned integer.
type Value = uint64

// Max is the largest value representable (2^62 - 1).
const Max Value = (1 << 62) - 1

var (
	// ErrOverflow is returned by Encode when v > Max.
	ErrOverflow = errors.New("varint: value exceeds 2^62-1")
	// ErrTooShort is returned by Decode when the buffer ends before the
	// length class's full width is available.
	ErrTooShort = errors.New("varint: buffer too short")
)

// Len reports the number of bytes Encode would use for v, without
// allocating or writing.
func Len(v Value) int {
	switch {
	case v <= 0x3f:
		return 1
	case v <= 0x3fff:
		return 2
	case v <= 0x3fffffff:
		return 4
	default:
		return 8
	}
}

// Encode appends the canonical (minimum-length) encoding of v to dst and
// returns the extended slice. It fails if v exceeds Max.
func Encode(dst []byte, v Value) ([]byte, error) {
	if v > Max {
		return dst, ErrOverflow
	}
	switch n := Len(v); n {
	case 1:
		dst = append(dst, byte(v))
	case 2:
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(v))
		buf[0] |= 0x40
		dst = append(dst, buf[:]...)
	case 4:
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(v))
		buf[0] |= 0x80
		dst = append(dst, buf[:]...)
	default:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v)
		buf[0] |= 0xc0
		dst = append(dst, buf[:]...)
	}
	return dst, nil
}

// Decode reads one VarInt from the front of buf, returning the value and
// the number of bytes consumed. It does not require canonical encoding.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return 0, 0, ErrTooShort
	}
	n := 1 << (buf[0] >> 6)
	if len(buf) < n {
		return 0, 0, ErrTooShort
	}
	var v Value
	switch n {
	case 1:
		v = Value(buf[0] & 0x3f)
	case 2:
		v = Value(binary.BigEndian.Uint16(buf) & 0x3fff)
	case 4:
		v = Value(binary.BigEndian.Uint32(buf) & 0x3fffffff)
	case 8:
		v = Value(binary.BigEndian.Uint64(buf) & 0x3fffffffffffffff)
	}
	return v, n, nil
}
