package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// LEB128 encoding/decoding utilities for WebAssembly binary format.
//
// Decoding enforces the canonical last-byte rule: a value encoded in more
// bytes than its width requires is rejected, and the unused high bits of the
// final byte must be a correct zero/sign extension of the value. See
// https://webassembly.github.io/spec/core/binary/values.html#integers.

// ErrOverflow names a LEB128 overflow. The readers in this file do not
// return it: an encoding longer than the type allows is reported as
// ErrRepresentationTooLong.
var ErrOverflow = errors.New("leb128: overflow")

// ErrRepresentationTooLong is returned when a LEB128 encoding's final byte's
// unused high bits are not a valid zero/sign extension, or more bytes were
// used than the target width permits.
var ErrRepresentationTooLong = errors.New("leb128: integer representation too long")

const (
	maxBytesU32 = 5  // ceil(32/7)
	maxBytesU64 = 10 // ceil(64/7)
)

// ReadLEB128u reads an unsigned 32-bit LEB128 value.
func ReadLEB128u(r io.ByteReader) (uint32, error) {
	var result uint32
	for i := 0; ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		shift := uint(i * 7)
		if i == maxBytesU32-1 {
			// 32 = 4*7 + 4: the 5th byte contributes its low 4 bits; bits
			// 4-7 (including the continuation bit) must all be zero.
			const mask = 0xF0
			if b&mask != 0 {
				return 0, ErrRepresentationTooLong
			}
			result |= uint32(b&0x7f) << shift
			return result, nil
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
	}
}

// ReadLEB128u64 reads an unsigned 64-bit LEB128 value.
func ReadLEB128u64(r io.ByteReader) (uint64, error) {
	var result uint64
	for i := 0; ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		shift := uint(i * 7)
		if i == maxBytesU64-1 {
			// 64 = 9*7 + 1: the 10th byte contributes a single bit; bits
			// 1-7 must all be zero.
			const mask = 0xFE
			if b&mask != 0 {
				return 0, ErrRepresentationTooLong
			}
			result |= uint64(b&0x7f) << shift
			return result, nil
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
	}
}

// ReadLEB128s reads a signed 32-bit LEB128 value.
func ReadLEB128s(r io.ByteReader) (int32, error) {
	var result int32
	for i := 0; ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		shift := uint(i * 7)
		if i == maxBytesU32-1 {
			// bits 3-7 of the 5th byte must be a correct sign extension of
			// bit 3 (the sign bit of the included nibble): all zero or all
			// one (with the continuation bit clear in both cases).
			const mask = 0xF8
			const ones = 0x78
			if b&mask != 0 && b&mask != ones {
				return 0, ErrRepresentationTooLong
			}
			result |= int32(b&0x7f) << shift
			return result, nil
		}
		result |= int32(b&0x7f) << shift
		if b&0x80 == 0 {
			if b&0x40 != 0 {
				result |= ^int32(0) << (shift + 7)
			}
			return result, nil
		}
	}
}

// ReadLEB128s64 reads a signed 64-bit LEB128 value.
func ReadLEB128s64(r io.ByteReader) (int64, error) {
	var result int64
	for i := 0; ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		shift := uint(i * 7)
		if i == maxBytesU64-1 {
			// bits 0-7 of the 10th byte must be exactly 0x00 or 0x7f: a
			// single sign bit, no continuation, nothing else.
			const mask = 0xFF
			const ones = 0x7F
			if b&mask != 0 && b&mask != ones {
				return 0, ErrRepresentationTooLong
			}
			result |= int64(b&0x7f) << shift
			return result, nil
		}
		result |= int64(b&0x7f) << shift
		if b&0x80 == 0 {
			if b&0x40 != 0 {
				result |= ^int64(0) << (shift + 7)
			}
			return result, nil
		}
	}
}

// WriteLEB128u writes an unsigned LEB128 value using the shortest encoding.
func WriteLEB128u(w *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// WriteLEB128u64 writes an unsigned 64-bit LEB128 value using the shortest encoding.
func WriteLEB128u64(w *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// WriteLEB128s writes a signed LEB128 value using the shortest encoding.
func WriteLEB128s(w *bytes.Buffer, v int32) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		w.WriteByte(b)
	}
}

// WriteLEB128s64 writes a signed 64-bit LEB128 value using the shortest encoding.
func WriteLEB128s64(w *bytes.Buffer, v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		w.WriteByte(b)
	}
}

// EncodeLEB128u encodes an unsigned 32-bit LEB128 value to bytes.
func EncodeLEB128u(v uint32) []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, v)
	return buf.Bytes()
}

// EncodeLEB128s encodes a signed 32-bit LEB128 value to bytes.
func EncodeLEB128s(v int32) []byte {
	var buf bytes.Buffer
	WriteLEB128s(&buf, v)
	return buf.Bytes()
}

// EncodeLEB128u64 encodes an unsigned 64-bit LEB128 value to bytes.
func EncodeLEB128u64(v uint64) []byte {
	var buf bytes.Buffer
	WriteLEB128u64(&buf, v)
	return buf.Bytes()
}

// EncodeLEB128s64 encodes a signed 64-bit LEB128 value to bytes.
func EncodeLEB128s64(v int64) []byte {
	var buf bytes.Buffer
	WriteLEB128s64(&buf, v)
	return buf.Bytes()
}

// ReadFloat32 reads a little-endian float32.
func ReadFloat32(r io.Reader) (float32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	bits := binary.LittleEndian.Uint32(buf[:])
	return math.Float32frombits(bits), nil
}

// ReadFloat64 reads a little-endian float64.
func ReadFloat64(r io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	bits := binary.LittleEndian.Uint64(buf[:])
	return math.Float64frombits(bits), nil
}

// WriteFloat32 writes a little-endian float32.
func WriteFloat32(w *bytes.Buffer, v float32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
	w.Write(buf[:])
}

// WriteFloat64 writes a little-endian float64.
func WriteFloat64(w *bytes.Buffer, v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	w.Write(buf[:])
}
