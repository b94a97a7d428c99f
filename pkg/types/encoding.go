// Copyright 2025 Certen Protocol
//
// Little-endian wire encoding primitives.
// Vectors are prefixed with a 1/3/5/9-byte variable-length integer; all
// fixed-width integers are little-endian. The encoding is consensus-critical:
// block hashes and transaction ids are digests of these bytes.

package types

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	// ErrVarintOverflow is returned when a varint does not use the minimal encoding.
	ErrVarintOverflow = errors.New("non-canonical varint encoding")

	// ErrLengthExceeded is returned when a length prefix exceeds the decoder's cap.
	ErrLengthExceeded = errors.New("length prefix exceeds maximum")
)

// maxVectorLen caps decoded vector lengths so a malicious length prefix
// cannot force an unbounded allocation.
const maxVectorLen = 1 << 24

// WriteVarint writes n using the compact 1/3/5/9-byte encoding.
func WriteVarint(w io.Writer, n uint64) error {
	var buf [9]byte
	switch {
	case n < 0xfd:
		buf[0] = byte(n)
		_, err := w.Write(buf[:1])
		return err
	case n <= 0xffff:
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:3], uint16(n))
		_, err := w.Write(buf[:3])
		return err
	case n <= 0xffffffff:
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:5], uint32(n))
		_, err := w.Write(buf[:5])
		return err
	default:
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:9], n)
		_, err := w.Write(buf[:9])
		return err
	}
}

// ReadVarint reads a compact varint, rejecting non-minimal encodings.
func ReadVarint(r io.Reader) (uint64, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return 0, err
	}
	switch tag[0] {
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		n := uint64(binary.LittleEndian.Uint16(buf[:]))
		if n < 0xfd {
			return 0, ErrVarintOverflow
		}
		return n, nil
	case 0xfe:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		n := uint64(binary.LittleEndian.Uint32(buf[:]))
		if n <= 0xffff {
			return 0, ErrVarintOverflow
		}
		return n, nil
	case 0xff:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		n := binary.LittleEndian.Uint64(buf[:])
		if n <= 0xffffffff {
			return 0, ErrVarintOverflow
		}
		return n, nil
	default:
		return uint64(tag[0]), nil
	}
}

// readVectorLen reads a varint length prefix and bounds it.
func readVectorLen(r io.Reader) (int, error) {
	n, err := ReadVarint(r)
	if err != nil {
		return 0, err
	}
	if n > maxVectorLen {
		return 0, ErrLengthExceeded
	}
	return int(n), nil
}

// WriteBytes writes a varint length prefix followed by b.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteVarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes reads a varint-prefixed byte vector.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := readVectorLen(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteHash writes the 32 raw bytes of h.
func WriteHash(w io.Writer, h Hash) error {
	_, err := w.Write(h[:])
	return err
}

// ReadHash reads 32 raw bytes into a Hash.
func ReadHash(r io.Reader) (Hash, error) {
	var h Hash
	_, err := io.ReadFull(r, h[:])
	return h, err
}

// WriteUint32 writes v little-endian.
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint32 reads a little-endian u32.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint64 writes v little-endian.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads a little-endian u64.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteInt64 writes v as a little-endian two's complement i64.
func WriteInt64(w io.Writer, v int64) error {
	return WriteUint64(w, uint64(v))
}

// ReadInt64 reads a little-endian i64.
func ReadInt64(r io.Reader) (int64, error) {
	v, err := ReadUint64(r)
	return int64(v), err
}
