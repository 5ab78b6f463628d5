// Package buffer implements the position-tracked byte buffer shared by the
// image reader, the table decoder, the signature codec and the image writer.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTruncated is returned when a read runs past the end of the buffer.
var ErrTruncated = errors.New("buffer: truncated")

// ErrOverflow is returned when a value does not fit a compressed encoding.
var ErrOverflow = errors.New("buffer: compressed integer overflow")

// ErrInvalidCompressed is returned for a compressed integer whose first byte
// selects no valid width.
var ErrInvalidCompressed = errors.New("buffer: invalid compressed integer")

// Compressed integer limits (ECMA-335 II.23.2).
const (
	MaxCompressedUint32 = 0x1FFFFFFF
	MinCompressedInt32  = -0x10000000
	MaxCompressedInt32  = 0x0FFFFFFF
)

// Buffer is an in-memory byte array with a read/write cursor. A buffer built
// with New reads a fixed slice; a buffer built with NewWriter grows on write.
type Buffer struct {
	buf []byte
	pos int
}

// New creates a read buffer over data. The slice is not copied.
func New(data []byte) *Buffer {
	return &Buffer{buf: data}
}

// NewWriter creates an empty growable buffer.
func NewWriter(capacity int) *Buffer {
	return &Buffer{buf: make([]byte, 0, capacity)}
}

// Position returns the current cursor.
func (b *Buffer) Position() int {
	return b.pos
}

// SetPosition moves the cursor. Positions past the end are rejected.
func (b *Buffer) SetPosition(pos int) error {
	if pos < 0 || pos > len(b.buf) {
		return b.truncated(pos - b.pos)
	}
	b.pos = pos
	return nil
}

// Len returns the number of valid bytes.
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int {
	return len(b.buf) - b.pos
}

// Bytes returns the valid bytes.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Reset empties a write buffer, keeping its storage.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.pos = 0
}

func (b *Buffer) truncated(n int) error {
	return fmt.Errorf("at position %d: read of %d bytes: %w", b.pos, n, ErrTruncated)
}

func (b *Buffer) need(n int) error {
	if n < 0 || b.pos+n > len(b.buf) {
		return b.truncated(n)
	}
	return nil
}

// Advance skips n bytes.
func (b *Buffer) Advance(n int) error {
	if err := b.need(n); err != nil {
		return err
	}
	b.pos += n
	return nil
}

// Peek returns the next byte without consuming it.
func (b *Buffer) Peek() (byte, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	return b.buf[b.pos], nil
}

// ReadByte reads a single byte and advances the position.
func (b *Buffer) ReadByte() (byte, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	v := b.buf[b.pos]
	b.pos++
	return v, nil
}

// ReadInt8 reads a signed byte.
func (b *Buffer) ReadInt8() (int8, error) {
	v, err := b.ReadByte()
	return int8(v), err
}

// ReadBytes reads exactly n bytes. The result aliases the buffer.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if err := b.need(n); err != nil {
		return nil, err
	}
	v := b.buf[b.pos : b.pos+n : b.pos+n]
	b.pos += n
	return v, nil
}

// ReadUint16 reads a little-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	if err := b.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(b.buf[b.pos:])
	b.pos += 2
	return v, nil
}

// ReadInt16 reads a little-endian int16.
func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads a little-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.buf[b.pos:])
	b.pos += 4
	return v, nil
}

// ReadInt32 reads a little-endian int32.
func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a little-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(b.buf[b.pos:])
	b.pos += 8
	return v, nil
}

// ReadInt64 reads a little-endian int64.
func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

// ReadSingle reads an IEEE 754 float32 stored little-endian.
func (b *Buffer) ReadSingle() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadDouble reads an IEEE 754 float64 stored little-endian.
func (b *Buffer) ReadDouble() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadCompressedUint32 reads an ECMA-335 compressed unsigned integer.
// The top bits of the first byte select a 1, 2 or 4 byte encoding.
func (b *Buffer) ReadCompressedUint32() (uint32, error) {
	first, err := b.Peek()
	if err != nil {
		return 0, err
	}
	switch {
	case first&0x80 == 0:
		b.pos++
		return uint32(first), nil
	case first&0xC0 == 0x80:
		if err := b.need(2); err != nil {
			return 0, err
		}
		v := uint32(first&0x3F)<<8 | uint32(b.buf[b.pos+1])
		b.pos += 2
		return v, nil
	case first&0xE0 == 0xC0:
		if err := b.need(4); err != nil {
			return 0, err
		}
		v := uint32(first&0x1F)<<24 | uint32(b.buf[b.pos+1])<<16 |
			uint32(b.buf[b.pos+2])<<8 | uint32(b.buf[b.pos+3])
		b.pos += 4
		return v, nil
	default:
		return 0, fmt.Errorf("at position %d: first byte 0x%02x: %w", b.pos, first, ErrInvalidCompressed)
	}
}

// ReadCompressedInt32 reads an ECMA-335 compressed signed integer. The value
// is stored rotated left by one bit within its width; a set low bit means
// negative, recovered by subtracting the width's bias.
func (b *Buffer) ReadCompressedInt32() (int32, error) {
	first, err := b.Peek()
	if err != nil {
		return 0, err
	}
	u, err := b.ReadCompressedUint32()
	if err != nil {
		return 0, err
	}
	v := int32(u >> 1)
	if u&1 == 0 {
		return v, nil
	}
	switch first & 0xC0 {
	case 0x00, 0x40:
		return v - 0x40, nil
	case 0x80:
		return v - 0x2000, nil
	default:
		return v - 0x10000000, nil
	}
}

// CompressedUint32Size returns the encoded size of v, or 0 if it cannot be encoded.
func CompressedUint32Size(v uint32) int {
	switch {
	case v < 0x80:
		return 1
	case v < 0x4000:
		return 2
	case v <= MaxCompressedUint32:
		return 4
	default:
		return 0
	}
}

func (b *Buffer) grow(n int) {
	need := len(b.buf) + n
	if need <= cap(b.buf) {
		return
	}
	newCap := cap(b.buf) * 2
	if newCap < need {
		newCap = need
	}
	nb := make([]byte, len(b.buf), newCap)
	copy(nb, b.buf)
	b.buf = nb
}

// ensure makes room for n bytes at the cursor and returns the slice to fill.
func (b *Buffer) ensure(n int) []byte {
	end := b.pos + n
	if end > len(b.buf) {
		b.grow(end - len(b.buf))
		b.buf = b.buf[:end]
	}
	s := b.buf[b.pos:end]
	b.pos = end
	return s
}

// WriteUint8 writes a single byte.
func (b *Buffer) WriteUint8(v byte) {
	b.ensure(1)[0] = v
}

// WriteInt8 writes a signed byte.
func (b *Buffer) WriteInt8(v int8) {
	b.WriteUint8(byte(v))
}

// WriteBytes writes a byte slice.
func (b *Buffer) WriteBytes(data []byte) {
	copy(b.ensure(len(data)), data)
}

// WriteZeros writes n zero bytes.
func (b *Buffer) WriteZeros(n int) {
	clear(b.ensure(n))
}

// WriteUint16 writes a little-endian uint16.
func (b *Buffer) WriteUint16(v uint16) {
	binary.LittleEndian.PutUint16(b.ensure(2), v)
}

// WriteInt16 writes a little-endian int16.
func (b *Buffer) WriteInt16(v int16) {
	b.WriteUint16(uint16(v))
}

// WriteUint32 writes a little-endian uint32.
func (b *Buffer) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(b.ensure(4), v)
}

// WriteInt32 writes a little-endian int32.
func (b *Buffer) WriteInt32(v int32) {
	b.WriteUint32(uint32(v))
}

// WriteUint64 writes a little-endian uint64.
func (b *Buffer) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(b.ensure(8), v)
}

// WriteInt64 writes a little-endian int64.
func (b *Buffer) WriteInt64(v int64) {
	b.WriteUint64(uint64(v))
}

// WriteSingle writes an IEEE 754 float32 little-endian.
func (b *Buffer) WriteSingle(v float32) {
	b.WriteUint32(math.Float32bits(v))
}

// WriteDouble writes an IEEE 754 float64 little-endian.
func (b *Buffer) WriteDouble(v float64) {
	b.WriteUint64(math.Float64bits(v))
}

// WriteCompressedUint32 writes an ECMA-335 compressed unsigned integer.
func (b *Buffer) WriteCompressedUint32(v uint32) error {
	switch {
	case v < 0x80:
		b.WriteUint8(byte(v))
	case v < 0x4000:
		s := b.ensure(2)
		s[0] = byte(0x80 | v>>8)
		s[1] = byte(v)
	case v <= MaxCompressedUint32:
		s := b.ensure(4)
		s[0] = byte(0xC0 | v>>24)
		s[1] = byte(v >> 16)
		s[2] = byte(v >> 8)
		s[3] = byte(v)
	default:
		return fmt.Errorf("value 0x%x: %w", v, ErrOverflow)
	}
	return nil
}

// WriteCompressedInt32 writes an ECMA-335 compressed signed integer. The
// width is chosen from the value range and written explicitly, since a
// rotated negative value can be numerically small.
func (b *Buffer) WriteCompressedInt32(v int32) error {
	switch {
	case v >= -0x40 && v < 0x40:
		u := uint32(v) & 0x7F
		b.WriteUint8(byte(u<<1|u>>6) & 0x7F)
	case v >= -0x2000 && v < 0x2000:
		u := uint32(v) & 0x3FFF
		u = (u<<1 | u>>13) & 0x3FFF
		s := b.ensure(2)
		s[0] = byte(0x80 | u>>8)
		s[1] = byte(u)
	case v >= MinCompressedInt32 && v <= MaxCompressedInt32:
		u := uint32(v) & 0x1FFFFFFF
		u = (u<<1 | u>>28) & 0x1FFFFFFF
		s := b.ensure(4)
		s[0] = byte(0xC0 | u>>24)
		s[1] = byte(u >> 16)
		s[2] = byte(u >> 8)
		s[3] = byte(u)
	default:
		return fmt.Errorf("value %d: %w", v, ErrOverflow)
	}
	return nil
}

// Align pads with zeros until the length is a multiple of n.
func (b *Buffer) Align(n int) {
	if rem := b.pos % n; rem != 0 {
		b.WriteZeros(n - rem)
	}
}

// PatchUint32 overwrites four bytes at off without moving the cursor.
func (b *Buffer) PatchUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[off:off+4], v)
}
