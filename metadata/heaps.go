package metadata

import (
	"bytes"
	"unicode/utf16"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
)

// StringHeap reads the #Strings heap: UTF-8 strings terminated by a zero byte.
type StringHeap struct {
	data []byte
}

// NewStringHeap wraps the bytes of a #Strings stream.
func NewStringHeap(data []byte) *StringHeap {
	return &StringHeap{data: data}
}

// Get returns the string at idx. Index 0 is the empty string.
func (h *StringHeap) Get(idx StringIndex) (string, error) {
	if idx == 0 {
		return "", nil
	}
	if int(idx) >= len(h.data) {
		return "", heapOutOfRange("#Strings", uint32(idx), len(h.data))
	}
	s := h.data[idx:]
	end := bytes.IndexByte(s, 0)
	if end < 0 {
		return "", errors.New(errors.PhaseHeap, errors.KindTruncated).
			Offset(int64(idx)).
			Detail("#Strings: unterminated string").
			Build()
	}
	return string(s[:end]), nil
}

// Len returns the heap size in bytes.
func (h *StringHeap) Len() int {
	return len(h.data)
}

// BlobHeap reads the #Blob heap: compressed length followed by the bytes.
type BlobHeap struct {
	data []byte
}

// NewBlobHeap wraps the bytes of a #Blob stream.
func NewBlobHeap(data []byte) *BlobHeap {
	return &BlobHeap{data: data}
}

// Get returns the blob at idx. Index 0 is the empty blob. The result aliases
// the heap.
func (h *BlobHeap) Get(idx BlobIndex) ([]byte, error) {
	if idx == 0 {
		return nil, nil
	}
	if int(idx) >= len(h.data) {
		return nil, heapOutOfRange("#Blob", uint32(idx), len(h.data))
	}
	b := buffer.New(h.data)
	_ = b.SetPosition(int(idx))
	n, err := b.ReadCompressedUint32()
	if err != nil {
		return nil, heapError("#Blob", idx, err)
	}
	v, err := b.ReadBytes(int(n))
	if err != nil {
		return nil, heapError("#Blob", idx, err)
	}
	return v, nil
}

// Len returns the heap size in bytes.
func (h *BlobHeap) Len() int {
	return len(h.data)
}

// GUIDHeap reads the #GUID heap: 16-byte entries addressed from 1.
type GUIDHeap struct {
	data []byte
}

// NewGUIDHeap wraps the bytes of a #GUID stream.
func NewGUIDHeap(data []byte) *GUIDHeap {
	return &GUIDHeap{data: data}
}

// Get returns the GUID at idx. Index 0 is the zero GUID.
func (h *GUIDHeap) Get(idx GUIDIndex) ([16]byte, error) {
	var g [16]byte
	if idx == 0 {
		return g, nil
	}
	off := int(idx-1) * 16
	if off+16 > len(h.data) {
		return g, heapOutOfRange("#GUID", uint32(idx), len(h.data)/16)
	}
	copy(g[:], h.data[off:off+16])
	return g, nil
}

// Len returns the number of GUIDs in the heap.
func (h *GUIDHeap) Len() int {
	return len(h.data) / 16
}

// UserStringHeap reads the #US heap: compressed length, UTF-16LE code units,
// and one trailing flag byte.
type UserStringHeap struct {
	data []byte
}

// NewUserStringHeap wraps the bytes of a #US stream.
func NewUserStringHeap(data []byte) *UserStringHeap {
	return &UserStringHeap{data: data}
}

// Get returns the string at offset.
func (h *UserStringHeap) Get(offset uint32) (string, error) {
	if offset == 0 {
		return "", nil
	}
	if int(offset) >= len(h.data) {
		return "", heapOutOfRange("#US", offset, len(h.data))
	}
	b := buffer.New(h.data)
	_ = b.SetPosition(int(offset))
	n, err := b.ReadCompressedUint32()
	if err != nil {
		return "", heapError("#US", offset, err)
	}
	raw, err := b.ReadBytes(int(n))
	if err != nil {
		return "", heapError("#US", offset, err)
	}
	return DecodeUTF16(raw[:len(raw)&^1]), nil
}

// Bytes returns the raw heap.
func (h *UserStringHeap) Bytes() []byte {
	return h.data
}

// DecodeUTF16 decodes little-endian UTF-16 code units.
func DecodeUTF16(raw []byte) string {
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return string(utf16.Decode(units))
}

func heapOutOfRange(heap string, idx uint32, size int) error {
	return errors.New(errors.PhaseHeap, errors.KindOutOfBounds).
		Detail("%s: index 0x%x out of range (size 0x%x)", heap, idx, size).
		Value(idx).
		Build()
}

func heapError[T ~uint32](heap string, idx T, cause error) error {
	return errors.New(errors.PhaseHeap, errors.KindTruncated).
		Offset(int64(idx)).
		Detail("%s entry", heap).
		Cause(cause).
		Build()
}
