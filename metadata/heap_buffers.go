package metadata

import (
	"bytes"
	"unicode/utf16"

	"github.com/cespare/xxhash/v2"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
)

// maxHeapOffset is the largest #US offset a 24-bit string token can carry.
const maxHeapOffset = 0x00FFFFFF

// StringHeapBuffer accumulates the #Strings heap, sharing identical strings.
type StringHeapBuffer struct {
	buf   *buffer.Buffer
	index map[string]StringIndex
}

// NewStringHeapBuffer creates a heap holding only the empty string.
func NewStringHeapBuffer() *StringHeapBuffer {
	h := &StringHeapBuffer{buf: buffer.NewWriter(1024), index: make(map[string]StringIndex)}
	h.buf.WriteUint8(0)
	return h
}

// Add interns s and returns its index. The empty string is index 0.
func (h *StringHeapBuffer) Add(s string) StringIndex {
	if s == "" {
		return 0
	}
	if idx, ok := h.index[s]; ok {
		return idx
	}
	idx := StringIndex(h.buf.Len())
	h.buf.WriteBytes([]byte(s))
	h.buf.WriteUint8(0)
	h.index[s] = idx
	return idx
}

// Bytes returns the heap contents.
func (h *StringHeapBuffer) Bytes() []byte { return h.buf.Bytes() }

// Len returns the heap size.
func (h *StringHeapBuffer) Len() int { return h.buf.Len() }

// BlobHeapBuffer accumulates the #Blob heap, sharing identical blobs by hash.
type BlobHeapBuffer struct {
	buf   *buffer.Buffer
	index map[uint64][]BlobIndex
}

// NewBlobHeapBuffer creates a heap holding only the empty blob.
func NewBlobHeapBuffer() *BlobHeapBuffer {
	h := &BlobHeapBuffer{buf: buffer.NewWriter(1024), index: make(map[uint64][]BlobIndex)}
	h.buf.WriteUint8(0)
	return h
}

// Add interns blob and returns its index. The empty blob is index 0.
func (h *BlobHeapBuffer) Add(blob []byte) (BlobIndex, error) {
	if len(blob) == 0 {
		return 0, nil
	}
	sum := xxhash.Sum64(blob)
	for _, idx := range h.index[sum] {
		if existing, err := NewBlobHeap(h.buf.Bytes()).Get(idx); err == nil && bytes.Equal(existing, blob) {
			return idx, nil
		}
	}
	idx := BlobIndex(h.buf.Len())
	if err := h.buf.WriteCompressedUint32(uint32(len(blob))); err != nil {
		return 0, errors.New(errors.PhaseWrite, errors.KindOverflow).
			Detail("blob of %d bytes", len(blob)).
			Cause(err).
			Build()
	}
	h.buf.WriteBytes(blob)
	h.index[sum] = append(h.index[sum], idx)
	return idx, nil
}

// Bytes returns the heap contents.
func (h *BlobHeapBuffer) Bytes() []byte { return h.buf.Bytes() }

// Len returns the heap size.
func (h *BlobHeapBuffer) Len() int { return h.buf.Len() }

// GUIDHeapBuffer accumulates the #GUID heap.
type GUIDHeapBuffer struct {
	buf   *buffer.Buffer
	index map[[16]byte]GUIDIndex
}

// NewGUIDHeapBuffer creates an empty GUID heap.
func NewGUIDHeapBuffer() *GUIDHeapBuffer {
	return &GUIDHeapBuffer{buf: buffer.NewWriter(64), index: make(map[[16]byte]GUIDIndex)}
}

// Add interns g and returns its 1-based index. The zero GUID is index 0.
func (h *GUIDHeapBuffer) Add(g [16]byte) GUIDIndex {
	if g == [16]byte{} {
		return 0
	}
	if idx, ok := h.index[g]; ok {
		return idx
	}
	h.buf.WriteBytes(g[:])
	idx := GUIDIndex(h.buf.Len() / 16)
	h.index[g] = idx
	return idx
}

// Bytes returns the heap contents.
func (h *GUIDHeapBuffer) Bytes() []byte { return h.buf.Bytes() }

// Len returns the heap size.
func (h *GUIDHeapBuffer) Len() int { return h.buf.Len() }

// UserStringHeapBuffer accumulates the #US heap. A buffer seeded from an
// existing heap keeps every original offset, so ldstr tokens in copied method
// bodies stay valid.
type UserStringHeapBuffer struct {
	buf   *buffer.Buffer
	index map[string]uint32
}

// NewUserStringHeapBuffer creates a heap starting with seed, or with the
// single empty entry when seed is empty.
func NewUserStringHeapBuffer(seed []byte) *UserStringHeapBuffer {
	h := &UserStringHeapBuffer{buf: buffer.NewWriter(len(seed) + 256), index: make(map[string]uint32)}
	if len(seed) == 0 {
		h.buf.WriteUint8(0)
		return h
	}
	h.buf.WriteBytes(seed)

	heap := NewUserStringHeap(seed)
	b := buffer.New(seed)
	_ = b.SetPosition(1)
	for b.Remaining() > 0 {
		off := uint32(b.Position())
		n, err := b.ReadCompressedUint32()
		if err != nil || n == 0 {
			break
		}
		if err := b.Advance(int(n)); err != nil {
			break
		}
		if s, err := heap.Get(off); err == nil {
			if _, seen := h.index[s]; !seen {
				h.index[s] = off
			}
		}
	}
	return h
}

// Add interns s and returns its heap offset.
func (h *UserStringHeapBuffer) Add(s string) (uint32, error) {
	if off, ok := h.index[s]; ok {
		return off, nil
	}
	off := uint32(h.buf.Len())
	if off > maxHeapOffset {
		return 0, errors.New(errors.PhaseWrite, errors.KindOverflow).
			Detail("#US heap exceeds 0x%x bytes", maxHeapOffset).
			Build()
	}
	units := utf16.Encode([]rune(s))
	if err := h.buf.WriteCompressedUint32(uint32(len(units)*2 + 1)); err != nil {
		return 0, errors.New(errors.PhaseWrite, errors.KindOverflow).
			Detail("user string of %d code units", len(units)).
			Cause(err).
			Build()
	}
	var special byte
	for _, u := range units {
		h.buf.WriteUint16(u)
		if special == 0 && needsSpecialHandling(u) {
			special = 1
		}
	}
	h.buf.WriteUint8(special)
	h.index[s] = off
	return off, nil
}

// needsSpecialHandling implements the trailing-byte rule of ECMA-335 II.24.2.4.
func needsSpecialHandling(u uint16) bool {
	switch {
	case u > 0xFF, u == 0x7F:
		return true
	case u >= 0x01 && u <= 0x08, u >= 0x0E && u <= 0x1F:
		return true
	case u == 0x27, u == 0x2D:
		return true
	}
	return false
}

// Bytes returns the heap contents.
func (h *UserStringHeapBuffer) Bytes() []byte { return h.buf.Bytes() }

// Len returns the heap size.
func (h *UserStringHeapBuffer) Len() int { return h.buf.Len() }
