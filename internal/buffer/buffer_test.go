package buffer

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	b := New(data)

	for i, want := range data {
		if b.Position() != i {
			t.Errorf("position before read %d: got %d, want %d", i, b.Position(), i)
		}
		v, err := b.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if v != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, v, want)
		}
	}

	_, err := b.ReadByte()
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestReadFixedWidth(t *testing.T) {
	data := []byte{
		0x34, 0x12,
		0x78, 0x56, 0x34, 0x12,
		0xEF, 0xCD, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01,
		0xFF, 0xFF,
	}
	b := New(data)

	u16, err := b.ReadUint16()
	if err != nil || u16 != 0x1234 {
		t.Fatalf("ReadUint16 = 0x%x, %v", u16, err)
	}
	u32, err := b.ReadUint32()
	if err != nil || u32 != 0x12345678 {
		t.Fatalf("ReadUint32 = 0x%x, %v", u32, err)
	}
	u64, err := b.ReadUint64()
	if err != nil || u64 != 0x0123456789ABCDEF {
		t.Fatalf("ReadUint64 = 0x%x, %v", u64, err)
	}
	i16, err := b.ReadInt16()
	if err != nil || i16 != -1 {
		t.Fatalf("ReadInt16 = %d, %v", i16, err)
	}
	if b.Remaining() != 0 {
		t.Errorf("remaining = %d", b.Remaining())
	}
}

func TestReadTruncatedDoesNotAdvance(t *testing.T) {
	b := New([]byte{0x01, 0x02, 0x03})
	if _, err := b.ReadUint32(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if b.Position() != 0 {
		t.Errorf("position moved to %d", b.Position())
	}
	if _, err := b.ReadBytes(4); !errors.Is(err, ErrTruncated) {
		t.Errorf("ReadBytes: expected ErrTruncated, got %v", err)
	}
	if err := b.Advance(10); !errors.Is(err, ErrTruncated) {
		t.Errorf("Advance: expected ErrTruncated, got %v", err)
	}
	if err := b.SetPosition(4); !errors.Is(err, ErrTruncated) {
		t.Errorf("SetPosition: expected ErrTruncated, got %v", err)
	}
}

func TestReadCompressedUint32(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    uint32
	}{
		{[]byte{0x03}, 0x03},
		{[]byte{0x7F}, 0x7F},
		{[]byte{0x80, 0x80}, 0x80},
		{[]byte{0xAE, 0x57}, 0x2E57},
		{[]byte{0xBF, 0xFF}, 0x3FFF},
		{[]byte{0xC0, 0x00, 0x40, 0x00}, 0x4000},
		{[]byte{0xDF, 0xFF, 0xFF, 0xFF}, 0x1FFFFFFF},
	}

	for _, tt := range tests {
		got, err := New(tt.encoded).ReadCompressedUint32()
		if err != nil {
			t.Errorf("ReadCompressedUint32(%x): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadCompressedUint32(%x): got 0x%x, want 0x%x", tt.encoded, got, tt.want)
		}
	}
}

func TestReadCompressedUint32Invalid(t *testing.T) {
	if _, err := New([]byte{0xE0}).ReadCompressedUint32(); !errors.Is(err, ErrInvalidCompressed) {
		t.Errorf("expected ErrInvalidCompressed, got %v", err)
	}
	if _, err := New([]byte{0xC0, 0x00}).ReadCompressedUint32(); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestReadCompressedInt32(t *testing.T) {
	// Examples from ECMA-335 II.23.2.
	tests := []struct {
		encoded []byte
		want    int32
	}{
		{[]byte{0x06}, 3},
		{[]byte{0x7B}, -3},
		{[]byte{0x80, 0x80}, 64},
		{[]byte{0x01}, -64},
		{[]byte{0xC0, 0x00, 0x40, 0x00}, 8192},
		{[]byte{0x80, 0x01}, -8192},
		{[]byte{0xDF, 0xFF, 0xFF, 0xFE}, 268435455},
		{[]byte{0xC0, 0x00, 0x00, 0x01}, -268435456},
	}

	for _, tt := range tests {
		got, err := New(tt.encoded).ReadCompressedInt32()
		if err != nil {
			t.Errorf("ReadCompressedInt32(%x): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadCompressedInt32(%x): got %d, want %d", tt.encoded, got, tt.want)
		}
	}
}

func TestCompressedUint32RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x12345, 0xFFFFFF, MaxCompressedUint32}
	for v := uint32(0); v < 0x5000; v++ {
		values = append(values, v)
	}
	for v := uint32(0x4000); v <= MaxCompressedUint32; v += 0x3FF1 {
		values = append(values, v)
	}

	for _, v := range values {
		w := NewWriter(4)
		if err := w.WriteCompressedUint32(v); err != nil {
			t.Fatalf("WriteCompressedUint32(0x%x): %v", v, err)
		}
		if w.Len() != CompressedUint32Size(v) {
			t.Errorf("size of 0x%x: wrote %d, want %d", v, w.Len(), CompressedUint32Size(v))
		}
		got, err := New(w.Bytes()).ReadCompressedUint32()
		if err != nil {
			t.Fatalf("ReadCompressedUint32(0x%x): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip 0x%x: got 0x%x", v, got)
		}
	}

	if err := NewWriter(4).WriteCompressedUint32(MaxCompressedUint32 + 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestCompressedInt32RoundTrip(t *testing.T) {
	boundaries := []struct {
		v    int32
		size int
	}{
		{0, 1}, {0x3F, 1}, {-0x40, 1},
		{0x40, 2}, {-0x41, 2}, {0x1FFF, 2}, {-0x2000, 2},
		{0x2000, 4}, {-0x2001, 4}, {MaxCompressedInt32, 4}, {MinCompressedInt32, 4},
	}
	for _, tt := range boundaries {
		w := NewWriter(4)
		if err := w.WriteCompressedInt32(tt.v); err != nil {
			t.Fatalf("WriteCompressedInt32(%d): %v", tt.v, err)
		}
		if w.Len() != tt.size {
			t.Errorf("WriteCompressedInt32(%d): %d bytes, want %d", tt.v, w.Len(), tt.size)
		}
	}

	for v := int64(MinCompressedInt32); v <= MaxCompressedInt32; v += 0x1FF7 {
		checkSignedRoundTrip(t, int32(v))
	}
	for v := int32(-0x4100); v <= 0x4100; v++ {
		checkSignedRoundTrip(t, v)
	}
	for _, v := range []int32{MinCompressedInt32, MaxCompressedInt32, -0x10000, 0x10000} {
		checkSignedRoundTrip(t, v)
	}

	for _, v := range []int32{MaxCompressedInt32 + 1, MinCompressedInt32 - 1} {
		if err := NewWriter(4).WriteCompressedInt32(v); !errors.Is(err, ErrOverflow) {
			t.Errorf("WriteCompressedInt32(%d): expected ErrOverflow, got %v", v, err)
		}
	}
}

func checkSignedRoundTrip(t *testing.T, v int32) {
	t.Helper()
	w := NewWriter(4)
	if err := w.WriteCompressedInt32(v); err != nil {
		t.Fatalf("WriteCompressedInt32(%d): %v", v, err)
	}
	got, err := New(w.Bytes()).ReadCompressedInt32()
	if err != nil {
		t.Fatalf("ReadCompressedInt32(%d): %v", v, err)
	}
	if got != v {
		t.Fatalf("round trip %d: got %d (bytes %x)", v, got, w.Bytes())
	}
}

func TestFloats(t *testing.T) {
	w := NewWriter(0)
	w.WriteSingle(1.5)
	w.WriteDouble(-2.25)
	w.WriteDouble(math.Inf(1))

	b := New(w.Bytes())
	if !bytes.Equal(w.Bytes()[:4], []byte{0x00, 0x00, 0xC0, 0x3F}) {
		t.Errorf("single bytes = %x", w.Bytes()[:4])
	}
	f, err := b.ReadSingle()
	if err != nil || f != 1.5 {
		t.Errorf("ReadSingle = %v, %v", f, err)
	}
	d, err := b.ReadDouble()
	if err != nil || d != -2.25 {
		t.Errorf("ReadDouble = %v, %v", d, err)
	}
	d, err = b.ReadDouble()
	if err != nil || !math.IsInf(d, 1) {
		t.Errorf("ReadDouble = %v, %v", d, err)
	}
}

func TestWriterGrowsAndAligns(t *testing.T) {
	w := NewWriter(1)
	w.WriteUint8(0xAA)
	w.WriteUint32(0x11223344)
	w.Align(8)
	if w.Len() != 8 {
		t.Fatalf("len after align = %d, want 8", w.Len())
	}
	w.WriteUint64(0x0102030405060708)
	w.WriteInt16(-2)
	w.WriteZeros(3)
	w.WriteBytes([]byte("abc"))

	want := []byte{
		0xAA, 0x44, 0x33, 0x22, 0x11, 0, 0, 0,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0xFE, 0xFF, 0, 0, 0, 'a', 'b', 'c',
	}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("bytes = %x\nwant    %x", w.Bytes(), want)
	}

	w.PatchUint32(1, 0xDEADBEEF)
	if got, _ := New(w.Bytes()[1:]).ReadUint32(); got != 0xDEADBEEF {
		t.Errorf("patched = 0x%x", got)
	}
	if w.Position() != len(want) {
		t.Errorf("patch moved cursor to %d", w.Position())
	}
}

func TestOverwriteInsideWriter(t *testing.T) {
	w := NewWriter(0)
	w.WriteZeros(8)
	if err := w.SetPosition(2); err != nil {
		t.Fatal(err)
	}
	w.WriteUint16(0xBEEF)
	if w.Len() != 8 {
		t.Errorf("len = %d, want 8", w.Len())
	}
	if !bytes.Equal(w.Bytes()[2:4], []byte{0xEF, 0xBE}) {
		t.Errorf("bytes = %x", w.Bytes())
	}
}
