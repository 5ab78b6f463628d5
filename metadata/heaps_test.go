package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/errors"
)

func TestStringHeap(t *testing.T) {
	w := NewStringHeapBuffer()
	a := w.Add("System")
	b := w.Add("Object")
	require.Equal(t, a, w.Add("System"), "identical strings share an index")
	require.Zero(t, w.Add(""))

	h := NewStringHeap(w.Bytes())
	s, err := h.Get(a)
	require.NoError(t, err)
	require.Equal(t, "System", s)
	s, err = h.Get(b)
	require.NoError(t, err)
	require.Equal(t, "Object", s)

	_, err = h.Get(StringIndex(h.Len() + 3))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseHeap, Kind: errors.KindOutOfBounds})

	_, err = NewStringHeap([]byte{0, 'a', 'b'}).Get(1)
	require.ErrorIs(t, err, errors.ErrTruncated)
}

func TestBlobHeap(t *testing.T) {
	w := NewBlobHeapBuffer()
	small := []byte{0x06, 0x08}
	large := make([]byte, 300)
	for i := range large {
		large[i] = byte(i)
	}

	i1, err := w.Add(small)
	require.NoError(t, err)
	i2, err := w.Add(large)
	require.NoError(t, err)
	i3, err := w.Add([]byte{0x06, 0x08})
	require.NoError(t, err)
	require.Equal(t, i1, i3)

	empty, err := w.Add(nil)
	require.NoError(t, err)
	require.Zero(t, empty)

	h := NewBlobHeap(w.Bytes())
	got, err := h.Get(i1)
	require.NoError(t, err)
	require.Equal(t, small, got)
	got, err = h.Get(i2)
	require.NoError(t, err)
	require.Equal(t, large, got)

	_, err = NewBlobHeap([]byte{0, 0x05, 1, 2}).Get(1)
	require.ErrorIs(t, err, errors.ErrTruncated)
}

func TestGUIDHeap(t *testing.T) {
	w := NewGUIDHeapBuffer()
	g1 := [16]byte{1, 2, 3}
	g2 := [16]byte{0xFF}
	require.Equal(t, GUIDIndex(1), w.Add(g1))
	require.Equal(t, GUIDIndex(2), w.Add(g2))
	require.Equal(t, GUIDIndex(1), w.Add(g1))
	require.Zero(t, w.Add([16]byte{}))

	h := NewGUIDHeap(w.Bytes())
	got, err := h.Get(2)
	require.NoError(t, err)
	require.Equal(t, g2, got)

	_, err = h.Get(3)
	require.Error(t, err)
}

func TestUserStringHeap(t *testing.T) {
	w := NewUserStringHeapBuffer(nil)
	hello, err := w.Add("hello")
	require.NoError(t, err)
	require.Equal(t, uint32(1), hello)
	accented, err := w.Add("café \U0001F600")
	require.NoError(t, err)

	raw := w.Bytes()
	// 5 code units: length 11, then "hello", then a zero flag byte.
	require.Equal(t, byte(11), raw[1])
	require.Equal(t, byte(0), raw[1+11])
	require.Equal(t, byte(1), raw[int(accented)+int(raw[accented])], "non-ASCII sets the trailing flag")

	h := NewUserStringHeap(raw)
	s, err := h.Get(hello)
	require.NoError(t, err)
	require.Equal(t, "hello", s)
	s, err = h.Get(accented)
	require.NoError(t, err)
	require.Equal(t, "café \U0001F600", s)
}

func TestUserStringHeapSeedKeepsOffsets(t *testing.T) {
	first := NewUserStringHeapBuffer(nil)
	a, err := first.Add("alpha")
	require.NoError(t, err)
	b, err := first.Add("beta")
	require.NoError(t, err)

	seeded := NewUserStringHeapBuffer(first.Bytes())
	again, err := seeded.Add("beta")
	require.NoError(t, err)
	require.Equal(t, b, again)

	c, err := seeded.Add("gamma")
	require.NoError(t, err)
	require.Equal(t, uint32(len(first.Bytes())), c)

	h := NewUserStringHeap(seeded.Bytes())
	for off, want := range map[uint32]string{a: "alpha", b: "beta", c: "gamma"} {
		s, err := h.Get(off)
		require.NoError(t, err)
		require.Equal(t, want, s)
	}
}
