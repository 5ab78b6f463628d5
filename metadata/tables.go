package metadata

import (
	"encoding/binary"
	"math/bits"

	"github.com/wippyai/cli-metadata/errors"
	"github.com/wippyai/cli-metadata/internal/buffer"
)

// Tables is a decoded table stream header with access to raw row data.
// Rows are decoded on demand; nothing beyond the header is parsed up front.
type Tables struct {
	Layout       *Layout
	data         []byte
	offsets      [TableCount]int
	Valid        uint64
	Sorted       uint64
	Reserved     uint32
	MajorVersion uint8
	MinorVersion uint8
	Uncompressed bool // #- stream: may contain pointer tables
}

// ReadTables parses a #~ or #- stream. The row data is not copied.
func ReadTables(data []byte, uncompressed bool) (*Tables, error) {
	b := buffer.New(data)
	t := &Tables{data: data, Uncompressed: uncompressed}

	var err error
	if t.Reserved, err = b.ReadUint32(); err != nil {
		return nil, truncatedHeader(err, b)
	}
	if t.MajorVersion, err = b.ReadByte(); err != nil {
		return nil, truncatedHeader(err, b)
	}
	if t.MinorVersion, err = b.ReadByte(); err != nil {
		return nil, truncatedHeader(err, b)
	}
	heaps, err := b.ReadByte()
	if err != nil {
		return nil, truncatedHeader(err, b)
	}
	if _, err = b.ReadByte(); err != nil {
		return nil, truncatedHeader(err, b)
	}
	if t.Valid, err = b.ReadUint64(); err != nil {
		return nil, truncatedHeader(err, b)
	}
	if t.Sorted, err = b.ReadUint64(); err != nil {
		return nil, truncatedHeader(err, b)
	}

	if t.Valid>>TableCount != 0 {
		return nil, errors.Malformed(errors.PhaseTables,
			"valid mask 0x%016x names undefined tables", t.Valid)
	}

	var rows [TableCount]uint32
	for tbl := range Table(TableCount) {
		if t.Valid&(1<<tbl) == 0 {
			continue
		}
		if rows[tbl], err = b.ReadUint32(); err != nil {
			return nil, truncatedHeader(err, b)
		}
		if rows[tbl] > 0x00FFFFFF {
			return nil, errors.New(errors.PhaseTables, errors.KindOverflow).
				Table(tbl.String()).
				Detail("row count %d exceeds token range", rows[tbl]).
				Build()
		}
	}

	if HeapSizes(heaps)&HeapExtraData != 0 {
		if err := b.Advance(4); err != nil {
			return nil, truncatedHeader(err, b)
		}
	}

	t.Layout = NewLayout(rows, HeapSizes(heaps))

	off := b.Position()
	for tbl := range Table(TableCount) {
		t.offsets[tbl] = off
		off += t.Layout.TableSize(tbl)
	}
	if off > len(data) {
		return nil, errors.Truncated(errors.PhaseTables, int64(len(data)), off, len(data))
	}
	return t, nil
}

func truncatedHeader(err error, b *buffer.Buffer) error {
	return errors.New(errors.PhaseTables, errors.KindTruncated).
		Offset(int64(b.Position())).
		Detail("table stream header").
		Cause(err).
		Build()
}

// RowCount returns the number of rows in t.
func (t *Tables) RowCount(tbl Table) uint32 {
	if !tbl.Valid() {
		return 0
	}
	return t.Layout.Rows[tbl]
}

// Present returns the tables with a nonzero row count in id order.
func (t *Tables) Present() []Table {
	out := make([]Table, 0, bits.OnesCount64(t.Valid))
	for tbl := range Table(TableCount) {
		if t.Layout.Rows[tbl] > 0 {
			out = append(out, tbl)
		}
	}
	return out
}

// IsSorted reports whether the header marks tbl as sorted.
func (t *Tables) IsSorted(tbl Table) bool {
	return t.Sorted&(1<<tbl) != 0
}

// HasPointerTables reports whether any indirection table is populated.
func (t *Tables) HasPointerTables() bool {
	for _, p := range []Table{TableFieldPtr, TableMethodPtr, TableParamPtr, TableEventPtr, TablePropertyPtr} {
		if t.Layout.Rows[p] > 0 {
			return true
		}
	}
	return false
}

func (t *Tables) rowBytes(tbl Table, rid uint32) ([]byte, error) {
	if !tbl.Valid() {
		return nil, errors.Malformed(errors.PhaseTables, "undefined table 0x%02x", uint8(tbl))
	}
	rows := t.Layout.Rows[tbl]
	if rid == 0 || rid > rows {
		return nil, errors.RowOutOfRange(tbl.String(), rid, rows)
	}
	size := t.Layout.rowSize[tbl]
	start := t.offsets[tbl] + int(rid-1)*size
	return t.data[start : start+size], nil
}

// Row decodes the raw column values of row rid of tbl. Coded indices are left
// encoded; use the typed accessors for decoded tokens.
func (t *Tables) Row(tbl Table, rid uint32) (Row, error) {
	raw, err := t.rowBytes(tbl, rid)
	if err != nil {
		return nil, err
	}
	sizes := t.Layout.colSize[tbl]
	row := make(Row, len(sizes))
	off := 0
	for i, n := range sizes {
		row[i] = readColumn(raw[off:], n)
		off += n
	}
	return row, nil
}

// Column decodes a single column of row rid of tbl.
func (t *Tables) Column(tbl Table, rid uint32, col int) (uint32, error) {
	raw, err := t.rowBytes(tbl, rid)
	if err != nil {
		return 0, err
	}
	off := t.Layout.colOff[tbl][col]
	return readColumn(raw[off:], t.Layout.colSize[tbl][col]), nil
}

func readColumn(b []byte, n int) uint32 {
	switch n {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	default:
		return binary.LittleEndian.Uint32(b)
	}
}

// Row is the raw column values of one table row.
type Row []uint32
